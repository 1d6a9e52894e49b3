//go:build linux || darwin

package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"golang.org/x/sys/unix"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := newApp(&out, &errOut).Run(ctx, append([]string{"evwatch"}, args...))
	if errOut.Len() != 0 {
		t.Logf("stderr:\n%s", errOut.String())
	}
	return out.String(), err
}

func TestTick(t *testing.T) {
	out, err := runApp(t, "--stats", "tick", "--interval", "5ms", "--count", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "tick 1 drift")
	assert.Contains(t, out, "tick 3 drift")
	assert.NotContains(t, out, "tick 4")
	assert.Contains(t, out, "Loop statistics")
	assert.Contains(t, out, "Iterations")
}

func TestTick_InvalidInterval(t *testing.T) {
	_, err := runApp(t, "tick", "--interval", "0s")
	assert.ErrorContains(t, err, "invalid interval")
}

func TestBenchAsync(t *testing.T) {
	out, err := runApp(t, "bench-async", "--sends", "20", "--senders", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Async round trips")
	assert.Contains(t, out, "P99")
}

func TestStat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched")

	var out, errOut bytes.Buffer
	app := newApp(&out, &errOut)
	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, []byte("hello"), 0o644)
	}()

	err := app.Run(ctx, []string{"evwatch", "stat", "--interval", "100ms", path})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2, out.String())
	assert.Equal(t, path+": does not exist", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], path+": created, "), lines[1])
	assert.Contains(t, lines[1], "5 B")
}

func TestStat_RequiresPath(t *testing.T) {
	_, err := runApp(t, "stat")
	assert.ErrorContains(t, err, "at least one path")
}

func TestSignals(t *testing.T) {
	// keeps SIGUSR1 from terminating the process before the watcher starts
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGUSR1)
	defer signal.Stop(ch)

	var out, errOut bytes.Buffer
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- newApp(&out, &errOut).Run(ctx, []string{"evwatch", "signals", "--count", "1", "usr1"})
	}()

	// out is only read after the command returns
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Contains(t, out.String(), "received SIGUSR1")
			return
		case <-tick.C:
			require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
		case <-deadline:
			t.Fatal("signals did not return")
		}
	}
}

func TestParseSignal(t *testing.T) {
	for in, want := range map[string]unix.Signal{
		"HUP":     unix.SIGHUP,
		"sigusr2": unix.SIGUSR2,
		"SIGTERM": unix.SIGTERM,
		"9":       unix.SIGKILL,
	} {
		sig, err := parseSignal(in)
		if assert.NoError(t, err, in) {
			assert.Equal(t, want, sig, in)
		}
	}
	for _, in := range []string{"NOPE", "0", "-1"} {
		_, err := parseSignal(in)
		assert.Error(t, err, in)
	}
}

func TestMetricsHandler(t *testing.T) {
	var s *session
	cmd := &cli.Command{
		Name:  "evwatch",
		Flags: []cli.Flag{&cli.BoolFlag{Name: statsKey}},
		Action: func(_ context.Context, cmd *cli.Command) error {
			var err error
			s, err = (&app{out: io.Discard, errOut: io.Discard}).newSession(cmd)
			return err
		},
	}
	require.NoError(t, cmd.Run(context.Background(), []string{"evwatch", "--stats"}))
	defer s.close()

	srv := httptest.NewServer(s.metricsHandler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "evloop_iterations_total 0")
	assert.Contains(t, string(body), "evloop_active_watchers 2")
}
