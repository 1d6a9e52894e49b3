//go:build linux || darwin

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joeycumines/go-evloop"
	"github.com/joeycumines/go-evloop/evprom"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
)

// session is one command's loop, along with its logger and metrics server.
type session struct {
	cfg    *config
	logger *logiface.Logger[logiface.Event]
	loop   *evloop.Loop
	out    io.Writer
	server *http.Server
}

func newLogger(level logiface.Level, w io.Writer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func (a *app) newSession(cmd *cli.Command) (*session, error) {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return nil, err
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := newLogger(level, a.errOut)

	loop, err := evloop.New(cfg.loopOptions(logger)...)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, loop: loop, out: a.out}

	// interrupts end the run, without themselves keeping the loop alive
	for _, sig := range []os.Signal{syscall.SIGINT, syscall.SIGTERM} {
		w, err := evloop.NewSignal(loop, sig, s.interrupted)
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			s.close()
			return nil, err
		}
		loop.Unref()
	}

	if cfg.MetricsAddr != "" {
		if err := s.serveMetrics(cfg.MetricsAddr); err != nil {
			s.close()
			return nil, err
		}
	}

	return s, nil
}

func (s *session) interrupted(w *evloop.Signal, _ evloop.Event) {
	s.logger.Notice().Str(`signal`, w.Signal().String()).Log(`interrupted`)
	s.loop.Break(evloop.BreakAll)
}

// metricsHandler serves the loop's metrics in the Prometheus text format.
func (s *session) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(evprom.NewCollector(s.loop))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func (s *session) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.server = &http.Server{Handler: s.metricsHandler(), ReadHeaderTimeout: 5 * time.Second}
	s.logger.Info().Str(`addr`, ln.Addr().String()).Log(`serving metrics`)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Err().Err(err).Log(`metrics server failed`)
		}
	}()
	return nil
}

// run runs the loop until it has nothing left to do, or is interrupted.
func (s *session) run(ctx context.Context) error {
	defer s.close()
	err := s.loop.Run(ctx)
	if s.cfg.Stats {
		s.printStats()
	}
	return err
}

func (s *session) close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.server.Shutdown(ctx)
		cancel()
		s.server = nil
	}
	for _, w := range s.loop.Watchers() {
		if err := w.Stop(); err != nil {
			s.logger.Warning().Err(err).Log(`failed to stop watcher`)
		}
	}
	if err := s.loop.Close(); err != nil && !errors.Is(err, evloop.ErrLoopClosed) {
		s.logger.Err().Err(err).Log(`failed to close loop`)
	}
}

func (s *session) printStats() {
	m := s.loop.Metrics()
	if m == nil {
		return
	}
	t := table.NewWriter()
	t.SetTitle("Loop statistics (%s backend)", s.loop.Backend())
	t.SetOutputMirror(s.out)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Iterations", humanize.Comma(int64(m.Iterations))},
		{"Callbacks", humanize.Comma(int64(m.Dispatched))},
		{"Callback errors", humanize.Comma(int64(m.CallbackErrors))},
		{"Wakeups", humanize.Comma(int64(m.Wakeups))},
		{"Poll interrupts", humanize.Comma(int64(m.Interrupts))},
		{"Pending (max)", m.Pending.Max},
		{"Pending (avg)", fmt.Sprintf("%.2f", m.Pending.Avg)},
		{"Callback p50", m.Latency.P50},
		{"Callback p99", m.Latency.P99},
		{"Callback max", m.Latency.Max},
	})
	t.Render()
}
