//go:build linux || darwin

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joeycumines/go-evloop"
	"github.com/urfave/cli/v3"
)

func (a *app) benchAsyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench-async",
		Usage: "measure the latency from Async.Send to the callback",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "sends",
				Usage: "round trips per sender",
				Value: 1000,
			},
			&cli.UintFlag{
				Name:  "senders",
				Usage: "concurrent sending goroutines",
				Value: 4,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sends, senders := int(cmd.Uint("sends")), int(cmd.Uint("senders"))
			if sends <= 0 || senders <= 0 {
				return fmt.Errorf("bench-async: sends and senders must be positive")
			}

			s, err := a.newSession(cmd)
			if err != nil {
				return err
			}

			result, err := benchAsync(ctx, s, sends, senders)
			if err != nil {
				return err
			}

			calc := result.Calc()
			tbl := table.NewWriter()
			tbl.SetTitle("Async round trips (%s backend)", s.loop.Backend())
			tbl.SetOutputMirror(s.out)
			tbl.AppendHeader(table.Row{"senders", "sends", "avg", "min", "p50", "p75", "p99", "max", "rate"})
			tbl.AppendRows([]table.Row{{
				senders,
				humanize.Comma(int64(calc.Count)),
				calc.Time.Avg,
				calc.Time.Min,
				calc.Time.P50,
				calc.Time.P75,
				calc.Time.P99,
				calc.Time.Max,
				humanize.CommafWithDigits(calc.Rate.Second, 1) + "/s",
			}})
			tbl.Render()
			return nil
		},
	}
}

// benchAsync runs senders goroutines, each performing sends round trips
// through its own Async watcher, and returns the latency samples.
func benchAsync(ctx context.Context, s *session, sends, senders int) (*tachymeter.Tachymeter, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel() // releases senders if the run was interrupted

	tach := tachymeter.New(&tachymeter.Config{Size: sends * senders})

	watchers := make([]*evloop.Async, senders)
	acks := make([]chan struct{}, senders)
	for i := range watchers {
		ack := make(chan struct{}, 1)
		acks[i] = ack
		watchers[i] = evloop.NewAsync(s.loop, func(*evloop.Async, evloop.Event) {
			ack <- struct{}{}
		})
	}

	done := evloop.NewAsync(s.loop, func(w *evloop.Async, _ evloop.Event) {
		for _, a := range watchers {
			_ = a.Stop()
		}
		_ = w.Stop()
	})

	for _, w := range append(watchers, done) {
		if err := w.Start(); err != nil {
			s.close()
			return nil, err
		}
	}

	var wg sync.WaitGroup
	for i, w := range watchers {
		i, w := i, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < sends; j++ {
				start := time.Now()
				w.Send()
				select {
				case <-acks[i]:
				case <-ctx.Done():
					return
				}
				tach.AddTime(time.Since(start))
			}
		}()
	}
	go func() {
		wg.Wait()
		done.Send()
	}()

	if err := s.run(ctx); err != nil {
		return nil, err
	}
	return tach, nil
}
