//go:build linux || darwin

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-evloop"
	"github.com/urfave/cli/v3"
)

func (a *app) tickCommand() *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "print a line every interval, with the drift from the schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "time between ticks",
				Value: time.Second,
			},
			&cli.UintFlag{
				Name:  "count",
				Usage: "stop after this many ticks (0 runs until interrupted)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			interval := cmd.Duration("interval")
			if interval <= 0 {
				return fmt.Errorf("tick: invalid interval %v", interval)
			}
			count := cmd.Uint("count")

			s, err := a.newSession(cmd)
			if err != nil {
				return err
			}

			start := s.loop.Now()
			var n uint64
			timer := evloop.NewTimer(s.loop, interval, interval, func(w *evloop.Timer, _ evloop.Event) {
				n++
				scheduled := start.Add(time.Duration(n) * interval)
				fmt.Fprintf(s.out, "tick %d drift %v\n", n, w.Loop().Now().Sub(scheduled))
				if count != 0 && n >= uint64(count) {
					_ = w.Stop()
				}
			})
			if err := timer.Start(); err != nil {
				s.close()
				return err
			}
			return s.run(ctx)
		},
	}
}
