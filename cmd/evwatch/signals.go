//go:build linux || darwin

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/joeycumines/go-evloop"
	"github.com/urfave/cli/v3"
	"golang.org/x/sys/unix"
)

func (a *app) signalsCommand() *cli.Command {
	return &cli.Command{
		Name:      "signals",
		Usage:     "report the delivery of signals, until interrupted",
		ArgsUsage: "SIGNAL...",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "count",
				Usage: "stop after this many deliveries (0 runs until interrupted)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			names := cmd.Args().Slice()
			if len(names) == 0 {
				return errors.New("signals: at least one signal is required")
			}
			sigs := make([]unix.Signal, 0, len(names))
			for _, name := range names {
				sig, err := parseSignal(name)
				if err != nil {
					return err
				}
				sigs = append(sigs, sig)
			}
			count := cmd.Uint("count")

			s, err := a.newSession(cmd)
			if err != nil {
				return err
			}

			var n uint64
			for _, sig := range sigs {
				sig := sig
				w, err := evloop.NewSignal(s.loop, sig, func(w *evloop.Signal, _ evloop.Event) {
					n++
					fmt.Fprintf(s.out, "received %s (%s)\n", unix.SignalName(sig), sig)
					if count != 0 && n >= uint64(count) {
						w.Loop().Break(evloop.BreakAll)
					}
				})
				if err == nil {
					err = w.Start()
				}
				if err != nil {
					s.close()
					return err
				}
			}
			fmt.Fprintf(s.out, "waiting for %s\n", strings.Join(names, ", "))
			return s.run(ctx)
		},
	}
}

// parseSignal accepts a signal name, with or without the SIG prefix, or
// number.
func parseSignal(name string) (unix.Signal, error) {
	if num, err := strconv.Atoi(name); err == nil {
		if num <= 0 {
			return 0, fmt.Errorf("invalid signal %q", name)
		}
		return unix.Signal(num), nil
	}
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}
	if sig := unix.SignalNum(upper); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}
