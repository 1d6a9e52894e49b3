//go:build linux || darwin

// Command evwatch drives an evloop reactor from the command line: watching
// files, ticking timers, reporting signals, and measuring async wakeup
// latency.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "evwatch:", err)
		os.Exit(1)
	}
}

// app holds the output streams shared by the commands.
type app struct {
	out    io.Writer
	errOut io.Writer
}

func newApp(out, errOut io.Writer) *cli.Command {
	a := &app{out: out, errOut: errOut}
	return &cli.Command{
		Name:  "evwatch",
		Usage: "watch files, timers and signals with an evloop reactor",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  configKey,
				Usage: "config file (yaml, toml or json)",
			},
			&cli.StringFlag{
				Name:  logLevelKey,
				Usage: "log level (trace, debug, info, notice, warning, err, crit, alert, emerg, disabled)",
			},
			&cli.StringFlag{
				Name:  metricsAddrKey,
				Usage: "serve Prometheus metrics at http://ADDR/metrics",
			},
			&cli.DurationFlag{
				Name:  ioCollectKey,
				Usage: "minimum time between polls",
			},
			&cli.DurationFlag{
				Name:  timeoutCollectKey,
				Usage: "granularity poll timeouts are rounded up to",
			},
			&cli.BoolFlag{
				Name:  statsKey,
				Usage: "print loop statistics on exit",
			},
		},
		Commands: []*cli.Command{
			a.statCommand(),
			a.tickCommand(),
			a.signalsCommand(),
			a.benchAsyncCommand(),
		},
	}
}

// configFromCommand loads the configuration, with explicitly set global
// flags taking precedence.
func configFromCommand(cmd *cli.Command) (*config, error) {
	overrides := make(map[string]any)
	for _, name := range configKeys {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Value(name)
		}
	}
	return loadConfig(cmd.String(configKey), overrides)
}
