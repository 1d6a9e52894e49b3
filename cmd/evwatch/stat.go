//go:build linux || darwin

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/joeycumines/go-evloop"
	"github.com/urfave/cli/v3"
)

func (a *app) statCommand() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "report changes to the attributes of files",
		ArgsUsage: "PATH...",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "polling interval (0 selects the default)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return errors.New("stat: at least one path is required")
			}
			s, err := a.newSession(cmd)
			if err != nil {
				return err
			}
			for _, path := range paths {
				w, err := evloop.NewStat(s.loop, path, cmd.Duration("interval"), func(w *evloop.Stat, _ evloop.Event) {
					fmt.Fprintf(s.out, "%s: %s\n", w.Path(), describeChange(w.Prev(), w.Attr()))
				})
				if err == nil {
					err = w.Start()
				}
				if err != nil {
					s.close()
					return err
				}
				fmt.Fprintf(s.out, "%s: %s\n", path, describeAttr(w.Attr()))
			}
			return s.run(ctx)
		},
	}
}

func describeAttr(attr evloop.Statdata) string {
	if !attr.Exists() {
		return "does not exist"
	}
	return fmt.Sprintf("%s, %s, modified %s", attr.Mode, humanize.IBytes(uint64(attr.Size)), humanize.Time(attr.Mtime))
}

func describeChange(prev, attr evloop.Statdata) string {
	switch {
	case !attr.Exists():
		return "removed"
	case !prev.Exists():
		return "created, " + describeAttr(attr)
	case prev.Size != attr.Size:
		return fmt.Sprintf("resized from %s to %s", humanize.IBytes(uint64(prev.Size)), humanize.IBytes(uint64(attr.Size)))
	case prev.Mode != attr.Mode:
		return fmt.Sprintf("mode changed from %s to %s", prev.Mode, attr.Mode)
	case !prev.Mtime.Equal(attr.Mtime):
		return fmt.Sprintf("modified %s", humanize.RelTime(prev.Mtime, attr.Mtime, "later", "earlier"))
	default:
		return "changed, " + describeAttr(attr)
	}
}
