package cmd

import (
	"bufio"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/opfsx/cli/render"
	"github.com/pithecene-io/opfsx/iox"
	"github.com/pithecene-io/opfsx/snapshot"
)

// SnapshotCommand groups snapshot pull and push.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Copy OPFS trees to and from snapshot streams",
		Subcommands: []*cli.Command{
			{
				Name:      "pull",
				Usage:     "Write a tree as a snapshot stream",
				ArgsUsage: "[root]",
				Flags: append(OutputFlags(),
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "-", Usage: "Output file (- for stdout)"},
				),
				Action: pageAction(snapshotPull),
			},
			{
				Name:      "push",
				Usage:     "Restore a snapshot stream below a root",
				ArgsUsage: "[root]",
				Flags: append(OutputFlags(),
					&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Value: "-", Usage: "Input file (- for stdin)"},
				),
				Action: pageAction(snapshotPush),
			},
		},
	}
}

func snapshotPull(c *cli.Context, r *render.Renderer, s *Session) error {
	root := c.Args().First()
	out := c.String("out")

	var w io.Writer = c.App.Writer
	if out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fail(err)
		}
		defer iox.DiscardClose(f)
		w = f
	}
	bw := bufio.NewWriter(w)

	sum, err := snapshot.Pull(c.Context, s.Client, bw, snapshot.PullOptions{
		Root:   root,
		Origin: s.Origin,
		Now:    time.Now,
		Logger: s.Logger,
	})
	if err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	// The summary only goes to stdout when the stream does not.
	if out == "-" {
		s.Logger.Info("snapshot pulled", map[string]any{"entries": sum.Entries, "files": sum.Files, "bytes": sum.Bytes})
		return nil
	}
	return r.Render(sum)
}

func snapshotPush(c *cli.Context, r *render.Renderer, s *Session) error {
	in := c.String("in")
	var src io.Reader = c.App.Reader
	if in != "-" {
		f, err := os.Open(in)
		if err != nil {
			return fail(err)
		}
		defer iox.DiscardClose(f)
		src = f
	}

	header, sum, err := snapshot.Push(c.Context, s.Client, bufio.NewReader(src), snapshot.PushOptions{
		Root:   c.Args().First(),
		Logger: s.Logger,
	})
	if err != nil {
		return fail(err)
	}
	return r.Render(map[string]any{
		"source_origin": header.Origin,
		"created_at":    header.CreatedAt,
		"entries":       sum.Entries,
		"files":         sum.Files,
		"bytes":         sum.Bytes,
	})
}
