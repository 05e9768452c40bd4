package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/opfsx/cli/config"
	"github.com/pithecene-io/opfsx/cli/render"
	"github.com/pithecene-io/opfsx/lode"
)

// ExportCommand copies a tree into lode storage.
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a tree with a manifest and index to a filesystem or S3 dataset",
		ArgsUsage: "[root]",
		Flags: append(OutputFlags(),
			&cli.StringFlag{Name: "dataset", Usage: "Dataset ID (default opfsx)"},
			&cli.StringFlag{Name: "backend", Usage: "Storage backend: fs or s3 (default fs)"},
			&cli.StringFlag{Name: "path", Usage: "fs: directory; s3: bucket/prefix"},
			&cli.StringFlag{Name: "region", Usage: "S3 region"},
			&cli.StringFlag{Name: "endpoint", Usage: "S3-compatible endpoint URL"},
			&cli.BoolFlag{Name: "s3-path-style", Usage: "Use path-style S3 addressing"},
		),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			exp, err := newExporter(c, s.Config.Export, s)
			if err != nil {
				return fail(err)
			}
			m, err := exp.Export(c.Context, s.Client, c.Args().First())
			if err != nil {
				return fail(err)
			}
			return r.Render(map[string]any{
				"manifest":    m.ManifestKey,
				"files":       len(m.Files),
				"directories": len(m.Directories),
				"bytes":       m.Bytes,
			})
		}),
	}
}

func newExporter(c *cli.Context, ec config.ExportConfig, s *Session) (*lode.Exporter, error) {
	cfg := lode.Config{Dataset: pick(c, "dataset", ec.Dataset), Origin: s.Origin}
	opts := lode.Options{Logger: s.Logger, Metrics: s.Metrics}
	path := pick(c, "path", ec.Path)

	switch backend := pick(c, "backend", ec.Backend); backend {
	case "", "fs":
		if path == "" {
			path = "."
		}
		return lode.NewFSExporter(cfg, path, opts)
	case "s3":
		bucket, prefix := lode.ParseS3Path(path)
		return lode.NewS3Exporter(c.Context, cfg, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       pick(c, "region", ec.Region),
			Endpoint:     pick(c, "endpoint", ec.Endpoint),
			UsePathStyle: pickBool(c, "s3-path-style", ec.S3PathStyle),
		}, opts)
	default:
		return nil, fmt.Errorf("invalid export backend %q (must be fs or s3)", backend)
	}
}
