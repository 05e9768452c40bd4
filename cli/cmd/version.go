package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/opfsx/cli/render"
	"github.com/pithecene-io/opfsx/types"
)

// VersionResponse is printed by the version command.
type VersionResponse struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	SnapshotVersion string `json:"snapshot_version"`
}

// VersionCommand prints version information. It never contacts a page.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: OutputFlags(),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			return r.Render(VersionResponse{
				Version:         types.Version,
				Commit:          commit,
				SnapshotVersion: types.SnapshotVersion,
			})
		},
	}
}
