package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/opfsx/cli/tui"
)

// BrowseCommand opens the interactive browser.
func BrowseCommand() *cli.Command {
	return &cli.Command{
		Name:      "browse",
		Usage:     "Browse the OPFS tree interactively",
		ArgsUsage: "[root]",
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *Session) error {
				return fail(tui.Run(c.Context, s.Client, c.Args().First()))
			})
		},
	}
}
