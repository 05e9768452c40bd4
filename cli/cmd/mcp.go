package cmd

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/opfsx/mcptools"
	"github.com/pithecene-io/opfsx/types"
)

// MCPCommand serves the OPFS tools over MCP on stdio.
func MCPCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve OPFS operations as MCP tools on stdin/stdout",
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *Session) error {
				s.Logger.Info("mcp server starting", nil)
				return fail(mcptools.NewServer(s.Client, types.Version).Run(c.Context, &mcp.StdioTransport{}))
			})
		},
	}
}
