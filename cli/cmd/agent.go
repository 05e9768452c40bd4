package cmd

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/opfsx/host/agent"
	"github.com/pithecene-io/opfsx/types"
)

// AgentCommand groups agent helpers.
func AgentCommand() *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "In-page agent helpers",
		Subcommands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the agent script and socket until interrupted",
				Action: agentServe,
			},
			{
				Name:  "script",
				Usage: "Print the agent script",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprint(c.App.Writer, agent.Script())
					return err
				},
			},
		},
	}
}

func agentServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	logger, err := newLogger(c, cfg, &types.SessionMeta{SessionID: uuid.NewString(), Host: types.HostAgent})
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer logger.Sync()

	addr := pick(c, "listen", cfg.Agent.Listen)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return cli.Exit(fmt.Sprintf("agent: listen %s: %v", addr, err), exitFailure)
	}
	h := agent.New(agent.Config{OriginPatterns: cfg.Agent.OriginPatterns, Logger: logger})
	printAgentHint(c.App.ErrWriter, ln.Addr().String())
	logger.Info("agent serving", map[string]any{"addr": ln.Addr().String()})
	return fail(h.Serve(c.Context, ln))
}
