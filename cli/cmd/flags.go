// Package cmd provides the opfsx commands.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Exit codes.
const (
	exitFailure = 1
	// exitAbsent is returned by `exists` when the entry is missing.
	exitAbsent = 2
)

// GlobalFlags are accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to opfsx.yaml (default ./opfsx.yaml when present)"},
		&cli.StringFlag{Name: "host", Usage: "Evaluation host: cdp or agent"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},

		&cli.StringFlag{Name: "control-url", Usage: "DevTools WebSocket URL of a running browser", EnvVars: []string{"OPFSX_CONTROL_URL"}},
		&cli.BoolFlag{Name: "launch", Usage: "Launch a local Chrome even when --control-url is set"},
		&cli.BoolFlag{Name: "headless", Value: true, Usage: "Run a launched Chrome headless"},
		&cli.BoolFlag{Name: "stealth", Usage: "Open new pages with stealth evasions"},
		&cli.StringFlag{Name: "page", Usage: "Select the first open page whose URL contains this text"},
		&cli.StringFlag{Name: "url", Usage: "Open this URL when no page matches"},

		&cli.StringFlag{Name: "listen", Value: "127.0.0.1:7777", Usage: "Agent server address (agent host)"},
		&cli.DurationFlag{Name: "connect-timeout", Value: 2 * time.Minute, Usage: "How long to wait for a page to load the agent"},

		&cli.StringFlag{Name: "profile", Usage: "Poll profile: fast or slow (default depends on host)"},
		&cli.StringFlag{Name: "webhook", Usage: "POST change events to this URL"},
		&cli.StringFlag{Name: "redis", Usage: "PUBLISH change events to this Redis URL"},
	}
}

// OutputFlags select how results are printed.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Output format: json, table, yaml"},
		&cli.BoolFlag{Name: "no-color", Usage: "Disable colored table headers"},
	}
}

// Commands returns every opfsx command.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		ListCommand(),
		CatCommand(),
		WriteCommand(),
		RenameCommand(),
		MoveCommand(),
		MkdirCommand(),
		TouchCommand(),
		RemoveCommand(),
		DownloadCommand(),
		DfCommand(),
		ExistsCommand(),
		SnapshotCommand(),
		ExportCommand(),
		BrowseCommand(),
		MCPCommand(),
		AgentCommand(),
		VersionCommand(commit),
	}
}
