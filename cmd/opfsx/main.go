// Package main is the opfsx entrypoint.
//
// Usage:
//
//	opfsx [global options] <command> [options] [args]
//
// Exit codes:
//   - 0: success
//   - 1: failure
//   - 2: `exists` found no entry
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/opfsx/cli/cmd"
	"github.com/pithecene-io/opfsx/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func newApp() *cli.App {
	return &cli.App{
		Name:                 "opfsx",
		Usage:                "Inspect and edit a page's Origin Private File System",
		Version:              fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:                cmd.GlobalFlags(),
		Commands:             cmd.Commands(commit),
		ExitErrHandler:       exitErrHandler,
		EnableBashCompletion: true,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		// exitErrHandler has already exited for cli.ExitCoder errors.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitCode maps an error to a process exit code and the message to print.
func exitCode(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", n) reports "exit status n"; print nothing for those.
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, "Error: " + err.Error()
}

func writeExit(w io.Writer, err error) int {
	code, msg := exitCode(err)
	if msg != "" {
		fmt.Fprintln(w, msg)
	}
	return code
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(writeExit(os.Stderr, err))
}
