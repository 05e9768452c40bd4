package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"nil", nil, 0, ""},
		{"absent without message", cli.Exit("", 2), 2, ""},
		{"failure with message", cli.Exit("cat: NotFoundError: gone", 1), 1, "cat: NotFoundError: gone"},
		{"wrapped", errors.Join(errors.New("context"), cli.Exit("inner", 1)), 1, "inner"},
		{"plain error", errors.New("boom"), 1, "Error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitCode(tt.err)
			if code != tt.wantCode || msg != tt.wantMsg {
				t.Errorf("exitCode = (%d, %q), want (%d, %q)", code, msg, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestWriteExit(t *testing.T) {
	var buf bytes.Buffer
	if code := writeExit(&buf, cli.Exit("", 2)); code != 2 || buf.Len() != 0 {
		t.Errorf("writeExit = %d with %q", code, buf.String())
	}
	if code := writeExit(&buf, cli.Exit("failed", 1)); code != 1 || buf.String() != "failed\n" {
		t.Errorf("writeExit = %d with %q", code, buf.String())
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	for _, name := range []string{"ls", "cat", "write", "rename", "mv", "mkdir", "touch", "rm", "download", "df", "exists", "snapshot", "export", "browse", "mcp", "agent", "version"} {
		if app.Command(name) == nil {
			t.Errorf("missing command %q", name)
		}
	}
}
