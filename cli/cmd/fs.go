package cmd

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/opfsx/cli/render"
	"github.com/pithecene-io/opfsx/cli/tui"
	"github.com/pithecene-io/opfsx/iox"
	"github.com/pithecene-io/opfsx/script"
	"github.com/pithecene-io/opfsx/types"
)

// OpResult is printed after a mutating command.
type OpResult struct {
	Op      string `json:"op"`
	Path    string `json:"path"`
	NewPath string `json:"new_path,omitempty"`
	Bytes   int    `json:"bytes,omitempty"`
}

// argN returns the n-th positional argument or a usage error.
func argN(c *cli.Context, n int, name string) (string, error) {
	if c.NArg() <= n {
		return "", cli.Exit(fmt.Sprintf("missing <%s> argument (usage: %s %s)", name, c.Command.Name, c.Command.ArgsUsage), exitFailure)
	}
	return c.Args().Get(n), nil
}

// fail turns an operation error into exit code 1.
func fail(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit(err.Error(), exitFailure)
}

// pageAction opens the renderer and a session around fn.
func pageAction(fn func(c *cli.Context, r *render.Renderer, s *Session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
		return withSession(c, func(s *Session) error {
			return fn(c, r, s)
		})
	}
}

// ListCommand lists a directory.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List the children of a directory",
		ArgsUsage: "[path]",
		Flags:     OutputFlags(),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			entries, err := s.Client.List(c.Context, c.Args().First())
			if err != nil {
				return fail(err)
			}
			return r.Render(entries)
		}),
	}
}

// CatCommand prints a file.
func CatCommand() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Print a file",
		ArgsUsage: "<path>",
		Flags: append(OutputFlags(),
			&cli.BoolFlag{Name: "meta", Usage: "Print content with MIME type and size"},
			&cli.BoolFlag{Name: "render", Usage: "Render markdown for the terminal"},
		),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			path, err := argN(c, 0, "path")
			if err != nil {
				return err
			}
			if c.Bool("meta") {
				content, err := s.Client.ReadWithMetadata(c.Context, path)
				if err != nil {
					return fail(err)
				}
				return r.Render(content)
			}
			text, err := s.Client.Read(c.Context, path)
			if err != nil {
				return fail(err)
			}
			if c.Bool("render") && !strings.HasPrefix(text, types.PlaceholderPrefix) && tui.IsMarkdown(path, "") {
				out, err := tui.RenderMarkdown(text, 0, render.IsTTY(os.Stdout))
				if err != nil {
					return fail(err)
				}
				_, err = fmt.Fprint(r.Writer(), out)
				return err
			}
			return r.RenderText("content", text)
		}),
	}
}

// WriteCommand writes a file from an argument, a local file or stdin.
func WriteCommand() *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "Create or overwrite a file",
		ArgsUsage: "<path> [content]",
		Flags: append(OutputFlags(),
			&cli.StringFlag{Name: "from", Usage: "Read content from a local file (- for stdin)"},
			&cli.BoolFlag{Name: "binary", Usage: "Write bytes as is (default: detected from content)"},
		),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			path, err := argN(c, 0, "path")
			if err != nil {
				return err
			}
			data, err := writeInput(c)
			if err != nil {
				return fail(err)
			}
			binary := c.Bool("binary")
			if !c.IsSet("binary") {
				binary = !isText(data)
			}
			if binary {
				err = s.Client.WriteBytes(c.Context, path, data)
			} else {
				err = s.Client.Write(c.Context, path, string(data), false)
			}
			if err != nil {
				return fail(err)
			}
			return r.Render(OpResult{Op: string(types.OpWrite), Path: types.NormalizePath(path), Bytes: len(data)})
		}),
	}
}

func writeInput(c *cli.Context) ([]byte, error) {
	from := c.String("from")
	switch {
	case from == "" && c.NArg() > 1:
		return []byte(c.Args().Get(1)), nil
	case from == "" || from == "-":
		return iox.ReadAllLimit(c.App.Reader, script.MaxTransferBytes)
	default:
		f, err := os.Open(from)
		if err != nil {
			return nil, err
		}
		defer iox.DiscardClose(f)
		return iox.ReadAllLimit(f, script.MaxTransferBytes)
	}
}

// isText reports whether data sniffs as some kind of text and is valid
// UTF-8. Text in other charsets goes the binary path to stay byte-exact.
func isText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// RenameCommand renames an entry in place.
func RenameCommand() *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Rename an entry within its directory",
		ArgsUsage: "<path> <new-name>",
		Flags:     OutputFlags(),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			path, err := argN(c, 0, "path")
			if err != nil {
				return err
			}
			name, err := argN(c, 1, "new-name")
			if err != nil {
				return err
			}
			if err := s.Client.Rename(c.Context, path, name); err != nil {
				return fail(err)
			}
			dir, _ := types.SplitPath(path)
			return r.Render(OpResult{Op: string(types.OpRename), Path: types.NormalizePath(path), NewPath: types.JoinPath(dir, name)})
		}),
	}
}

// MoveCommand moves an entry.
func MoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "mv",
		Usage:     "Move an entry to a new path",
		ArgsUsage: "<path> <new-path>",
		Flags:     OutputFlags(),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			from, err := argN(c, 0, "path")
			if err != nil {
				return err
			}
			to, err := argN(c, 1, "new-path")
			if err != nil {
				return err
			}
			if err := s.Client.Move(c.Context, from, to); err != nil {
				return fail(err)
			}
			return r.Render(OpResult{Op: string(types.OpMove), Path: types.NormalizePath(from), NewPath: types.NormalizePath(to)})
		}),
	}
}

func createCommand(name, usage string, kind types.EntryKind) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<path>",
		Flags:     OutputFlags(),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			path, err := argN(c, 0, "path")
			if err != nil {
				return err
			}
			if err := s.Client.Create(c.Context, path, kind); err != nil {
				return fail(err)
			}
			return r.Render(OpResult{Op: string(types.OpCreate), Path: types.NormalizePath(path)})
		}),
	}
}

// MkdirCommand creates a directory.
func MkdirCommand() *cli.Command {
	return createCommand("mkdir", "Create a directory", types.KindDirectory)
}

// TouchCommand creates an empty file.
func TouchCommand() *cli.Command {
	return createCommand("touch", "Create an empty file", types.KindFile)
}

// RemoveCommand deletes an entry recursively.
func RemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete a file or a directory and its contents",
		ArgsUsage: "<path>",
		Flags:     OutputFlags(),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			path, err := argN(c, 0, "path")
			if err != nil {
				return err
			}
			if err := s.Client.Delete(c.Context, path); err != nil {
				return fail(err)
			}
			return r.Render(OpResult{Op: string(types.OpDelete), Path: types.NormalizePath(path)})
		}),
	}
}

// DownloadCommand triggers the browser's save flow.
func DownloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Save a file through the browser's download flow",
		ArgsUsage: "<path>",
		Flags:     OutputFlags(),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			path, err := argN(c, 0, "path")
			if err != nil {
				return err
			}
			if err := s.Client.Download(c.Context, path); err != nil {
				return fail(err)
			}
			return r.Render(OpResult{Op: string(types.OpDownload), Path: types.NormalizePath(path)})
		}),
	}
}

// Usage is printed by df.
type Usage struct {
	Usage   int64   `json:"usage" yaml:"usage"`
	Quota   int64   `json:"quota" yaml:"quota"`
	Percent float64 `json:"percent" yaml:"percent"`
	Human   string  `json:"human" yaml:"human"`
}

// DfCommand prints storage usage.
func DfCommand() *cli.Command {
	return &cli.Command{
		Name:  "df",
		Usage: "Show storage usage and quota for the origin",
		Flags: OutputFlags(),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			est, err := s.Client.StorageEstimate(c.Context)
			if err != nil {
				return fail(err)
			}
			return r.Render(usageOf(est))
		}),
	}
}

func usageOf(est *types.StorageEstimate) Usage {
	u := Usage{Usage: est.Usage, Quota: est.Quota}
	if est.Quota > 0 {
		u.Percent = float64(int64(float64(est.Usage)/float64(est.Quota)*10000)) / 100
	}
	u.Human = fmt.Sprintf("%s of %s", render.HumanBytes(est.Usage), render.HumanBytes(est.Quota))
	return u
}

// ExistsCommand exits 0 when the entry exists and 2 when it does not.
func ExistsCommand() *cli.Command {
	return &cli.Command{
		Name:      "exists",
		Usage:     "Exit 0 if an entry exists, 2 if not",
		ArgsUsage: "<path>",
		Flags:     OutputFlags(),
		Action: pageAction(func(c *cli.Context, r *render.Renderer, s *Session) error {
			path, err := argN(c, 0, "path")
			if err != nil {
				return err
			}
			ok := s.Client.Exists(c.Context, path)
			if err := r.Render(map[string]any{"path": types.NormalizePath(path), "exists": ok}); err != nil {
				return err
			}
			if !ok {
				return cli.Exit("", exitAbsent)
			}
			return nil
		}),
	}
}
