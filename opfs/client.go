// Package opfs is the typed facade over the page bridge.
//
// Each method maps one call to a request, builds its page body, runs it
// through a Runner, and decodes the JSON result. Errors from the Runner are
// returned as they are; the facade adds no retries. The one check it makes
// itself is that text writes are valid UTF-8, since hosts carry script text
// as JSON and would replace invalid bytes silently.
package opfs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/pithecene-io/opfsx/adapter"
	"github.com/pithecene-io/opfsx/log"
	"github.com/pithecene-io/opfsx/metrics"
	"github.com/pithecene-io/opfsx/script"
	"github.com/pithecene-io/opfsx/types"
)

// Runner runs an operation body in the page. *bridge.Bridge satisfies it.
type Runner interface {
	Run(ctx context.Context, op, body string) (json.RawMessage, error)
}

// ChangeNotifier receives an event after each successful mutating
// operation. adapter.Adapter satisfies it.
type ChangeNotifier interface {
	Publish(ctx context.Context, event *adapter.ChangeEvent) error
}

// Options configures a Client.
type Options struct {
	Logger   *log.Logger
	Metrics  *metrics.Collector
	Notifier ChangeNotifier
	// Session identity stamped on change events.
	Origin    string
	SessionID string
}

// Client is the typed operation facade. It is safe for concurrent use when
// its Runner is.
type Client struct {
	runner Runner
	opts   Options
}

// New creates a client over a runner.
func New(r Runner, opts Options) *Client {
	return &Client{runner: r, opts: opts}
}

func (c *Client) run(ctx context.Context, req types.Request, out any) error {
	body, err := script.Build(req)
	if err != nil {
		return err
	}
	res, err := c.runner.Run(ctx, string(req.Op), body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", req.Op, err)
	}
	return nil
}

// List returns the immediate children of a directory, directories first
// and then by name.
func (c *Client) List(ctx context.Context, path string) ([]types.FileEntry, error) {
	var entries []types.FileEntry
	if err := c.run(ctx, types.Request{Op: types.OpList, Paths: []string{path}}, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []types.FileEntry{}
	}
	SortEntries(entries)
	return entries, nil
}

// Read returns a file's text, or a placeholder string beginning with
// types.PlaceholderPrefix when the file is too large or not text.
func (c *Client) Read(ctx context.Context, path string) (string, error) {
	var text string
	err := c.run(ctx, types.Request{Op: types.OpRead, Paths: []string{path}}, &text)
	return text, err
}

// ReadWithMetadata returns a file's content with its MIME type and size.
func (c *Client) ReadWithMetadata(ctx context.Context, path string) (*types.FileContent, error) {
	var content types.FileContent
	if err := c.run(ctx, types.Request{Op: types.OpReadWithMetadata, Paths: []string{path}}, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// ReadBytes returns a file's raw bytes, up to script.MaxTransferBytes.
func (c *Client) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	var content types.FileContent
	if err := c.run(ctx, types.Request{Op: types.OpReadBase64, Paths: []string{path}}, &content); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(content.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: decode base64: %w", types.OpReadBase64, err)
	}
	return data, nil
}

// ErrInvalidUTF8 is returned by Write for text content that is not UTF-8.
// Such content must be written as binary.
var ErrInvalidUTF8 = errors.New("text content is not valid UTF-8; write it as binary")

// Write creates or truncates a file and writes content. When isBinary is
// set, content must be base64 and is decoded in the page.
func (c *Client) Write(ctx context.Context, path, content string, isBinary bool) error {
	if !isBinary && !utf8.ValidString(content) {
		return fmt.Errorf("%s %q: %w", types.OpWrite, path, ErrInvalidUTF8)
	}
	req := types.Request{Op: types.OpWrite, Paths: []string{path}, Content: content, IsBinary: isBinary}
	if err := c.run(ctx, req, nil); err != nil {
		return err
	}
	c.notify(ctx, adapter.NewChangeEvent(string(types.OpWrite), types.NormalizePath(path)))
	return nil
}

// WriteBytes writes raw bytes to a file.
func (c *Client) WriteBytes(ctx context.Context, path string, data []byte) error {
	return c.Write(ctx, path, base64.StdEncoding.EncodeToString(data), true)
}

type moveResult struct {
	Atomic bool `json:"atomic"`
}

// Rename renames an entry within its directory.
func (c *Client) Rename(ctx context.Context, path, newName string) error {
	var res moveResult
	if err := c.run(ctx, types.Request{Op: types.OpRename, Paths: []string{path, newName}}, &res); err != nil {
		return err
	}
	dir, _ := types.SplitPath(path)
	c.moved(ctx, types.OpRename, types.NormalizePath(path), types.JoinPath(dir, newName), res.Atomic)
	return nil
}

// Move relocates an entry to a new path.
func (c *Client) Move(ctx context.Context, oldPath, newPath string) error {
	var res moveResult
	if err := c.run(ctx, types.Request{Op: types.OpMove, Paths: []string{oldPath, newPath}}, &res); err != nil {
		return err
	}
	c.moved(ctx, types.OpMove, types.NormalizePath(oldPath), types.NormalizePath(newPath), res.Atomic)
	return nil
}

func (c *Client) moved(ctx context.Context, op types.OpKind, from, to string, atomic bool) {
	if !atomic {
		c.opts.Metrics.IncFallbackMove()
		c.opts.Logger.Debug("non-atomic move fallback used", map[string]any{
			"op":   string(op),
			"from": from,
			"to":   to,
		})
	}
	ev := adapter.NewChangeEvent(string(op), from)
	ev.NewPath = to
	ev.Atomic = &atomic
	c.notify(ctx, ev)
}

// Create creates a file or directory. Creating an existing entry of the
// same kind succeeds.
func (c *Client) Create(ctx context.Context, path string, kind types.EntryKind) error {
	if err := c.run(ctx, types.Request{Op: types.OpCreate, Paths: []string{path}, Kind: kind}, nil); err != nil {
		return err
	}
	ev := adapter.NewChangeEvent(string(types.OpCreate), types.NormalizePath(path))
	ev.Kind = string(kind)
	c.notify(ctx, ev)
	return nil
}

// Delete removes an entry recursively.
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.run(ctx, types.Request{Op: types.OpDelete, Paths: []string{path}}, nil); err != nil {
		return err
	}
	c.notify(ctx, adapter.NewChangeEvent(string(types.OpDelete), types.NormalizePath(path)))
	return nil
}

// Download triggers the browser's save flow for a file.
func (c *Client) Download(ctx context.Context, path string) error {
	return c.run(ctx, types.Request{Op: types.OpDownload, Paths: []string{path}}, nil)
}

// StorageEstimate returns the origin's storage usage and quota.
func (c *Client) StorageEstimate(ctx context.Context) (*types.StorageEstimate, error) {
	var est types.StorageEstimate
	if err := c.run(ctx, types.Request{Op: types.OpStorageEstimate}, &est); err != nil {
		return nil, err
	}
	return &est, nil
}

// Exists reports whether path resolves to an entry. Any failure, including
// a bridge failure, yields false.
func (c *Client) Exists(ctx context.Context, path string) bool {
	var ok bool
	if err := c.run(ctx, types.Request{Op: types.OpExists, Paths: []string{path}}, &ok); err != nil {
		c.opts.Logger.Debug("exists check failed", map[string]any{"path": path, "error": err.Error()})
		return false
	}
	return ok
}

func (c *Client) notify(ctx context.Context, ev *adapter.ChangeEvent) {
	if c.opts.Notifier == nil {
		return
	}
	ev.Origin = c.opts.Origin
	ev.SessionID = c.opts.SessionID
	if err := c.opts.Notifier.Publish(ctx, ev); err != nil {
		c.opts.Metrics.IncNotifyFailure()
		c.opts.Logger.Warn("change notification failed", map[string]any{
			"op":    ev.Op,
			"path":  ev.Path,
			"error": err.Error(),
		})
	}
}
