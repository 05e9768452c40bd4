package snapshot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pithecene-io/opfsx/log"
	"github.com/pithecene-io/opfsx/types"
)

// Lister lists the immediate children of a directory.
type Lister interface {
	List(ctx context.Context, path string) ([]types.FileEntry, error)
}

// Source is the read side of an OPFS client.
type Source interface {
	Lister
	ReadBytes(ctx context.Context, path string) ([]byte, error)
}

// Walk visits every entry below root depth-first. Directories are visited
// before their children; siblings in List order.
func Walk(ctx context.Context, src Lister, root string, fn func(types.FileEntry) error) error {
	entries, err := src.List(ctx, root)
	if err != nil {
		return fmt.Errorf("list %q: %w", types.NormalizePath(root), err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		if e.IsDir() {
			if err := Walk(ctx, src, e.Path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// RelPath returns p relative to root. Both are normalized first.
func RelPath(root, p string) string {
	root = types.NormalizePath(root)
	p = types.NormalizePath(p)
	if root == "" {
		return p
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
}

// Summary counts what a pull or push transferred.
type Summary struct {
	Entries int64 `json:"entries" yaml:"entries"`
	Files   int64 `json:"files" yaml:"files"`
	Bytes   int64 `json:"bytes" yaml:"bytes"`
}

// PullOptions configures Pull.
type PullOptions struct {
	// Root is the directory to snapshot. Empty is the OPFS root.
	Root string
	// Origin is recorded in the header.
	Origin string
	// Now stamps the header. Nil uses time.Now.
	Now func() time.Time
	// Logger receives per-entry debug logs. Nil discards.
	Logger *log.Logger
}

// Pull walks the tree under opts.Root and writes it to w as a snapshot stream.
func Pull(ctx context.Context, src Source, w io.Writer, opts PullOptions) (*Summary, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	enc := NewFrameEncoder(w)
	header := &types.SnapshotHeader{
		Type:      types.SnapshotHeaderType,
		Version:   types.SnapshotVersion,
		Origin:    opts.Origin,
		Root:      types.NormalizePath(opts.Root),
		CreatedAt: now().UTC().Format(time.RFC3339),
	}
	if err := enc.WriteFrame(header); err != nil {
		return nil, err
	}

	sum := &Summary{}
	err := Walk(ctx, src, opts.Root, func(e types.FileEntry) error {
		rel := RelPath(opts.Root, e.Path)
		entry := &types.SnapshotEntry{
			Type: types.SnapshotEntryType,
			Path: rel,
			Kind: e.Kind,
		}
		if e.LastModified != nil {
			entry.LastModified = *e.LastModified
		}
		sum.Entries++

		if e.IsDir() {
			opts.Logger.Debug("snapshot: directory", map[string]any{"path": rel})
			return enc.WriteFrame(entry)
		}

		data, err := src.ReadBytes(ctx, e.Path)
		if err != nil {
			return fmt.Errorf("read %q: %w", e.Path, err)
		}
		entry.Size = int64(len(data))
		entry.MimeType = mimetype.Detect(data).String()
		if err := enc.WriteFrame(entry); err != nil {
			return err
		}
		if err := writeChunks(enc, rel, data); err != nil {
			return err
		}
		sum.Files++
		sum.Bytes += entry.Size
		opts.Logger.Debug("snapshot: file", map[string]any{"path": rel, "size": entry.Size})
		return nil
	})
	if err != nil {
		return nil, err
	}

	trailer := &types.SnapshotTrailer{
		Type:    types.SnapshotTrailerType,
		Entries: sum.Entries,
		Files:   sum.Files,
		Bytes:   sum.Bytes,
	}
	if err := enc.WriteFrame(trailer); err != nil {
		return nil, err
	}
	return sum, nil
}

// writeChunks splits data into MaxChunkSize chunks. An empty file still
// gets one (empty, final) chunk.
func writeChunks(enc *FrameEncoder, path string, data []byte) error {
	seq := int64(1)
	for {
		n := min(len(data), MaxChunkSize)
		chunk := &types.SnapshotChunk{
			Type:   types.SnapshotChunkType,
			Path:   path,
			Seq:    seq,
			IsLast: n == len(data),
			Data:   data[:n],
		}
		if err := enc.WriteFrame(chunk); err != nil {
			return err
		}
		if chunk.IsLast {
			return nil
		}
		data = data[n:]
		seq++
	}
}
