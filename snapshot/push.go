package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pithecene-io/opfsx/log"
	"github.com/pithecene-io/opfsx/types"
)

// Sink is the write side of an OPFS client.
type Sink interface {
	Create(ctx context.Context, path string, kind types.EntryKind) error
	WriteBytes(ctx context.Context, path string, data []byte) error
}

// PushOptions configures Push.
type PushOptions struct {
	// Root is the directory the snapshot is restored under. Empty is the
	// OPFS root.
	Root string
	// Logger receives per-entry debug logs. Nil discards.
	Logger *log.Logger
}

// Push reads a snapshot stream from r and recreates its entries under
// opts.Root. Entries are applied as they arrive; a stream that fails
// verification part way leaves the entries before the failure in place.
func Push(ctx context.Context, dst Sink, r io.Reader, opts PushOptions) (*Header, *Summary, error) {
	dec := NewFrameDecoder(r)

	first, err := dec.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, &FrameError{Kind: FrameErrorPartial, Msg: "empty snapshot stream"}
		}
		return nil, nil, err
	}
	header, ok := first.(*types.SnapshotHeader)
	if !ok {
		return nil, nil, sequenceError("stream does not start with a header, got %T", first)
	}
	if header.Version != types.SnapshotVersion {
		return nil, nil, fmt.Errorf("snapshot version %q is not supported (want %q)", header.Version, types.SnapshotVersion)
	}

	if err := mkdirAll(ctx, dst, opts.Root); err != nil {
		return header, nil, err
	}

	p := &pusher{dst: dst, root: opts.Root, logger: opts.Logger}
	for {
		if err := ctx.Err(); err != nil {
			return header, &p.sum, err
		}
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return header, &p.sum, &FrameError{Kind: FrameErrorPartial, Msg: "snapshot ended without a trailer"}
		}
		if err != nil {
			return header, &p.sum, err
		}

		switch f := frame.(type) {
		case *types.SnapshotEntry:
			err = p.entry(ctx, f)
		case *types.SnapshotChunk:
			err = p.chunk(ctx, f)
		case *types.SnapshotTrailer:
			if err := p.finish(f); err != nil {
				return header, &p.sum, err
			}
			if _, err := dec.ReadFrame(); !errors.Is(err, io.EOF) {
				return header, &p.sum, sequenceError("frames after trailer")
			}
			return header, &p.sum, nil
		default:
			err = sequenceError("unexpected %T after header", frame)
		}
		if err != nil {
			return header, &p.sum, err
		}
	}
}

// Header is the decoded header of a pushed snapshot.
type Header = types.SnapshotHeader

type pusher struct {
	dst    Sink
	root   string
	logger *log.Logger
	sum    Summary

	// pending is the file entry whose chunks are being collected.
	pending *types.SnapshotEntry
	nextSeq int64
	buf     bytes.Buffer
}

func (p *pusher) target(rel string) string {
	return types.JoinPath(p.root, rel)
}

func (p *pusher) entry(ctx context.Context, e *types.SnapshotEntry) error {
	if p.pending != nil {
		return sequenceError("entry %q arrived before the last chunk of %q", e.Path, p.pending.Path)
	}
	if types.NormalizePath(e.Path) == "" {
		return sequenceError("entry with empty path")
	}
	p.sum.Entries++

	switch e.Kind {
	case types.KindDirectory:
		if err := p.dst.Create(ctx, p.target(e.Path), types.KindDirectory); err != nil {
			return fmt.Errorf("create %q: %w", e.Path, err)
		}
		p.logger.Debug("snapshot: restored directory", map[string]any{"path": e.Path})
		return nil
	case types.KindFile:
		p.pending = e
		p.nextSeq = 1
		p.buf.Reset()
		return nil
	default:
		return &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("entry %q has invalid kind %q", e.Path, e.Kind)}
	}
}

func (p *pusher) chunk(ctx context.Context, c *types.SnapshotChunk) error {
	if p.pending == nil || c.Path != p.pending.Path {
		return sequenceError("chunk for %q without a matching file entry", c.Path)
	}
	if c.Seq != p.nextSeq {
		return sequenceError("chunk %d of %q out of order (want %d)", c.Seq, c.Path, p.nextSeq)
	}
	p.nextSeq++
	p.buf.Write(c.Data)
	if !c.IsLast {
		return nil
	}

	e := p.pending
	p.pending = nil
	if int64(p.buf.Len()) != e.Size {
		return sequenceError("file %q has %d bytes, entry declares %d", e.Path, p.buf.Len(), e.Size)
	}
	if err := p.dst.WriteBytes(ctx, p.target(e.Path), p.buf.Bytes()); err != nil {
		return fmt.Errorf("write %q: %w", e.Path, err)
	}
	p.sum.Files++
	p.sum.Bytes += e.Size
	p.logger.Debug("snapshot: restored file", map[string]any{"path": e.Path, "size": e.Size})
	return nil
}

func (p *pusher) finish(t *types.SnapshotTrailer) error {
	if p.pending != nil {
		return sequenceError("trailer arrived before the last chunk of %q", p.pending.Path)
	}
	if t.Entries != p.sum.Entries || t.Files != p.sum.Files || t.Bytes != p.sum.Bytes {
		return sequenceError("trailer totals %d/%d/%d do not match stream %d/%d/%d",
			t.Entries, t.Files, t.Bytes, p.sum.Entries, p.sum.Files, p.sum.Bytes)
	}
	return nil
}

// mkdirAll creates root and each of its ancestors.
func mkdirAll(ctx context.Context, dst Sink, root string) error {
	root = types.NormalizePath(root)
	if root == "" {
		return nil
	}
	parts := strings.Split(root, "/")
	for i := range parts {
		dir := strings.Join(parts[:i+1], "/")
		if err := dst.Create(ctx, dir, types.KindDirectory); err != nil {
			return fmt.Errorf("create %q: %w", dir, err)
		}
	}
	return nil
}

func sequenceError(format string, args ...any) *FrameError {
	return &FrameError{Kind: FrameErrorSequence, Msg: fmt.Sprintf(format, args...)}
}
