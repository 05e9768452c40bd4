//nolint:revive // types is a common Go package naming convention
package types

// Snapshot frame type discriminants.
const (
	SnapshotHeaderType  = "header"
	SnapshotEntryType   = "entry"
	SnapshotChunkType   = "chunk"
	SnapshotTrailerType = "trailer"
)

// SnapshotHeader opens a snapshot stream. Exactly one, first.
type SnapshotHeader struct {
	// Type is always "header".
	Type string `msgpack:"type"`
	// Version is the SnapshotVersion of the writer.
	Version string `msgpack:"version"`
	// Origin is the page origin the tree was pulled from, if known.
	Origin string `msgpack:"origin"`
	// Root is the directory that was walked ("" for the OPFS root).
	Root string `msgpack:"root"`
	// CreatedAt is an RFC 3339 timestamp.
	CreatedAt string `msgpack:"created_at"`
}

// SnapshotEntry describes one file or directory. Paths are relative to the
// snapshot root and parents always precede their children.
type SnapshotEntry struct {
	// Type is always "entry".
	Type         string    `msgpack:"type"`
	Path         string    `msgpack:"path"`
	Kind         EntryKind `msgpack:"kind"`
	Size         int64     `msgpack:"size"`
	LastModified int64     `msgpack:"last_modified"`
	MimeType     string    `msgpack:"mime_type,omitempty"`
}

// SnapshotChunk carries file bytes. Every file entry is followed by one or
// more chunks for the same path, numbered from 1, the final one IsLast.
type SnapshotChunk struct {
	// Type is always "chunk".
	Type   string `msgpack:"type"`
	Path   string `msgpack:"path"`
	Seq    int64  `msgpack:"seq"`
	IsLast bool   `msgpack:"is_last"`
	Data   []byte `msgpack:"data"`
}

// SnapshotTrailer closes a snapshot stream with totals for verification.
type SnapshotTrailer struct {
	// Type is always "trailer".
	Type    string `msgpack:"type"`
	Entries int64  `msgpack:"entries"`
	Files   int64  `msgpack:"files"`
	Bytes   int64  `msgpack:"bytes"`
}
