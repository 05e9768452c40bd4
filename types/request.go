//nolint:revive // types is a common Go package naming convention
package types

import "strings"

// OpKind names a facade operation.
type OpKind string

// Operation kinds.
const (
	OpList             OpKind = "list"
	OpRead             OpKind = "read"
	OpReadWithMetadata OpKind = "readWithMetadata"
	OpReadBase64       OpKind = "readBase64"
	OpWrite            OpKind = "write"
	OpRename           OpKind = "rename"
	OpMove             OpKind = "move"
	OpCreate           OpKind = "create"
	OpDelete           OpKind = "delete"
	OpDownload         OpKind = "download"
	OpStorageEstimate  OpKind = "storageEstimate"
	OpExists           OpKind = "exists"
)

// IsMutating reports whether the operation changes the storage tree.
func (k OpKind) IsMutating() bool {
	switch k {
	case OpWrite, OpRename, OpMove, OpCreate, OpDelete:
		return true
	default:
		return false
	}
}

// Request is a single operation request, built by the facade and consumed
// once by the script builder.
//
// Paths holds the operation's path parameters in order: one path for most
// operations, source and destination for move, path and new name for rename.
type Request struct {
	Op       OpKind
	Paths    []string
	Content  string
	IsBinary bool
	Kind     EntryKind
}

// Path returns the i-th path parameter, or "" when absent.
func (r Request) Path(i int) string {
	if i < 0 || i >= len(r.Paths) {
		return ""
	}
	return r.Paths[i]
}

// NormalizePath converts a user path to the canonical form used on the wire:
// forward-slash delimited, no leading or trailing slash, no empty segments.
// The root is "".
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, "/")
}

// SplitPath splits a normalized path into its parent directory and final
// segment. SplitPath("a/b/c") returns ("a/b", "c"); SplitPath("c") returns
// ("", "c").
func SplitPath(p string) (dir, name string) {
	p = NormalizePath(p)
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// JoinPath joins a parent path and a name the way list results do: bare name
// at the root, parent/name elsewhere.
func JoinPath(parent, name string) string {
	parent = NormalizePath(parent)
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
