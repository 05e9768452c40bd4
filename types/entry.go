//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// EntryKind discriminates OPFS handles.
type EntryKind string

// Entry kinds, matching FileSystemHandle.kind.
const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// ParseEntryKind parses "file" or "directory" (also "dir").
func ParseEntryKind(s string) (EntryKind, error) {
	switch s {
	case "file":
		return KindFile, nil
	case "directory", "dir":
		return KindDirectory, nil
	default:
		return "", fmt.Errorf("invalid entry kind %q (must be file or directory)", s)
	}
}

// FileEntry is one immediate child returned by a list operation.
// Size and LastModified are best-effort and only set for files.
type FileEntry struct {
	Name         string    `json:"name" yaml:"name" msgpack:"name"`
	Kind         EntryKind `json:"kind" yaml:"kind" msgpack:"kind"`
	Path         string    `json:"path" yaml:"path" msgpack:"path"`
	Size         *int64    `json:"size,omitempty" yaml:"size,omitempty" msgpack:"size,omitempty"`
	LastModified *int64    `json:"lastModified,omitempty" yaml:"last_modified,omitempty" msgpack:"last_modified,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (e FileEntry) IsDir() bool {
	return e.Kind == KindDirectory
}

// FileContent is the result of a read-with-metadata operation.
//
// Content is plain text, a base64 data URI (IsBase64), or a placeholder
// string. Placeholders set exactly one of TooLarge or Binary; Size is always
// the true file size.
type FileContent struct {
	Content  string `json:"content" yaml:"content"`
	MimeType string `json:"mimeType" yaml:"mime_type"`
	Size     int64  `json:"size" yaml:"size"`
	IsBase64 bool   `json:"isBase64" yaml:"is_base64"`
	TooLarge bool   `json:"tooLarge,omitempty" yaml:"too_large,omitempty"`
	Binary   bool   `json:"binary,omitempty" yaml:"binary,omitempty"`
}

// IsPlaceholder reports whether Content is a placeholder rather than data.
func (c FileContent) IsPlaceholder() bool {
	return c.TooLarge || c.Binary
}

// StorageEstimate is the origin's storage usage and quota in bytes.
type StorageEstimate struct {
	Usage int64 `json:"usage" yaml:"usage"`
	Quota int64 `json:"quota" yaml:"quota"`
}

// PlaceholderPrefix starts every placeholder string returned instead of
// file content.
const PlaceholderPrefix = "[BINARY_OR_LARGE]"
