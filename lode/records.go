package lode

// RecordKindFile discriminates exported file records in the index dataset.
const RecordKindFile = "file"

// FileRecord describes one exported file. It is stored in the index
// dataset and listed in the export manifest.
type FileRecord struct {
	RecordKind   string `json:"record_kind" yaml:"-"`
	Path         string `json:"path" yaml:"path"`
	Key          string `json:"key" yaml:"key"`
	Size         int64  `json:"size" yaml:"size"`
	MimeType     string `json:"mime_type" yaml:"mime_type"`
	SHA256       string `json:"sha256" yaml:"sha256"`
	LastModified int64  `json:"last_modified,omitempty" yaml:"last_modified,omitempty"`

	// Partition keys (used by the Hive layout).
	Origin   string `json:"origin" yaml:"origin"`
	Day      string `json:"day" yaml:"day"`
	ExportID string `json:"export_id" yaml:"export_id"`
}

// toRecordMap converts a FileRecord to the map form the JSONL codec writes.
func toRecordMap(r FileRecord) map[string]any {
	m := map[string]any{
		"record_kind": RecordKindFile,
		"path":        r.Path,
		"key":         r.Key,
		"size":        r.Size,
		"mime_type":   r.MimeType,
		"sha256":      r.SHA256,
		"origin":      r.Origin,
		"day":         r.Day,
		"export_id":   r.ExportID,
	}
	if r.LastModified != 0 {
		m["last_modified"] = r.LastModified
	}
	return m
}

// fromRecordMap converts a decoded JSONL record back. Numbers arrive as
// float64. ok is false for records of another kind.
func fromRecordMap(m map[string]any) (FileRecord, bool) {
	if m["record_kind"] != RecordKindFile {
		return FileRecord{}, false
	}
	return FileRecord{
		RecordKind:   RecordKindFile,
		Path:         toString(m["path"]),
		Key:          toString(m["key"]),
		Size:         toInt64(m["size"]),
		MimeType:     toString(m["mime_type"]),
		SHA256:       toString(m["sha256"]),
		LastModified: toInt64(m["last_modified"]),
		Origin:       toString(m["origin"]),
		Day:          toString(m["day"]),
		ExportID:     toString(m["export_id"]),
	}, true
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
