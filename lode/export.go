// Package lode exports OPFS trees to lode storage.
//
// An export writes each file under a Hive-partitioned files/ prefix,
// a manifest.json beside it, and one index record per file to a lode
// dataset partitioned by origin and day:
//
//	datasets/<dataset>/partitions/origin=<o>/day=<d>/export_id=<id>/files/<path>
//	datasets/<dataset>/partitions/origin=<o>/day=<d>/export_id=<id>/manifest.json
package lode

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/opfsx/log"
	"github.com/pithecene-io/opfsx/metrics"
	"github.com/pithecene-io/opfsx/snapshot"
	"github.com/pithecene-io/opfsx/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "opfsx"

// partitionKeys is the Hive layout of the index dataset.
var partitionKeys = []string{"origin", "day", "export_id"}

// DeriveDay computes the partition day. Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PartitionOrigin turns a page origin into a value safe for a single path
// segment: "https://app.test:8443" becomes "https_app.test_8443".
func PartitionOrigin(origin string) string {
	origin = strings.TrimSuffix(origin, "/")
	if origin == "" {
		return "unknown"
	}
	return strings.NewReplacer("://", "_", ":", "_", "/", "_", "=", "_").Replace(origin)
}

// Config holds export partitioning.
type Config struct {
	// Dataset is the lode dataset ID. Empty uses DefaultDataset.
	Dataset string
	// Origin is the page origin the tree belongs to.
	Origin string
	// Day is the partition day. Empty derives it from the export time.
	Day string
	// ExportID separates exports of the same origin and day. Empty derives
	// it from the export time.
	ExportID string
}

// Options configures an Exporter.
type Options struct {
	Logger  *log.Logger
	Metrics *metrics.Collector
	// Now stamps manifests and derives the day. Nil uses time.Now.
	Now func() time.Time
}

// Exporter writes walked OPFS trees to a lode store.
type Exporter struct {
	cfg     Config
	dataset lode.Dataset
	logger  *log.Logger
	metrics *metrics.Collector
	now     func() time.Time

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewExporter creates an exporter over a store factory.
// Use lode.NewMemoryFactory() for testing.
func NewExporter(cfg Config, factory lode.StoreFactory, opts Options) (*Exporter, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	t := now()
	if cfg.Day == "" {
		cfg.Day = DeriveDay(t)
	}
	if cfg.ExportID == "" {
		cfg.ExportID = t.UTC().Format("20060102T150405.000Z")
	}

	ds, err := NewIndexDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &Exporter{
		cfg:          cfg,
		dataset:      ds,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          now,
		storeFactory: factory,
	}, nil
}

// NewFSExporter creates an exporter writing below a local directory.
func NewFSExporter(cfg Config, root string, opts Options) (*Exporter, error) {
	return NewExporter(cfg, lode.NewFSFactory(root), opts)
}

// NewS3Exporter creates an exporter writing to an S3 bucket.
func NewS3Exporter(ctx context.Context, cfg Config, s3cfg S3Config, opts Options) (*Exporter, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewExporter(cfg, factory, opts)
}

// partitionPrefix is the Hive-partitioned prefix of this export.
func (e *Exporter) partitionPrefix() string {
	return fmt.Sprintf("datasets/%s/partitions/origin=%s/day=%s/export_id=%s",
		e.cfg.Dataset, PartitionOrigin(e.cfg.Origin), e.cfg.Day, e.cfg.ExportID)
}

// FileKey returns the store key of an exported file.
func (e *Exporter) FileKey(rel string) string {
	return e.partitionPrefix() + "/files/" + rel
}

// ManifestKey returns the store key of the export manifest.
func (e *Exporter) ManifestKey() string {
	return e.partitionPrefix() + "/manifest.json"
}

// getOrCreateStore lazily initializes the Store from the factory.
func (e *Exporter) getOrCreateStore() (lode.Store, error) {
	e.storeOnce.Do(func() {
		e.store, e.storeErr = e.storeFactory()
	})
	return e.store, e.storeErr
}

// PutFile writes one file below the files/ prefix and returns its key.
// rel must be a relative OPFS path without "." or ".." segments.
func (e *Exporter) PutFile(ctx context.Context, rel string, data []byte) (string, error) {
	rel = types.NormalizePath(rel)
	if err := validateRel(rel); err != nil {
		return "", err
	}
	store, err := e.getOrCreateStore()
	if err != nil {
		return "", WrapInitError(err, e.cfg.Dataset)
	}
	key := e.FileKey(rel)
	if err := store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return "", WrapWriteError(err, key)
	}
	return key, nil
}

func validateRel(rel string) error {
	if rel == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidPath, rel)
		}
	}
	return nil
}

// Manifest describes one export. It is written as manifest.json.
type Manifest struct {
	Version     string       `json:"version" yaml:"version"`
	Dataset     string       `json:"dataset" yaml:"dataset"`
	Origin      string       `json:"origin" yaml:"origin"`
	Day         string       `json:"day" yaml:"day"`
	ExportID    string       `json:"export_id" yaml:"export_id"`
	Root        string       `json:"root" yaml:"root"`
	CreatedAt   string       `json:"created_at" yaml:"created_at"`
	Directories []string     `json:"directories" yaml:"directories"`
	Files       []FileRecord `json:"files" yaml:"files"`
	Bytes       int64        `json:"bytes" yaml:"bytes"`
	ManifestKey string       `json:"-" yaml:"manifest_key"`
}

// Export walks the tree under root, writes every file and the manifest,
// then appends the file records to the index dataset.
func (e *Exporter) Export(ctx context.Context, src snapshot.Source, root string) (*Manifest, error) {
	m, err := e.export(ctx, src, root)
	if err != nil {
		e.metrics.IncExportFailure()
		return nil, err
	}
	e.metrics.IncExportWrite()
	return m, nil
}

func (e *Exporter) export(ctx context.Context, src snapshot.Source, root string) (*Manifest, error) {
	m := &Manifest{
		Version:     types.Version,
		Dataset:     e.cfg.Dataset,
		Origin:      e.cfg.Origin,
		Day:         e.cfg.Day,
		ExportID:    e.cfg.ExportID,
		Root:        types.NormalizePath(root),
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
		Directories: []string{},
		Files:       []FileRecord{},
		ManifestKey: e.ManifestKey(),
	}

	err := snapshot.Walk(ctx, src, root, func(fe types.FileEntry) error {
		rel := snapshot.RelPath(root, fe.Path)
		if fe.IsDir() {
			m.Directories = append(m.Directories, rel)
			return nil
		}
		data, err := src.ReadBytes(ctx, fe.Path)
		if err != nil {
			return fmt.Errorf("read %q: %w", fe.Path, err)
		}
		key, err := e.PutFile(ctx, rel, data)
		if err != nil {
			return err
		}
		digest := sha256.Sum256(data)
		rec := FileRecord{
			RecordKind: RecordKindFile,
			Path:       rel,
			Key:        key,
			Size:       int64(len(data)),
			MimeType:   mimetype.Detect(data).String(),
			SHA256:     hex.EncodeToString(digest[:]),
			Origin:     PartitionOrigin(e.cfg.Origin),
			Day:        e.cfg.Day,
			ExportID:   e.cfg.ExportID,
		}
		if fe.LastModified != nil {
			rec.LastModified = *fe.LastModified
		}
		m.Files = append(m.Files, rec)
		m.Bytes += rec.Size
		e.logger.Debug("export: file written", map[string]any{"path": rel, "key": key, "size": rec.Size})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.putManifest(ctx, m); err != nil {
		return nil, err
	}

	if len(m.Files) > 0 {
		records := make([]any, 0, len(m.Files))
		for _, rec := range m.Files {
			records = append(records, toRecordMap(rec))
		}
		if _, err := e.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
			return nil, WrapWriteError(err, "datasets/"+e.cfg.Dataset)
		}
	}

	e.logger.Info("export complete", map[string]any{
		"files":    len(m.Files),
		"bytes":    m.Bytes,
		"manifest": m.ManifestKey,
	})
	return m, nil
}

func (e *Exporter) putManifest(ctx context.Context, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	store, err := e.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, e.cfg.Dataset)
	}
	if err := store.Put(ctx, m.ManifestKey, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, m.ManifestKey)
	}
	return nil
}
