package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoIndex is returned when the index dataset holds no matching export.
var ErrNoIndex = errors.New("no export index records found")

// NewIndexDataset creates the export index dataset. Reads and writes share
// the same codec and layout.
func NewIndexDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewIndexDatasetFS opens the index dataset below a local directory.
func NewIndexDatasetFS(dataset, rootPath string) (lode.Dataset, error) {
	return NewIndexDataset(dataset, lode.NewFSFactory(rootPath))
}

// NewIndexDatasetS3 opens the index dataset in an S3 bucket.
func NewIndexDatasetS3(ctx context.Context, dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewIndexDataset(dataset, factory)
}

// LatestIndex returns the file records of the most recent export. A
// non-empty origin restricts the search to that origin's partition.
func LatestIndex(ctx context.Context, ds lode.Dataset, origin string) ([]FileRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, fmt.Sprintf("%s/snapshots", ds.ID()))
	}

	partition := ""
	if origin != "" {
		partition = PartitionOrigin(origin)
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "origin", partition) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		var out []FileRecord
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rec, ok := fromRecordMap(m)
			if !ok {
				continue
			}
			// Path filtering is coarse; record fields decide.
			if partition != "" && rec.Origin != partition {
				continue
			}
			out = append(out, rec)
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, ErrNoIndex
}

// snapshotMatchesFilter reports whether any file of the snapshot sits in
// the key=value partition. An empty value matches everything.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue matches a whole key=value path segment, so
// origin=a.test does not match origin=a.test_8443.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
