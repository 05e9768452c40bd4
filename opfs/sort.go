package opfs

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/pithecene-io/opfsx/types"
)

// SortEntries orders entries in place: directories first, then by name in
// locale collation order. Equal names keep their relative order.
func SortEntries(entries []types.FileEntry) {
	col := collate.New(language.Und)
	slices.SortStableFunc(entries, func(a, b types.FileEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return col.CompareString(a.Name, b.Name)
	})
}
