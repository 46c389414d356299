package report

import (
	"archive/zip"
	"io"
	"sort"

	"github.com/bcgov/geodiff/diff/rowdiff"
	"github.com/bcgov/geodiff/diff/rowmatch"
	"github.com/bcgov/geodiff/geotable"
	"github.com/cockroachdb/errors"
)

// ChangedFeatures holds the per-category feature sets persisted next to the
// report: inserted and updated rows carry current-table data, deleted rows
// previous-table data. Categories with no rows are nil.
type ChangedFeatures struct {
	Inserted *geotable.Table
	Deleted  *geotable.Table
	Updated  *geotable.Table
}

func (f ChangedFeatures) Empty() bool {
	return f.Inserted == nil && f.Deleted == nil && f.Updated == nil
}

// CollectChangedFeatures extracts the changed rows from both table versions,
// each category ordered by key. rowResults must parallel match.Matched, as
// produced by the differ.
func CollectChangedFeatures(
	prev, cur *geotable.Table, match rowmatch.Result, rowResults []rowdiff.Result,
) ChangedFeatures {
	var updated []rowmatch.Entry
	for i, res := range rowResults {
		if res.Status == rowdiff.StatusUpdated {
			updated = append(updated, rowmatch.Entry{
				Key: res.Key,
				Row: match.Matched[i].Cur,
			})
		}
	}
	return ChangedFeatures{
		Inserted: subsetByKey(cur, "inserted", match.Inserted),
		Deleted:  subsetByKey(prev, "deleted", match.Deleted),
		Updated:  subsetByKey(cur, "updated", updated),
	}
}

func subsetByKey(src *geotable.Table, name string, entries []rowmatch.Entry) *geotable.Table {
	if len(entries) == 0 {
		return nil
	}
	sorted := make([]rowmatch.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})
	ret := &geotable.Table{
		Name:    name,
		CRS:     src.CRS,
		Columns: src.Columns,
		Rows:    make([]geotable.Row, len(sorted)),
	}
	for i, e := range sorted {
		ret.Rows[i] = src.Rows[e.Row]
	}
	return ret
}

// WriteArchive writes the non-empty categories as one GeoJSON document each
// inside a zip archive.
func (f ChangedFeatures) WriteArchive(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, tbl := range []*geotable.Table{f.Inserted, f.Deleted, f.Updated} {
		if tbl == nil {
			continue
		}
		fw, err := zw.Create(tbl.Name + ".geojson")
		if err != nil {
			return errors.Wrapf(err, "error creating %s archive entry", tbl.Name)
		}
		if err := geotable.WriteGeoJSON(fw, tbl); err != nil {
			return errors.Wrapf(err, "error encoding %s features", tbl.Name)
		}
	}
	return errors.Wrap(zw.Close(), "error finalizing changes archive")
}
