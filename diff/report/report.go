// Package report assembles the outputs of the comparison stages into the
// ChangeReport document persisted alongside each snapshot. Assembly is pure
// aggregation; ordering is deterministic (keys sorted by string form) so
// identical inputs render byte-identical JSON.
package report

import (
	"encoding/json"
	"io"
	"math"
	"sort"
	"time"

	"github.com/bcgov/geodiff/diff/keyresolve"
	"github.com/bcgov/geodiff/diff/rowdiff"
	"github.com/bcgov/geodiff/diff/rowmatch"
	"github.com/bcgov/geodiff/diff/schemadiff"
	"github.com/cockroachdb/errors"
)

// TypeChange is one type-changed column of the schema diff.
type TypeChange struct {
	Name string `json:"name"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// SchemaDiff is the structural column changes between the two versions.
type SchemaDiff struct {
	Added       []string     `json:"added"`
	Removed     []string     `json:"removed"`
	TypeChanged []TypeChange `json:"type_changed"`
}

// Counts summarizes the row classification.
type Counts struct {
	Inserted  int `json:"inserted"`
	Deleted   int `json:"deleted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// RecordCounts carries the raw row counts of both versions.
type RecordCounts struct {
	Previous      int     `json:"previous"`
	Current       int     `json:"current"`
	Difference    int     `json:"difference"`
	DifferencePct float64 `json:"difference_pct"`
}

// ColumnValue is one differing column of an updated row. Comparable is
// false when the column's values could not be coerced to a common
// representation.
type ColumnValue struct {
	Name       string      `json:"name"`
	Old        interface{} `json:"old"`
	New        interface{} `json:"new"`
	Comparable bool        `json:"comparable"`
}

// RowDiff is one updated row. Unchanged rows are counted but carry no
// entry.
type RowDiff struct {
	Key                string        `json:"key"`
	Status             string        `json:"status"`
	Columns            []ColumnValue `json:"columns"`
	GeometryChanged    bool          `json:"geometry_changed"`
	GeometryDiffMetric float64       `json:"geometry_diff_metric"`
}

// ChangeReport is the structured comparison result for one layer. Built
// once per comparison, immutable afterwards.
type ChangeReport struct {
	Layer        string       `json:"layer"`
	KeyMode      string       `json:"key_mode"`
	SchemaDiff   SchemaDiff   `json:"schema_diff"`
	Counts       Counts       `json:"counts"`
	RecordCounts RecordCounts `json:"record_counts"`
	InsertedKeys []string     `json:"inserted_keys"`
	DeletedKeys  []string     `json:"deleted_keys"`
	RowDiffs     []RowDiff    `json:"row_diffs"`
}

// Changed reports whether the comparison found any schema or row change.
func (r *ChangeReport) Changed() bool {
	return r.Counts.Inserted > 0 || r.Counts.Deleted > 0 || r.Counts.Updated > 0 ||
		len(r.SchemaDiff.Added) > 0 || len(r.SchemaDiff.Removed) > 0 ||
		len(r.SchemaDiff.TypeChanged) > 0
}

// Render writes the report as indented JSON. Output is byte-identical for
// identical reports.
func (r *ChangeReport) Render(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error rendering change report")
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "error writing change report")
	}
	return nil
}

// Parse decodes a rendered report.
func Parse(data []byte) (*ChangeReport, error) {
	var r ChangeReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "error decoding change report")
	}
	return &r, nil
}

// Assemble combines the stage outputs into a ChangeReport for one layer.
// rowResults must hold one entry per matched pair.
func Assemble(
	layer string,
	mode keyresolve.Mode,
	sd schemadiff.Diff,
	match rowmatch.Result,
	rowResults []rowdiff.Result,
	prevRows, curRows int,
) *ChangeReport {
	ret := &ChangeReport{
		Layer:        layer,
		KeyMode:      mode.String(),
		SchemaDiff:   convertSchemaDiff(sd),
		RecordCounts: recordCounts(prevRows, curRows),
		InsertedKeys: sortedKeys(match.Inserted),
		DeletedKeys:  sortedKeys(match.Deleted),
		RowDiffs:     []RowDiff{},
	}
	ret.Counts.Inserted = len(match.Inserted)
	ret.Counts.Deleted = len(match.Deleted)
	for _, res := range rowResults {
		if res.Status != rowdiff.StatusUpdated {
			ret.Counts.Unchanged++
			continue
		}
		ret.Counts.Updated++
		entry := RowDiff{
			Key:                string(res.Key),
			Status:             res.Status.String(),
			Columns:            make([]ColumnValue, len(res.Columns)),
			GeometryChanged:    res.GeometryChanged,
			GeometryDiffMetric: res.GeometryDiffMetric,
		}
		for i, col := range res.Columns {
			entry.Columns[i] = ColumnValue{
				Name:       col.Name,
				Old:        jsonValue(col.Old),
				New:        jsonValue(col.New),
				Comparable: col.Comparable,
			}
		}
		ret.RowDiffs = append(ret.RowDiffs, entry)
	}
	sort.Slice(ret.RowDiffs, func(i, j int) bool {
		return ret.RowDiffs[i].Key < ret.RowDiffs[j].Key
	})
	return ret
}

func convertSchemaDiff(sd schemadiff.Diff) SchemaDiff {
	ret := SchemaDiff{
		Added:       []string{},
		Removed:     []string{},
		TypeChanged: []TypeChange{},
	}
	for _, col := range sd.Added {
		ret.Added = append(ret.Added, col.Name)
	}
	for _, col := range sd.Removed {
		ret.Removed = append(ret.Removed, col.Name)
	}
	for _, tc := range sd.TypeChanged {
		ret.TypeChanged = append(ret.TypeChanged, TypeChange{
			Name: tc.Name,
			Old:  tc.Old.String(),
			New:  tc.New.String(),
		})
	}
	return ret
}

func recordCounts(prevRows, curRows int) RecordCounts {
	ret := RecordCounts{
		Previous:   prevRows,
		Current:    curRows,
		Difference: curRows - prevRows,
	}
	if prevRows > 0 {
		pct := float64(ret.Difference) / float64(prevRows) * 100
		ret.DifferencePct = math.Round(pct*100) / 100
	}
	return ret
}

func sortedKeys(entries []rowmatch.Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = string(e.Key)
	}
	sort.Strings(keys)
	return keys
}

// jsonValue maps a column value to its JSON rendering. Timestamps render
// as RFC 3339 UTC; other scalars pass through.
func jsonValue(v interface{}) interface{} {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(time.RFC3339Nano)
	}
	return v
}
