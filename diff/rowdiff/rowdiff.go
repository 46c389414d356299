// Package rowdiff compares matched row pairs column by column. Only columns
// present in both schemas are compared; type-changed columns are coerced
// best-effort to a common representation, and a failed coercion is recorded
// as a changed column with Comparable set false rather than dropped.
package rowdiff

import (
	"strings"
	"time"

	"github.com/bcgov/geodiff/diff/keyresolve"
	"github.com/bcgov/geodiff/diff/schemadiff"
	"github.com/bcgov/geodiff/geomcmp"
	"github.com/bcgov/geodiff/geotable"
	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
)

// DefaultEpsilon is the default tolerance for numeric comparison.
const DefaultEpsilon = 1e-9

// Status classifies a matched row pair.
type Status int

const (
	StatusUnchanged Status = iota
	StatusUpdated
)

func (s Status) String() string {
	if s == StatusUpdated {
		return "updated"
	}
	return "unchanged"
}

// ColumnDiff is one differing column of a matched row pair. Comparable is
// false when the column's types could not be coerced to a common
// representation; Old and New then hold the raw values from each side.
type ColumnDiff struct {
	Name       string
	Old        interface{}
	New        interface{}
	Comparable bool
}

// Result is the comparison outcome for one matched key.
type Result struct {
	Key                keyresolve.Key
	Status             Status
	Columns            []ColumnDiff
	GeometryChanged    bool
	GeometryDiffMetric float64
}

// Options bound the numeric and geometric tolerances. Zero values select the
// package defaults.
type Options struct {
	// Precision is the geometry rounding precision, shared with key
	// synthesis.
	Precision float64
	// Epsilon is the numeric comparison tolerance.
	Epsilon float64
}

type sharedColumn struct {
	name        string
	prevIdx     int
	curIdx      int
	prevType    geotable.Type
	curType     geotable.Type
	typeChanged bool
}

// Differ compares row pairs of one previous/current table pair. The set of
// comparable columns is fixed at construction from the schema diff.
type Differ struct {
	prev, cur *geotable.Table
	columns   []sharedColumn
	precision float64
	epsilon   *apd.Decimal
	apdCtx    *apd.Context
}

// NewDiffer prepares a differ for the given table pair. Columns listed as
// added or removed in sd are excluded from comparison; type-changed columns
// are retained and coerced per row.
func NewDiffer(prev, cur *geotable.Table, sd schemadiff.Diff, opts Options) (*Differ, error) {
	if opts.Precision == 0 {
		opts.Precision = geomcmp.DefaultPrecision
	}
	if opts.Epsilon == 0 {
		opts.Epsilon = DefaultEpsilon
	}
	eps := new(apd.Decimal)
	if _, err := eps.SetFloat64(opts.Epsilon); err != nil {
		return nil, errors.Wrapf(err, "invalid epsilon %v", opts.Epsilon)
	}
	typeChanged := make(map[string]struct{}, len(sd.TypeChanged))
	for _, tc := range sd.TypeChanged {
		typeChanged[tc.Name] = struct{}{}
	}
	skip := make(map[string]struct{}, len(sd.Added)+len(sd.Removed))
	for _, col := range sd.Added {
		skip[col.Name] = struct{}{}
	}
	for _, col := range sd.Removed {
		skip[col.Name] = struct{}{}
	}

	apdCtx := apd.BaseContext.WithPrecision(50)
	d := &Differ{
		prev:      prev,
		cur:       cur,
		precision: opts.Precision,
		epsilon:   eps,
		apdCtx:    apdCtx,
	}
	// Walk the previous table's column order so per-row output ordering is
	// stable regardless of current-table column order.
	for prevIdx, col := range prev.Columns {
		if _, ok := skip[col.Name]; ok {
			continue
		}
		curIdx, ok := cur.ColumnIndex(col.Name)
		if !ok {
			return nil, errors.AssertionFailedf(
				"column %q in neither schema diff nor current table", col.Name,
			)
		}
		_, changed := typeChanged[col.Name]
		d.columns = append(d.columns, sharedColumn{
			name:        col.Name,
			prevIdx:     prevIdx,
			curIdx:      curIdx,
			prevType:    col.Type,
			curType:     cur.Columns[curIdx].Type,
			typeChanged: changed,
		})
	}
	return d, nil
}

// Compare diffs one matched row pair.
func (d *Differ) Compare(key keyresolve.Key, prevRow, curRow geotable.Row) (Result, error) {
	ret := Result{Key: key}
	for _, col := range d.columns {
		oldVal := geotable.NormalizeNull(prevRow.Values[col.prevIdx])
		newVal := geotable.NormalizeNull(curRow.Values[col.curIdx])
		equal, comparable := d.valuesEqual(oldVal, newVal, col)
		if !comparable {
			ret.Columns = append(ret.Columns, ColumnDiff{
				Name: col.name,
				Old:  prevRow.Values[col.prevIdx],
				New:  curRow.Values[col.curIdx],
			})
			continue
		}
		if !equal {
			ret.Columns = append(ret.Columns, ColumnDiff{
				Name:       col.name,
				Old:        oldVal,
				New:        newVal,
				Comparable: true,
			})
		}
	}

	geomEqual, err := geomcmp.Equal(prevRow.Geometry, curRow.Geometry, d.precision)
	if err != nil {
		return Result{}, err
	}
	if !geomEqual {
		ret.GeometryChanged = true
		metric, err := geomcmp.DiffMetric(prevRow.Geometry, curRow.Geometry, d.precision)
		if err != nil {
			return Result{}, err
		}
		ret.GeometryDiffMetric = metric
	}
	if len(ret.Columns) > 0 || ret.GeometryChanged {
		ret.Status = StatusUpdated
	}
	return ret, nil
}

// valuesEqual compares two normalized values under the column's type pair.
// The second return is false when no common comparable representation
// exists.
func (d *Differ) valuesEqual(oldVal, newVal interface{}, col sharedColumn) (equal, comparable bool) {
	if oldVal == nil || newVal == nil {
		return oldVal == nil && newVal == nil, true
	}
	if !col.typeChanged {
		switch col.prevType {
		case geotable.TypeString:
			o, oOK := oldVal.(string)
			n, nOK := newVal.(string)
			if oOK && nOK {
				return o == n, true
			}
		case geotable.TypeInt, geotable.TypeFloat:
			return d.numericEqual(oldVal, newVal)
		case geotable.TypeBool:
			o, oOK := oldVal.(bool)
			n, nOK := newVal.(bool)
			if oOK && nOK {
				return o == n, true
			}
		case geotable.TypeTimestamp:
			return d.timestampEqual(oldVal, newVal)
		}
		// TypeOther and mistyped values: exact comparison on the rendered
		// form.
		return geotable.FormatValue(oldVal) == geotable.FormatValue(newVal), true
	}
	return d.coercedEqual(oldVal, newVal)
}

// coercedEqual compares values of a type-changed column, trying the
// strictest common representation first.
func (d *Differ) coercedEqual(oldVal, newVal interface{}) (equal, comparable bool) {
	if eq, ok := d.numericEqual(oldVal, newVal); ok {
		return eq, true
	}
	if eq, ok := d.timestampEqual(oldVal, newVal); ok {
		return eq, true
	}
	if eq, ok := boolEqual(oldVal, newVal); ok {
		return eq, true
	}
	o, oOK := oldVal.(string)
	n, nOK := newVal.(string)
	if oOK && nOK {
		return o == n, true
	}
	return false, false
}

// numericEqual compares within epsilon. Values carried as strings go
// through apd decimals so large or high-precision numerics do not lose
// precision in a float64 round trip.
func (d *Differ) numericEqual(oldVal, newVal interface{}) (equal, comparable bool) {
	o, oOK := toDecimal(oldVal)
	if !oOK {
		return false, false
	}
	n, nOK := toDecimal(newVal)
	if !nOK {
		return false, false
	}
	var diff apd.Decimal
	if _, err := d.apdCtx.Sub(&diff, o, n); err != nil {
		return false, false
	}
	diff.Negative = false
	return diff.Cmp(d.epsilon) <= 0, true
}

func toDecimal(v interface{}) (*apd.Decimal, bool) {
	d := new(apd.Decimal)
	switch v := v.(type) {
	case int64:
		return apd.New(v, 0), true
	case float64:
		if _, err := d.SetFloat64(v); err != nil {
			return nil, false
		}
		return d, true
	case string:
		if _, _, err := d.SetString(strings.TrimSpace(v)); err != nil {
			return nil, false
		}
		return d, true
	}
	return nil, false
}

func (d *Differ) timestampEqual(oldVal, newVal interface{}) (equal, comparable bool) {
	o, oOK := toTimestamp(oldVal)
	if !oOK {
		return false, false
	}
	n, nOK := toTimestamp(newVal)
	if !nOK {
		return false, false
	}
	return o.UTC().Equal(n.UTC()), true
}

func toTimestamp(v interface{}) (time.Time, bool) {
	switch v := v.(type) {
	case time.Time:
		return v, true
	case string:
		return geotable.ParseTimestamp(v)
	}
	return time.Time{}, false
}

func boolEqual(oldVal, newVal interface{}) (equal, comparable bool) {
	o, oOK := toBool(oldVal)
	if !oOK {
		return false, false
	}
	n, nOK := toBool(newVal)
	if !nOK {
		return false, false
	}
	return o == n, true
}

func toBool(v interface{}) (bool, bool) {
	switch v := v.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "1":
			return true, true
		case "false", "f", "no", "n", "0":
			return false, true
		}
	}
	return false, false
}
