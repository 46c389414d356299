// Package geotable holds the in-memory table model for spatial datasets:
// typed attribute columns, one geometry per row, and the GeoJSON codec
// used for snapshots. Tables are immutable snapshots once loaded; no
// downstream stage mutates them.
package geotable

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/twpayne/go-geom"
)

// Type is the normalized semantic type of a column. Source-specific type
// labels (esri field types, JSON scalars) are folded into this set at load
// time so that two representations of "integer" from different sources
// compare as equal.
type Type int

const (
	TypeOther Type = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeTimestamp
	TypeGeometry
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeGeometry:
		return "geometry"
	}
	return "other"
}

// Column is a named attribute column. Names are unique within a Table and
// lowercased at load time.
type Column struct {
	Name string
	Type Type
}

// Row holds one value per table column (possibly nil), indexed parallel to
// Table.Columns, plus the row geometry (nil for non-spatial rows).
type Row struct {
	Values   []interface{}
	Geometry geom.T
}

// Table is an ordered set of columns plus rows. Column order is
// display-only; comparison never depends on it.
type Table struct {
	Name    string
	CRS     string
	Columns []Column
	Rows    []Row
}

// ColumnIndex returns the index of the named column, matching
// case-insensitively since names are lowercased at load.
func (t *Table) ColumnIndex(name string) (int, bool) {
	name = strings.ToLower(name)
	for i, col := range t.Columns {
		if col.Name == name {
			return i, true
		}
	}
	return 0, false
}

// ColumnNames returns the column names in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// Project returns a new table restricted to the given columns, in the given
// order, carrying geometries through. An unknown column is an error.
func (t *Table) Project(names []string) (*Table, error) {
	idxs := make([]int, len(names))
	cols := make([]Column, len(names))
	for i, name := range names {
		idx, ok := t.ColumnIndex(name)
		if !ok {
			return nil, errors.Newf("column %q not found in table %s", name, t.Name)
		}
		idxs[i] = idx
		cols[i] = t.Columns[idx]
	}
	ret := &Table{
		Name:    t.Name,
		CRS:     t.CRS,
		Columns: cols,
		Rows:    make([]Row, len(t.Rows)),
	}
	for ri, row := range t.Rows {
		vals := make([]interface{}, len(idxs))
		for vi, idx := range idxs {
			vals[vi] = row.Values[idx]
		}
		ret.Rows[ri] = Row{Values: vals, Geometry: row.Geometry}
	}
	return ret, nil
}

// NormalizeNull folds the two null representations seen in source data
// (JSON null and the empty string) into one canonical nil.
func NormalizeNull(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return v
}

// FormatValue renders a value for key synthesis and reporting. The nil
// rendering ("NULL") is part of the key format and must not change.
func FormatValue(v interface{}) string {
	switch v := NormalizeNull(v).(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp renderings commonly seen in source
// data. Layouts without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// inferType picks the semantic type for a column from its observed values.
// JSON numbers arrive as float64; a column of integral numbers is an int
// column. A string column where every non-null value parses as a timestamp
// is a timestamp column. Mixed scalar kinds fold to other.
func inferType(vals []interface{}) Type {
	typ := Type(-1)
	allTimestamps := true
	for _, v := range vals {
		v = NormalizeNull(v)
		if v == nil {
			continue
		}
		var vt Type
		switch v := v.(type) {
		case bool:
			vt = TypeBool
		case float64:
			if isIntegral(v) {
				vt = TypeInt
			} else {
				vt = TypeFloat
			}
		case string:
			vt = TypeString
			if _, ok := ParseTimestamp(v); !ok {
				allTimestamps = false
			}
		default:
			vt = TypeOther
		}
		switch {
		case typ == Type(-1):
			typ = vt
		case typ == vt:
		case typ == TypeInt && vt == TypeFloat, typ == TypeFloat && vt == TypeInt:
			typ = TypeFloat
		default:
			return TypeOther
		}
	}
	switch {
	case typ == Type(-1):
		// All-null column: treat as string.
		return TypeString
	case typ == TypeString && allTimestamps:
		return TypeTimestamp
	}
	return typ
}

func isIntegral(v float64) bool {
	return v == math.Trunc(v) && math.Abs(v) < 1<<53
}

// convertValue normalizes a decoded JSON value to the column type's
// canonical Go representation: int64, float64, bool, string or time.Time.
// Values that do not fit the column type are kept raw.
func convertValue(v interface{}, typ Type) interface{} {
	v = NormalizeNull(v)
	if v == nil {
		return nil
	}
	switch typ {
	case TypeInt:
		if f, ok := v.(float64); ok && isIntegral(f) {
			return int64(f)
		}
	case TypeTimestamp:
		if s, ok := v.(string); ok {
			if ts, ok := ParseTimestamp(s); ok {
				return ts
			}
		}
	}
	return v
}
