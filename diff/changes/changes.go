// Package changes defines the reportable change objects emitted while a
// layer comparison runs, and the Reporter fan-in they flow through.
package changes

import (
	"github.com/bcgov/geodiff/diff/keyresolve"
	"github.com/bcgov/geodiff/diff/rowdiff"
	"github.com/bcgov/geodiff/geotable"
)

type ReportableObject interface{}

// StatusReport carries free-form progress information.
type StatusReport struct {
	Info string
}

// ColumnAdded is a column present only in the current schema.
type ColumnAdded struct {
	Layer  string
	Column geotable.Column
}

// ColumnRemoved is a column present only in the previous schema.
type ColumnRemoved struct {
	Layer  string
	Column geotable.Column
}

// ColumnTypeChanged is a column whose normalized semantic type differs
// between versions.
type ColumnTypeChanged struct {
	Layer string
	Name  string
	Old   geotable.Type
	New   geotable.Type
}

// RowInserted is a key present only in the current table.
type RowInserted struct {
	Layer string
	Key   keyresolve.Key
}

// RowDeleted is a key present only in the previous table.
type RowDeleted struct {
	Layer string
	Key   keyresolve.Key
}

// RowUpdated is a matched key whose attribute values or geometry changed.
type RowUpdated struct {
	Layer              string
	Key                keyresolve.Key
	Columns            []rowdiff.ColumnDiff
	GeometryChanged    bool
	GeometryDiffMetric float64
}
