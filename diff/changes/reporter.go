package changes

import (
	"fmt"

	"github.com/bcgov/geodiff/geotable"
	"github.com/rs/zerolog"
)

type Reporter interface {
	Report(obj ReportableObject)
	Close()
}

type CombinedReporter struct {
	Reporters []Reporter
}

func (c CombinedReporter) Report(obj ReportableObject) {
	for _, r := range c.Reporters {
		r.Report(obj)
	}
}

func (c CombinedReporter) Close() {
	for _, r := range c.Reporters {
		r.Close()
	}
}

// LogReporter reports to `zerolog`.
type LogReporter struct {
	zerolog.Logger
}

func (l LogReporter) Report(obj ReportableObject) {
	switch obj := obj.(type) {
	case StatusReport:
		l.Info().Msg(obj.Info)
	case ColumnAdded:
		l.Warn().
			Str("layer", obj.Layer).
			Str("column", obj.Column.Name).
			Str("type", obj.Column.Type.String()).
			Msgf("column added")
	case ColumnRemoved:
		l.Warn().
			Str("layer", obj.Layer).
			Str("column", obj.Column.Name).
			Str("type", obj.Column.Type.String()).
			Msgf("column removed")
	case ColumnTypeChanged:
		l.Warn().
			Str("layer", obj.Layer).
			Str("column", obj.Name).
			Str("old_type", obj.Old.String()).
			Str("new_type", obj.New.String()).
			Msgf("column type changed")
	case RowInserted:
		l.Warn().
			Str("layer", obj.Layer).
			Str("key", string(obj.Key)).
			Msgf("row inserted")
	case RowDeleted:
		l.Warn().
			Str("layer", obj.Layer).
			Str("key", string(obj.Key)).
			Msgf("row deleted")
	case RowUpdated:
		oldVals := zerolog.Dict()
		newVals := zerolog.Dict()
		for _, col := range obj.Columns {
			oldVals = oldVals.Str(col.Name, reportableVal(col.Old))
			newVals = newVals.Str(col.Name, reportableVal(col.New))
		}
		ev := l.Warn().
			Str("layer", obj.Layer).
			Str("key", string(obj.Key)).
			Dict("old_values", oldVals).
			Dict("new_values", newVals)
		if obj.GeometryChanged {
			ev = ev.Float64("geometry_diff_metric", obj.GeometryDiffMetric)
		}
		ev.Msgf("row updated")
	default:
		l.Error().
			Str("type", fmt.Sprintf("%T", obj)).
			Msgf("unknown object type")
	}
}

func reportableVal(v interface{}) string {
	return geotable.FormatValue(v)
}

func (l LogReporter) Close() {
}
