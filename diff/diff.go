// Package diff orchestrates the change-detection pipeline for one layer:
// key resolution, schema comparison, row matching, row comparison and
// report assembly. The pipeline is synchronous and purely in-memory; each
// stage runs to completion before the next begins and no input table is
// ever mutated.
package diff

import (
	"fmt"

	"github.com/bcgov/geodiff/diff/changes"
	"github.com/bcgov/geodiff/diff/keyresolve"
	"github.com/bcgov/geodiff/diff/report"
	"github.com/bcgov/geodiff/diff/rowdiff"
	"github.com/bcgov/geodiff/diff/rowmatch"
	"github.com/bcgov/geodiff/diff/schemadiff"
	"github.com/bcgov/geodiff/geomcmp"
	"github.com/bcgov/geodiff/geotable"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Opt func(*opts)

type opts struct {
	precision float64
	epsilon   float64
	reporter  changes.Reporter
}

// WithPrecision sets the geometry rounding precision used for both key
// synthesis and geometry comparison.
func WithPrecision(p float64) Opt {
	return func(o *opts) {
		o.precision = p
	}
}

// WithEpsilon sets the numeric comparison tolerance.
func WithEpsilon(e float64) Opt {
	return func(o *opts) {
		o.epsilon = e
	}
}

// WithReporter streams change objects to the given reporter as the
// comparison runs.
func WithReporter(r changes.Reporter) Opt {
	return func(o *opts) {
		o.reporter = r
	}
}

func makeOpts(inOpts []Opt) opts {
	o := opts{
		precision: geomcmp.DefaultPrecision,
		epsilon:   rowdiff.DefaultEpsilon,
		reporter:  nopReporter{},
	}
	for _, applyOpt := range inOpts {
		applyOpt(&o)
	}
	return o
}

type nopReporter struct{}

func (nopReporter) Report(changes.ReportableObject) {}
func (nopReporter) Close()                          {}

var rowsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "geodiff",
	Subsystem: "diff",
	Name:      "rows_classified_total",
	Help:      "Rows classified by the differ, by status.",
}, []string{"status"})

// Tables compares a previous/current pair of snapshots of the same logical
// layer and returns the assembled ChangeReport plus the changed feature
// sets backing the changes archive. Both tables must share a coordinate
// reference system; reprojection is the loader's problem, not ours.
func Tables(
	prev, cur *geotable.Table, keySpec keyresolve.Spec, inOpts ...Opt,
) (*report.ChangeReport, report.ChangedFeatures, error) {
	o := makeOpts(inOpts)
	if keySpec.Precision == 0 {
		keySpec.Precision = o.precision
	}

	if prev.CRS != cur.CRS {
		return nil, report.ChangedFeatures{}, errors.Newf(
			"coordinate reference systems differ: previous %q, current %q",
			prev.CRS, cur.CRS,
		)
	}

	prevKeys, err := keyresolve.Resolve(prev, keySpec)
	if err != nil {
		return nil, report.ChangedFeatures{}, err
	}
	curKeys, err := keyresolve.Resolve(cur, keySpec)
	if err != nil {
		return nil, report.ChangedFeatures{}, err
	}

	sd := schemadiff.Compare(prev, cur)
	reportSchemaDiff(o.reporter, cur.Name, sd)

	match := rowmatch.Join(prevKeys.Keys, curKeys.Keys)
	for _, e := range match.Inserted {
		o.reporter.Report(changes.RowInserted{Layer: cur.Name, Key: e.Key})
	}
	for _, e := range match.Deleted {
		o.reporter.Report(changes.RowDeleted{Layer: cur.Name, Key: e.Key})
	}

	differ, err := rowdiff.NewDiffer(prev, cur, sd, rowdiff.Options{
		Precision: o.precision,
		Epsilon:   o.epsilon,
	})
	if err != nil {
		return nil, report.ChangedFeatures{}, err
	}
	rowResults := make([]rowdiff.Result, len(match.Matched))
	for i, m := range match.Matched {
		res, err := differ.Compare(m.Key, prev.Rows[m.Prev], cur.Rows[m.Cur])
		if err != nil {
			return nil, report.ChangedFeatures{}, errors.Wrapf(err, "error comparing row %q", m.Key)
		}
		if res.Status == rowdiff.StatusUpdated {
			o.reporter.Report(changes.RowUpdated{
				Layer:              cur.Name,
				Key:                res.Key,
				Columns:            res.Columns,
				GeometryChanged:    res.GeometryChanged,
				GeometryDiffMetric: res.GeometryDiffMetric,
			})
		}
		rowResults[i] = res
	}

	ret := report.Assemble(
		cur.Name, curKeys.Mode, sd, match, rowResults, len(prev.Rows), len(cur.Rows),
	)
	features := report.CollectChangedFeatures(prev, cur, match, rowResults)
	observeCounts(ret.Counts)
	o.reporter.Report(changes.StatusReport{Info: summarize(cur.Name, ret)})
	return ret, features, nil
}

// FirstRun builds the report for a layer with no previous snapshot: every
// current row is an insertion, there are no deletions and the schema diff
// baseline is empty.
func FirstRun(
	cur *geotable.Table, keySpec keyresolve.Spec, inOpts ...Opt,
) (*report.ChangeReport, error) {
	o := makeOpts(inOpts)
	if keySpec.Precision == 0 {
		keySpec.Precision = o.precision
	}

	curKeys, err := keyresolve.Resolve(cur, keySpec)
	if err != nil {
		return nil, err
	}
	match := rowmatch.Join(nil, curKeys.Keys)
	ret := report.Assemble(
		cur.Name, curKeys.Mode, schemadiff.Diff{}, match, nil, 0, len(cur.Rows),
	)
	observeCounts(ret.Counts)
	o.reporter.Report(changes.StatusReport{
		Info: fmt.Sprintf("%s: first run, %d rows loaded", cur.Name, len(cur.Rows)),
	})
	return ret, nil
}

// Validate exercises key resolution (including the uniqueness check) on one
// table without a comparison, returning the same error taxonomy as a full
// run.
func Validate(tbl *geotable.Table, keySpec keyresolve.Spec, inOpts ...Opt) error {
	o := makeOpts(inOpts)
	if keySpec.Precision == 0 {
		keySpec.Precision = o.precision
	}
	res, err := keyresolve.Resolve(tbl, keySpec)
	if err != nil {
		return err
	}
	o.reporter.Report(changes.StatusReport{
		Info: fmt.Sprintf(
			"%s: %d rows valid, key mode %s", tbl.Name, len(res.Keys), res.Mode,
		),
	})
	return nil
}

func reportSchemaDiff(reporter changes.Reporter, layer string, sd schemadiff.Diff) {
	for _, col := range sd.Added {
		reporter.Report(changes.ColumnAdded{Layer: layer, Column: col})
	}
	for _, col := range sd.Removed {
		reporter.Report(changes.ColumnRemoved{Layer: layer, Column: col})
	}
	for _, tc := range sd.TypeChanged {
		reporter.Report(changes.ColumnTypeChanged{
			Layer: layer, Name: tc.Name, Old: tc.Old, New: tc.New,
		})
	}
}

func observeCounts(c report.Counts) {
	rowsClassified.WithLabelValues("inserted").Add(float64(c.Inserted))
	rowsClassified.WithLabelValues("deleted").Add(float64(c.Deleted))
	rowsClassified.WithLabelValues("updated").Add(float64(c.Updated))
	rowsClassified.WithLabelValues("unchanged").Add(float64(c.Unchanged))
}

func summarize(layer string, r *report.ChangeReport) string {
	return fmt.Sprintf(
		"%s: finished comparison: inserted: %d, deleted: %d, updated: %d, unchanged: %d",
		layer,
		r.Counts.Inserted,
		r.Counts.Deleted,
		r.Counts.Updated,
		r.Counts.Unchanged,
	)
}
