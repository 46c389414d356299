// Package runner supervises change detection across a catalog of layers.
// Each layer is fetched, compared against its stored snapshot and persisted
// behind its own error boundary; one failing layer never stops its siblings.
package runner

import (
	"bytes"
	"context"
	"runtime"

	"github.com/bcgov/geodiff/diff"
	"github.com/bcgov/geodiff/diff/changes"
	"github.com/bcgov/geodiff/diff/keyresolve"
	"github.com/bcgov/geodiff/diff/report"
	"github.com/bcgov/geodiff/fetch"
	"github.com/bcgov/geodiff/geotable"
	"github.com/bcgov/geodiff/snapstore"
	"github.com/bcgov/geodiff/sourcecfg"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Fetcher yields the current dataset of a layer. *fetch.Client is the
// production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, l sourcecfg.Layer) (*geotable.Table, error)
}

// Outcome classifies how a layer's run ended.
type Outcome string

const (
	// OutcomeFirstRun is a layer with no previous snapshot; the fetched
	// dataset became the baseline.
	OutcomeFirstRun Outcome = "first_run"
	// OutcomeUnchanged is a comparison that found no differences.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeChanged is a comparison that found differences; the snapshot
	// rolled forward.
	OutcomeChanged Outcome = "changed"
	// OutcomeValidated is a validate-only run that passed.
	OutcomeValidated Outcome = "validated"
	// OutcomeFailed is any error; Kind and Err carry the cause.
	OutcomeFailed Outcome = "failed"
)

// ErrorKind buckets layer failures by the error taxonomy.
type ErrorKind string

const (
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindKeyUniqueness ErrorKind = "key_uniqueness"
	ErrorKindUpstream      ErrorKind = "upstream"
	ErrorKindInternal      ErrorKind = "internal"
)

// LayerResult is one layer's outcome within a batch.
type LayerResult struct {
	Layer   string
	Outcome Outcome
	// Report is set when a comparison or first run completed.
	Report *report.ChangeReport
	Kind   ErrorKind
	Err    error
}

// BatchSummary aggregates per-layer results in catalog order.
type BatchSummary struct {
	Results []LayerResult
}

// Failed returns the results of layers that did not complete.
func (s *BatchSummary) Failed() []LayerResult {
	var failed []LayerResult
	for _, res := range s.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Config holds the run-wide knobs.
type Config struct {
	// Workers caps how many layers run concurrently. 0 means NumCPU.
	Workers   int
	Precision float64
	Epsilon   float64
	// ValidateOnly fetches and key-checks layers without touching stored
	// snapshots.
	ValidateOnly bool
}

type Runner struct {
	cfg     Config
	logger  zerolog.Logger
	fetcher Fetcher
	store   snapstore.Store
}

func New(cfg Config, logger zerolog.Logger, fetcher Fetcher, store snapstore.Store) *Runner {
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Runner{
		cfg:     cfg,
		logger:  logger,
		fetcher: fetcher,
		store:   store,
	}
}

var layersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "geodiff",
	Subsystem: "runner",
	Name:      "layers_total",
	Help:      "Layers processed, by outcome.",
}, []string{"outcome"})

// Run processes every layer and returns the batch summary. Layer failures
// land in the summary, never in the returned error.
func (r *Runner) Run(ctx context.Context, layers []sourcecfg.Layer) (*BatchSummary, error) {
	summary := &BatchSummary{Results: make([]LayerResult, len(layers))}

	workCh := make(chan int)
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				idx, ok := <-workCh
				if !ok {
					return nil
				}
				summary.Results[idx] = r.runLayer(ctx, layers[idx])
			}
		})
	}

	go func() {
		defer close(workCh)
		for i := range layers {
			workCh <- i
		}
	}()

	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := map[Outcome]int{}
	for _, res := range summary.Results {
		layersProcessed.WithLabelValues(string(res.Outcome)).Inc()
		counts[res.Outcome]++
	}
	r.logger.Info().
		Int("layers", len(summary.Results)).
		Int("changed", counts[OutcomeChanged]).
		Int("unchanged", counts[OutcomeUnchanged]).
		Int("first_run", counts[OutcomeFirstRun]).
		Int("validated", counts[OutcomeValidated]).
		Int("failed", counts[OutcomeFailed]).
		Msgf("batch complete")
	return summary, nil
}

func (r *Runner) runLayer(ctx context.Context, l sourcecfg.Layer) LayerResult {
	logger := r.logger.With().Str("layer", l.OutLayer).Logger()
	res, err := r.processLayer(ctx, logger, l)
	if err != nil {
		kind := classifyError(err)
		logger.Err(err).Str("kind", string(kind)).Msgf("layer failed")
		return LayerResult{Layer: l.OutLayer, Outcome: OutcomeFailed, Kind: kind, Err: err}
	}
	return res
}

func (r *Runner) processLayer(
	ctx context.Context, logger zerolog.Logger, l sourcecfg.Layer,
) (LayerResult, error) {
	keySpec := keyresolve.Spec{
		PrimaryKey: l.PrimaryKey,
		HashFields: l.HashFields,
		Precision:  r.cfg.Precision,
	}
	diffOpts := []diff.Opt{
		diff.WithReporter(changes.LogReporter{Logger: logger}),
	}
	if r.cfg.Precision != 0 {
		diffOpts = append(diffOpts, diff.WithPrecision(r.cfg.Precision))
	}
	if r.cfg.Epsilon != 0 {
		diffOpts = append(diffOpts, diff.WithEpsilon(r.cfg.Epsilon))
	}

	logger.Info().Msgf("fetching current dataset")
	cur, err := r.fetcher.Fetch(ctx, l)
	if err != nil {
		return LayerResult{}, err
	}

	if r.cfg.ValidateOnly {
		if err := diff.Validate(cur, keySpec, diffOpts...); err != nil {
			return LayerResult{}, err
		}
		return LayerResult{Layer: l.OutLayer, Outcome: OutcomeValidated}, nil
	}

	prev, err := r.readSnapshot(ctx, l)
	if err != nil && !errors.Is(err, snapstore.ErrNotExist) {
		return LayerResult{}, err
	}

	if prev == nil {
		rep, err := diff.FirstRun(cur, keySpec, diffOpts...)
		if err != nil {
			return LayerResult{}, err
		}
		if err := r.persist(ctx, logger, l, cur, rep, report.ChangedFeatures{}, true); err != nil {
			return LayerResult{}, err
		}
		return LayerResult{Layer: l.OutLayer, Outcome: OutcomeFirstRun, Report: rep}, nil
	}

	rep, features, err := diff.Tables(prev, cur, keySpec, diffOpts...)
	if err != nil {
		return LayerResult{}, err
	}
	if err := r.persist(ctx, logger, l, cur, rep, features, rep.Changed()); err != nil {
		return LayerResult{}, err
	}
	outcome := OutcomeUnchanged
	if rep.Changed() {
		outcome = OutcomeChanged
	}
	return LayerResult{Layer: l.OutLayer, Outcome: outcome, Report: rep}, nil
}

func (r *Runner) readSnapshot(ctx context.Context, l sourcecfg.Layer) (*geotable.Table, error) {
	rc, err := r.store.Read(ctx, snapstore.SnapshotKey(l.OutLayer))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	tbl, err := geotable.ReadGeoJSON(rc, l.OutLayer)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading snapshot of %s", l.OutLayer)
	}
	return tbl, nil
}

// persist writes the report, keeps the changes archive in step and rolls the
// snapshot forward last, so a partial persist re-detects the same changes on
// the next run.
func (r *Runner) persist(
	ctx context.Context,
	logger zerolog.Logger,
	l sourcecfg.Layer,
	cur *geotable.Table,
	rep *report.ChangeReport,
	features report.ChangedFeatures,
	writeSnapshot bool,
) error {
	var buf bytes.Buffer
	if err := rep.Render(&buf); err != nil {
		return err
	}
	loc, err := r.store.Write(ctx, snapstore.ReportKey(l.OutLayer), &buf)
	if err != nil {
		return errors.Wrapf(err, "error writing report for %s", l.OutLayer)
	}
	logger.Debug().Str("location", loc).Msgf("wrote report")

	if !features.Empty() {
		buf.Reset()
		if err := features.WriteArchive(&buf); err != nil {
			return err
		}
		loc, err := r.store.Write(ctx, snapstore.ChangesKey(l.OutLayer), &buf)
		if err != nil {
			return errors.Wrapf(err, "error writing changes archive for %s", l.OutLayer)
		}
		logger.Debug().Str("location", loc).Msgf("wrote changes archive")
	} else if err := r.store.Delete(ctx, snapstore.ChangesKey(l.OutLayer)); err != nil {
		return errors.Wrapf(err, "error removing stale changes archive for %s", l.OutLayer)
	}

	if writeSnapshot {
		buf.Reset()
		if err := geotable.WriteGeoJSON(&buf, cur); err != nil {
			return err
		}
		loc, err := r.store.Write(ctx, snapstore.SnapshotKey(l.OutLayer), &buf)
		if err != nil {
			return errors.Wrapf(err, "error writing snapshot for %s", l.OutLayer)
		}
		logger.Info().Str("location", loc).Msgf("snapshot rolled forward")
	}
	return nil
}

func classifyError(err error) ErrorKind {
	cfgErr := (*sourcecfg.ConfigurationError)(nil)
	if errors.As(err, &cfgErr) {
		return ErrorKindConfiguration
	}
	colErr := (*keyresolve.ColumnError)(nil)
	if errors.As(err, &colErr) {
		return ErrorKindConfiguration
	}
	uniqErr := (*keyresolve.UniquenessError)(nil)
	if errors.As(err, &uniqErr) {
		return ErrorKindKeyUniqueness
	}
	upErr := (*fetch.UpstreamError)(nil)
	if errors.As(err, &upErr) {
		return ErrorKindUpstream
	}
	return ErrorKindInternal
}
