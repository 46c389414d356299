package runner

import (
	"context"
	"io"
	"sort"
	"testing"

	"github.com/bcgov/geodiff/diff/keyresolve"
	"github.com/bcgov/geodiff/diff/report"
	"github.com/bcgov/geodiff/fetch"
	"github.com/bcgov/geodiff/geotable"
	"github.com/bcgov/geodiff/snapstore"
	"github.com/bcgov/geodiff/sourcecfg"
	"github.com/bcgov/geodiff/testutils"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves canned GeoJSON documents per layer. Tests mutate docs
// only between runs.
type fakeFetcher struct {
	docs map[string]string
	errs map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, l sourcecfg.Layer) (*geotable.Table, error) {
	if err := f.errs[l.OutLayer]; err != nil {
		return nil, err
	}
	doc, ok := f.docs[l.OutLayer]
	if !ok {
		return nil, &fetch.UpstreamError{
			Layer: l.OutLayer,
			URL:   l.Source,
			Err:   errors.New("no features returned"),
		}
	}
	return geotable.ParseGeoJSON([]byte(doc), l.OutLayer)
}

func parksLayer() sourcecfg.Layer {
	return sourcecfg.Layer{
		OutLayer:   "parks",
		Source:     "https://example.test/parks.geojson",
		Protocol:   sourcecfg.ProtocolHTTP,
		Fields:     []string{"id", "name"},
		Schedule:   sourcecfg.ScheduleDaily,
		PrimaryKey: []string{"id"},
	}
}

const parksV1 = `{"type": "FeatureCollection", "features": [
{"type": "Feature", "properties": {"id": 1, "name": "Alpha"}, "geometry": {"type": "Point", "coordinates": [1, 1]}},
{"type": "Feature", "properties": {"id": 2, "name": "Beta"}, "geometry": {"type": "Point", "coordinates": [2, 2]}}
]}`

const parksV2 = `{"type": "FeatureCollection", "features": [
{"type": "Feature", "properties": {"id": 1, "name": "Alpha"}, "geometry": {"type": "Point", "coordinates": [1, 1]}},
{"type": "Feature", "properties": {"id": 2, "name": "Bee"}, "geometry": {"type": "Point", "coordinates": [2, 2]}},
{"type": "Feature", "properties": {"id": 3, "name": "Gamma"}, "geometry": {"type": "Point", "coordinates": [3, 3]}}
]}`

func readStored(t *testing.T, store snapstore.Store, key string) []byte {
	t.Helper()
	rc, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	return data
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := snapstore.NewMemStore()
	fetcher := &fakeFetcher{docs: map[string]string{"parks": parksV1}}
	r := New(Config{Workers: 1}, zerolog.Nop(), fetcher, store)
	layers := []sourcecfg.Layer{parksLayer()}

	// First run establishes the baseline: snapshot and report, no archive.
	summary, err := r.Run(ctx, layers)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, OutcomeFirstRun, summary.Results[0].Outcome)
	require.Equal(t, report.Counts{Inserted: 2}, summary.Results[0].Report.Counts)
	keys := store.Keys()
	sort.Strings(keys)
	require.Equal(t, []string{"parks.geojson", "parks.report.json"}, keys)
	baseline := readStored(t, store, "parks.geojson")

	// Same data again: unchanged, snapshot byte-stable.
	summary, err = r.Run(ctx, layers)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, summary.Results[0].Outcome)
	require.Equal(t, report.Counts{Unchanged: 2}, summary.Results[0].Report.Counts)
	require.Equal(t, baseline, readStored(t, store, "parks.geojson"))

	// Changed data: snapshot rolls forward and the archive appears.
	fetcher.docs["parks"] = parksV2
	summary, err = r.Run(ctx, layers)
	require.NoError(t, err)
	require.Equal(t, OutcomeChanged, summary.Results[0].Outcome)
	require.Equal(t,
		report.Counts{Inserted: 1, Updated: 1, Unchanged: 1},
		summary.Results[0].Report.Counts,
	)
	require.NotEqual(t, baseline, readStored(t, store, "parks.geojson"))
	keys = store.Keys()
	sort.Strings(keys)
	require.Equal(t,
		[]string{"parks.changes.zip", "parks.geojson", "parks.report.json"},
		keys,
	)
	names, members := testutils.ReadArchive(t, readStored(t, store, "parks.changes.zip"))
	require.Equal(t, []string{"inserted.geojson", "updated.geojson"}, names)
	inserted, err := geotable.ParseGeoJSON(members["inserted.geojson"], "inserted")
	require.NoError(t, err)
	require.Len(t, inserted.Rows, 1)
	require.Equal(t, int64(3), inserted.Rows[0].Values[0])

	// Unchanged again: the stale archive is cleaned up.
	summary, err = r.Run(ctx, layers)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, summary.Results[0].Outcome)
	keys = store.Keys()
	sort.Strings(keys)
	require.Equal(t, []string{"parks.geojson", "parks.report.json"}, keys)
}

func TestRunValidateOnly(t *testing.T) {
	ctx := context.Background()
	store := snapstore.NewMemStore()
	fetcher := &fakeFetcher{docs: map[string]string{"parks": parksV1}}
	r := New(Config{Workers: 2, ValidateOnly: true}, zerolog.Nop(), fetcher, store)

	summary, err := r.Run(ctx, []sourcecfg.Layer{parksLayer()})
	require.NoError(t, err)
	require.Equal(t, OutcomeValidated, summary.Results[0].Outcome)
	require.Empty(t, store.Keys())
}

func TestRunLayerFailureIsolation(t *testing.T) {
	ctx := context.Background()
	store := snapstore.NewMemStore()
	roads := parksLayer()
	roads.OutLayer = "roads"
	fetcher := &fakeFetcher{
		docs: map[string]string{"roads": parksV1},
		errs: map[string]error{
			"parks": &fetch.UpstreamError{
				Layer: "parks",
				URL:   "https://example.test/parks.geojson",
				Err:   errors.New("upstream returned status 502 Bad Gateway"),
			},
		},
	}
	r := New(Config{Workers: 2}, zerolog.Nop(), fetcher, store)

	summary, err := r.Run(ctx, []sourcecfg.Layer{parksLayer(), roads})
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)

	require.Equal(t, OutcomeFailed, summary.Results[0].Outcome)
	require.Equal(t, ErrorKindUpstream, summary.Results[0].Kind)
	require.ErrorContains(t, summary.Results[0].Err, "status 502")

	require.Equal(t, OutcomeFirstRun, summary.Results[1].Outcome)
	require.Len(t, summary.Failed(), 1)
	require.Equal(t, "parks", summary.Failed()[0].Layer)

	// Only the healthy layer left artifacts behind.
	keys := store.Keys()
	sort.Strings(keys)
	require.Equal(t, []string{"roads.geojson", "roads.report.json"}, keys)
}

func TestRunDuplicateKeys(t *testing.T) {
	const dupDoc = `{"type": "FeatureCollection", "features": [
{"type": "Feature", "properties": {"id": 1, "name": "Alpha"}, "geometry": null},
{"type": "Feature", "properties": {"id": 1, "name": "Alias"}, "geometry": null}
]}`
	ctx := context.Background()
	store := snapstore.NewMemStore()
	fetcher := &fakeFetcher{docs: map[string]string{"parks": dupDoc}}
	r := New(Config{Workers: 1}, zerolog.Nop(), fetcher, store)

	summary, err := r.Run(ctx, []sourcecfg.Layer{parksLayer()})
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, summary.Results[0].Outcome)
	require.Equal(t, ErrorKindKeyUniqueness, summary.Results[0].Kind)
	require.ErrorContains(t, summary.Results[0].Err, `duplicate keys in table parks: "1" (2 rows)`)
	require.Empty(t, store.Keys())
}

func TestClassifyError(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		err      error
		expected ErrorKind
	}{
		{
			desc:     "configuration",
			err:      &sourcecfg.ConfigurationError{OutLayer: "parks", Err: errors.New("bad")},
			expected: ErrorKindConfiguration,
		},
		{
			desc:     "missing key column",
			err:      &keyresolve.ColumnError{Table: "parks", Column: "id"},
			expected: ErrorKindConfiguration,
		},
		{
			desc: "duplicate keys",
			err: &keyresolve.UniquenessError{
				Table:  "parks",
				Groups: []keyresolve.DuplicateGroup{{Key: "1", Count: 2}},
			},
			expected: ErrorKindKeyUniqueness,
		},
		{
			desc:     "upstream",
			err:      &fetch.UpstreamError{Layer: "parks", URL: "u", Err: errors.New("boom")},
			expected: ErrorKindUpstream,
		},
		{
			desc: "wrapped upstream",
			err: errors.Wrap(
				&fetch.UpstreamError{Layer: "parks", URL: "u", Err: errors.New("boom")},
				"while fetching",
			),
			expected: ErrorKindUpstream,
		},
		{
			desc:     "anything else",
			err:      errors.New("disk on fire"),
			expected: ErrorKindInternal,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.expected, classifyError(tc.err))
		})
	}
}
