package rowdiff

import (
	"testing"
	"time"

	"github.com/bcgov/geodiff/diff/schemadiff"
	"github.com/bcgov/geodiff/geotable"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func makeTable(cols []geotable.Column, rows ...geotable.Row) *geotable.Table {
	return &geotable.Table{
		Name:    "layer",
		CRS:     geotable.DefaultCRS,
		Columns: cols,
		Rows:    rows,
	}
}

func compareOne(t *testing.T, prev, cur *geotable.Table) Result {
	t.Helper()
	sd := schemadiff.Compare(prev, cur)
	d, err := NewDiffer(prev, cur, sd, Options{})
	require.NoError(t, err)
	res, err := d.Compare("k", prev.Rows[0], cur.Rows[0])
	require.NoError(t, err)
	return res
}

func TestCompareSameSchema(t *testing.T) {
	cols := []geotable.Column{
		{Name: "id", Type: geotable.TypeInt},
		{Name: "name", Type: geotable.TypeString},
		{Name: "score", Type: geotable.TypeFloat},
		{Name: "active", Type: geotable.TypeBool},
		{Name: "seen", Type: geotable.TypeTimestamp},
	}
	base := []interface{}{
		int64(1), "a", 1.5, true,
		time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	for _, tc := range []struct {
		desc     string
		cur      []interface{}
		expected []ColumnDiff
	}{
		{
			desc: "identical",
			cur:  base,
		},
		{
			desc: "string changed",
			cur: []interface{}{
				int64(1), "b", 1.5, true,
				time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			},
			expected: []ColumnDiff{
				{Name: "name", Old: "a", New: "b", Comparable: true},
			},
		},
		{
			desc: "float within epsilon",
			cur: []interface{}{
				int64(1), "a", 1.5000000000001, true,
				time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
		{
			desc: "float beyond epsilon",
			cur: []interface{}{
				int64(1), "a", 1.51, true,
				time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			},
			expected: []ColumnDiff{
				{Name: "score", Old: 1.5, New: 1.51, Comparable: true},
			},
		},
		{
			desc: "bool changed",
			cur: []interface{}{
				int64(1), "a", 1.5, false,
				time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			},
			expected: []ColumnDiff{
				{Name: "active", Old: true, New: false, Comparable: true},
			},
		},
		{
			desc: "timestamp same instant different zone",
			cur: []interface{}{
				int64(1), "a", 1.5, true,
				time.Date(2024, 1, 2, 5, 4, 5, 0, time.FixedZone("x", 2*60*60)),
			},
		},
		{
			desc: "timestamp changed",
			cur: []interface{}{
				int64(1), "a", 1.5, true,
				time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC),
			},
			expected: []ColumnDiff{
				{
					Name:       "seen",
					Old:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
					New:        time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC),
					Comparable: true,
				},
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			prev := makeTable(cols, geotable.Row{Values: base})
			cur := makeTable(cols, geotable.Row{Values: tc.cur})
			res := compareOne(t, prev, cur)
			require.Equal(t, tc.expected, res.Columns)
			if len(tc.expected) == 0 {
				require.Equal(t, StatusUnchanged, res.Status)
			} else {
				require.Equal(t, StatusUpdated, res.Status)
			}
			require.False(t, res.GeometryChanged)
		})
	}
}

func TestCompareNulls(t *testing.T) {
	cols := []geotable.Column{{Name: "note", Type: geotable.TypeString}}
	for _, tc := range []struct {
		desc     string
		old, new interface{}
		expected []ColumnDiff
	}{
		{desc: "nil vs empty string", old: nil, new: ""},
		{desc: "both nil", old: nil, new: nil},
		{
			desc: "null to value",
			old:  nil,
			new:  "x",
			expected: []ColumnDiff{
				{Name: "note", Old: nil, New: "x", Comparable: true},
			},
		},
		{
			desc: "value to null",
			old:  "x",
			new:  "",
			expected: []ColumnDiff{
				{Name: "note", Old: "x", New: nil, Comparable: true},
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			prev := makeTable(cols, geotable.Row{Values: []interface{}{tc.old}})
			cur := makeTable(cols, geotable.Row{Values: []interface{}{tc.new}})
			res := compareOne(t, prev, cur)
			require.Equal(t, tc.expected, res.Columns)
		})
	}
}

func TestCompareTypeChanged(t *testing.T) {
	prevCols := []geotable.Column{{Name: "code", Type: geotable.TypeInt}}
	curCols := []geotable.Column{{Name: "code", Type: geotable.TypeString}}
	for _, tc := range []struct {
		desc     string
		old, new interface{}
		expected []ColumnDiff
	}{
		{desc: "numeric string equal", old: int64(7), new: "7"},
		{
			desc: "numeric string differs",
			old:  int64(7),
			new:  "8",
			expected: []ColumnDiff{
				{Name: "code", Old: int64(7), New: "8", Comparable: true},
			},
		},
		{
			// A difference of 1 at the top of the int64 range vanishes in a
			// float64 round trip; the decimal comparison keeps it.
			desc: "large numeric distinguishable",
			old:  int64(9223372036854775807),
			new:  "9223372036854775806",
			expected: []ColumnDiff{
				{
					Name:       "code",
					Old:        int64(9223372036854775807),
					New:        "9223372036854775806",
					Comparable: true,
				},
			},
		},
		{
			desc: "no common representation",
			old:  int64(5),
			new:  "five",
			expected: []ColumnDiff{
				{Name: "code", Old: int64(5), New: "five"},
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			prev := makeTable(prevCols, geotable.Row{Values: []interface{}{tc.old}})
			cur := makeTable(curCols, geotable.Row{Values: []interface{}{tc.new}})
			res := compareOne(t, prev, cur)
			require.Equal(t, tc.expected, res.Columns)
		})
	}
}

func TestCompareTypeChangedTimestampAndBool(t *testing.T) {
	t.Run("timestamp vs string", func(t *testing.T) {
		prev := makeTable(
			[]geotable.Column{{Name: "seen", Type: geotable.TypeTimestamp}},
			geotable.Row{Values: []interface{}{
				time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			}},
		)
		cur := makeTable(
			[]geotable.Column{{Name: "seen", Type: geotable.TypeString}},
			geotable.Row{Values: []interface{}{"2024-01-02"}},
		)
		res := compareOne(t, prev, cur)
		require.Empty(t, res.Columns)
		require.Equal(t, StatusUnchanged, res.Status)
	})
	t.Run("bool vs string", func(t *testing.T) {
		prev := makeTable(
			[]geotable.Column{{Name: "active", Type: geotable.TypeBool}},
			geotable.Row{Values: []interface{}{true}},
		)
		cur := makeTable(
			[]geotable.Column{{Name: "active", Type: geotable.TypeString}},
			geotable.Row{Values: []interface{}{"yes"}},
		)
		res := compareOne(t, prev, cur)
		require.Empty(t, res.Columns)
	})
}

func TestCompareSkipsAddedRemovedColumns(t *testing.T) {
	prev := makeTable(
		[]geotable.Column{
			{Name: "a", Type: geotable.TypeString},
			{Name: "b", Type: geotable.TypeString},
		},
		geotable.Row{Values: []interface{}{"gone", "same"}},
	)
	cur := makeTable(
		[]geotable.Column{
			{Name: "b", Type: geotable.TypeString},
			{Name: "c", Type: geotable.TypeString},
		},
		geotable.Row{Values: []interface{}{"same", "new"}},
	)
	res := compareOne(t, prev, cur)
	require.Empty(t, res.Columns)
	require.Equal(t, StatusUnchanged, res.Status)
}

func TestCompareGeometry(t *testing.T) {
	cols := []geotable.Column{{Name: "id", Type: geotable.TypeInt}}
	prev := makeTable(cols, geotable.Row{
		Values:   []interface{}{int64(1)},
		Geometry: geom.NewPointFlat(geom.XY, []float64{1, 1}),
	})
	t.Run("moved", func(t *testing.T) {
		cur := makeTable(cols, geotable.Row{
			Values:   []interface{}{int64(1)},
			Geometry: geom.NewPointFlat(geom.XY, []float64{1.5, 1}),
		})
		res := compareOne(t, prev, cur)
		require.Equal(t, StatusUpdated, res.Status)
		require.True(t, res.GeometryChanged)
		require.InDelta(t, 0.5, res.GeometryDiffMetric, 1e-9)
		require.Empty(t, res.Columns)
	})
	t.Run("noise below precision", func(t *testing.T) {
		cur := makeTable(cols, geotable.Row{
			Values:   []interface{}{int64(1)},
			Geometry: geom.NewPointFlat(geom.XY, []float64{1.0009, 0.9991}),
		})
		res := compareOne(t, prev, cur)
		require.Equal(t, StatusUnchanged, res.Status)
		require.False(t, res.GeometryChanged)
	})
	t.Run("removed", func(t *testing.T) {
		cur := makeTable(cols, geotable.Row{Values: []interface{}{int64(1)}})
		res := compareOne(t, prev, cur)
		require.True(t, res.GeometryChanged)
		require.InDelta(t, 0.01, res.GeometryDiffMetric, 1e-12)
	})
}
