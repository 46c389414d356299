package geotable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInferType(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		vals     []interface{}
		expected Type
	}{
		{desc: "all null", vals: []interface{}{nil, nil}, expected: TypeString},
		{desc: "empty string is null", vals: []interface{}{"", nil}, expected: TypeString},
		{desc: "integral numbers", vals: []interface{}{float64(1), float64(-3)}, expected: TypeInt},
		{desc: "mixed int float", vals: []interface{}{float64(1), 2.5}, expected: TypeFloat},
		{desc: "bools", vals: []interface{}{true, false, nil}, expected: TypeBool},
		{desc: "strings", vals: []interface{}{"a", "b"}, expected: TypeString},
		{desc: "timestamps", vals: []interface{}{"2023-01-02", "2023-02-03T10:00:00Z"}, expected: TypeTimestamp},
		{desc: "strings with one non-timestamp", vals: []interface{}{"2023-01-02", "x"}, expected: TypeString},
		{desc: "mixed kinds", vals: []interface{}{"a", float64(1)}, expected: TypeOther},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.expected, inferType(tc.vals))
		})
	}
}

func TestFormatValue(t *testing.T) {
	ts, err := time.Parse(time.RFC3339, "2023-04-05T06:07:08Z")
	require.NoError(t, err)
	for _, tc := range []struct {
		desc     string
		val      interface{}
		expected string
	}{
		{desc: "nil", val: nil, expected: "NULL"},
		{desc: "empty string normalizes to null", val: "", expected: "NULL"},
		{desc: "string", val: "park", expected: "park"},
		{desc: "int", val: int64(42), expected: "42"},
		{desc: "float", val: 1.25, expected: "1.25"},
		{desc: "bool", val: true, expected: "true"},
		{desc: "timestamp", val: ts, expected: "2023-04-05T06:07:08Z"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.expected, FormatValue(tc.val))
		})
	}
}

func TestParseGeoJSON(t *testing.T) {
	doc := `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::3005"}},
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [1.0, 2.0]}, "properties": {"ID": 1, "Name": "Park A", "Area": 10.5, "Active": true, "Seen": "2023-01-02"}},
    {"type": "Feature", "geometry": null, "properties": {"ID": 2, "Name": null, "Area": 11, "Active": false}}
  ]
}`
	tbl, err := ParseGeoJSON([]byte(doc), "parks")
	require.NoError(t, err)
	require.Equal(t, "parks", tbl.Name)
	require.Equal(t, "EPSG:3005", tbl.CRS)

	require.Equal(t, []Column{
		{Name: "active", Type: TypeBool},
		{Name: "area", Type: TypeFloat},
		{Name: "id", Type: TypeInt},
		{Name: "name", Type: TypeString},
		{Name: "seen", Type: TypeTimestamp},
	}, tbl.Columns)

	require.Len(t, tbl.Rows, 2)
	require.NotNil(t, tbl.Rows[0].Geometry)
	require.Nil(t, tbl.Rows[1].Geometry)

	idIdx, ok := tbl.ColumnIndex("id")
	require.True(t, ok)
	require.Equal(t, int64(1), tbl.Rows[0].Values[idIdx])
	require.Equal(t, int64(2), tbl.Rows[1].Values[idIdx])

	seenIdx, ok := tbl.ColumnIndex("seen")
	require.True(t, ok)
	require.IsType(t, time.Time{}, tbl.Rows[0].Values[seenIdx])
	// Absent property reads as null.
	require.Nil(t, tbl.Rows[1].Values[seenIdx])
}

func TestParseGeoJSONColumnCaseCollision(t *testing.T) {
	doc := `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": null, "properties": {"Name": "a"}},
    {"type": "Feature", "geometry": null, "properties": {"NAME": "b"}}
  ]
}`
	_, err := ParseGeoJSON([]byte(doc), "t")
	require.Error(t, err)
	require.Contains(t, err.Error(), "collide after lowercasing")
}

func TestParseGeoJSONDefaultCRS(t *testing.T) {
	doc := `{"type": "FeatureCollection", "features": []}`
	tbl, err := ParseGeoJSON([]byte(doc), "t")
	require.NoError(t, err)
	require.Equal(t, DefaultCRS, tbl.CRS)
	require.Empty(t, tbl.Rows)
}

func TestProject(t *testing.T) {
	doc := `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [1.0, 2.0]}, "properties": {"id": 1, "name": "a", "extra": "x"}}
  ]
}`
	tbl, err := ParseGeoJSON([]byte(doc), "t")
	require.NoError(t, err)

	projected, err := tbl.Project([]string{"ID", "name"})
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, projected.ColumnNames())
	require.Equal(t, []interface{}{int64(1), "a"}, projected.Rows[0].Values)
	require.NotNil(t, projected.Rows[0].Geometry)

	_, err = tbl.Project([]string{"missing"})
	require.Error(t, err)
}
