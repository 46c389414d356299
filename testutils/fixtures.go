// Package testutils holds fixture helpers shared by package tests.
package testutils

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/bcgov/geodiff/geotable"
	"github.com/stretchr/testify/require"
)

// MustParseTable decodes a GeoJSON document into a Table, failing the test
// on error.
func MustParseTable(t *testing.T, name string, doc string) *geotable.Table {
	t.Helper()
	tbl, err := geotable.ParseGeoJSON([]byte(doc), name)
	require.NoError(t, err)
	return tbl
}

// ReadArchive unpacks a changed-feature archive, returning member names in
// archive order and member name -> contents.
func ReadArchive(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	members := make(map[string][]byte, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		member, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		names = append(names, zf.Name)
		members[zf.Name] = member
	}
	return names, members
}
