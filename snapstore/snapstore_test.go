package snapstore

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "parks.geojson", SnapshotKey("parks"))
	require.Equal(t, "parks.report.json", ReportKey("parks"))
	require.Equal(t, "parks.changes.zip", ChangesKey("parks"))
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(zerolog.Nop(), filepath.Join(dir, "snapshots"))
	require.NoError(t, err)

	_, err = s.Read(ctx, "parks.geojson")
	require.True(t, errors.Is(err, ErrNotExist))

	loc, err := s.Write(ctx, "parks.geojson", strings.NewReader("one"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "snapshots", "parks.geojson"), loc)

	r, err := s.Read(ctx, "parks.geojson")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "one", string(data))

	// Writes replace.
	_, err = s.Write(ctx, "parks.geojson", strings.NewReader("two"))
	require.NoError(t, err)
	r, err = s.Read(ctx, "parks.geojson")
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "two", string(data))

	require.NoError(t, s.Delete(ctx, "parks.geojson"))
	_, err = s.Read(ctx, "parks.geojson")
	require.True(t, errors.Is(err, ErrNotExist))

	// Deleting an absent key is not an error.
	require.NoError(t, s.Delete(ctx, "parks.geojson"))
}

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Read(ctx, "a")
	require.True(t, errors.Is(err, ErrNotExist))

	loc, err := s.Write(ctx, "a", strings.NewReader("payload"))
	require.NoError(t, err)
	require.Equal(t, "mem://a", loc)

	r, err := s.Read(ctx, "a")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
	require.Equal(t, []string{"a"}, s.Keys())

	require.NoError(t, s.Delete(ctx, "a"))
	require.Empty(t, s.Keys())
}

func TestNewStoreLocal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewStore(ctx, zerolog.Nop(), dir)
	require.NoError(t, err)
	_, err = s.Write(ctx, "k", strings.NewReader("v"))
	require.NoError(t, err)

	s, err = NewStore(ctx, zerolog.Nop(), "file://"+dir)
	require.NoError(t, err)
	_, err = s.Read(ctx, "k")
	require.NoError(t, err)

	_, err = NewStore(ctx, zerolog.Nop(), "ftp://host/path")
	require.ErrorContains(t, err, `unsupported target scheme "ftp"`)
}
