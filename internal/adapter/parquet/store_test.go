package parquet

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/crime-data-etl/internal/domain"
)

func newTestStore() *Store {
	return NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// sampleTable builds one column of every kind with a null in the middle row.
func sampleTable(t *testing.T) *domain.Table {
	t.Helper()

	id := domain.NewColumn("id", domain.KindInt, 3)
	id.Ints = []int64{11, 12, 13}
	id.Valid = []bool{true, true, true}

	block := domain.NewColumn("block", domain.KindString, 3)
	block.Strings = []string{"001XX N STATE ST", "", "076XX S CICERO AVE"}
	block.Valid = []bool{true, false, true}

	ptype := domain.NewCategoryColumn("primary_type", []string{"THEFT", "", "BATTERY"}, nil, false)
	hour := domain.NewCategoryColumn("date_hour", []string{"13", "", "00"}, domain.HourDomain(), true)

	arrest := domain.NewColumn("arrest", domain.KindBool, 3)
	arrest.Bools = []bool{true, false, false}
	arrest.Valid = []bool{true, false, true}

	lat := domain.NewColumn("latitude", domain.KindFloat, 3)
	lat.Floats = []float64{41.88, 0, 41.75}
	lat.Valid = []bool{true, false, true}

	date := domain.NewColumn("date", domain.KindTimestamp, 3)
	date.Times = []time.Time{
		time.Date(2023, 5, 1, 13, 30, 0, 0, time.UTC),
		{},
		time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	date.Valid = []bool{true, false, true}

	geom := domain.NewColumn("geometry", domain.KindGeometry, 3)
	geom.Geoms = []orb.Geometry{orb.Point{-87.62, 41.88}, nil, orb.Point{-87.74, 41.75}}
	geom.Valid = []bool{true, false, true}

	tbl, err := domain.NewTable(id, block, ptype, hour, arrest, lat, date, geom)
	require.NoError(t, err)
	return tbl
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore()
	path := filepath.Join(t.TempDir(), "data_clean", "crimes.parquet.gzip")
	want := sampleTable(t)

	assert.False(t, store.Exists(path))
	require.NoError(t, store.Write(path, want))
	assert.True(t, store.Exists(path))

	got, err := store.Read(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, want.Names(), got.Names())
	if diff := cmp.Diff(want.Columns(), got.Columns()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	hour, err := got.Column("date_hour")
	require.NoError(t, err)
	assert.True(t, hour.Ordered)
	assert.Len(t, hour.Categories, 24)
}

func TestStore_EmptyTableKeepsColumns(t *testing.T) {
	store := newTestStore()
	path := filepath.Join(t.TempDir(), "empty.parquet.gzip")

	empty, err := domain.NewTable(
		domain.NewColumn("id", domain.KindInt, 0),
		domain.NewColumn("date", domain.KindTimestamp, 0),
	)
	require.NoError(t, err)
	require.NoError(t, store.Write(path, empty))

	got, err := store.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.Equal(t, []string{"id", "date"}, got.Names())
}

func TestStore_WriteIsDeterministic(t *testing.T) {
	store := newTestStore()
	dir := t.TempDir()
	first := filepath.Join(dir, "first.parquet.gzip")
	second := filepath.Join(dir, "second.parquet.gzip")

	require.NoError(t, store.Write(first, sampleTable(t)))
	require.NoError(t, store.Write(second, sampleTable(t)))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "identical tables produce identical files")
}

func TestStore_OverwriteLeavesNoTempFiles(t *testing.T) {
	store := newTestStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "crimes.parquet.gzip")

	require.NoError(t, store.Write(path, sampleTable(t)))
	require.NoError(t, store.Write(path, sampleTable(t)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "crimes.parquet.gzip", entries[0].Name())
}

func TestStore_ReadMissing(t *testing.T) {
	_, err := newTestStore().Read(context.Background(), filepath.Join(t.TempDir(), "nope.parquet.gzip"))
	require.Error(t, err)
}
