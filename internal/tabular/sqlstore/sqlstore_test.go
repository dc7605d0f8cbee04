package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

func newTable(t *testing.T) tabular.Table {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	coll, err := store.Open(context.Background(), "tenant-a")
	require.NoError(t, err)
	tab, err := coll.Table(context.Background(), "log", 1000, 5)
	require.NoError(t, err)
	return tab
}

func TestReadAllEmpty(t *testing.T) {
	tab := newTable(t)
	rows, err := tab.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWriteRangeRoundTrip(t *testing.T) {
	tab := newTable(t)
	ctx := context.Background()

	require.NoError(t, tab.WriteRange(ctx, tabular.Range{Row: 1, Col: 1}, [][]string{
		{"key", "value"},
		{"enabled", "true"},
	}))

	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"key", "value"}, {"enabled", "true"}}, rows)
}

func TestWriteRangeOverwritesInPlace(t *testing.T) {
	tab := newTable(t)
	ctx := context.Background()

	require.NoError(t, tab.WriteRange(ctx, tabular.Range{Row: 1, Col: 1}, [][]string{{"a", "b"}}))
	require.NoError(t, tab.WriteRange(ctx, tabular.Range{Row: 1, Col: 2}, [][]string{{"c"}}))

	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "c"}}, rows)
}

func TestAppendAfterLastRow(t *testing.T) {
	tab := newTable(t)
	ctx := context.Background()

	require.NoError(t, tab.WriteRange(ctx, tabular.Range{Row: 1, Col: 1}, [][]string{{"h1", "h2"}}))
	require.NoError(t, tab.Append(ctx, [][]string{{"a", "b"}, {"c", "d"}}))
	require.NoError(t, tab.Append(ctx, [][]string{{"e", "f"}}))

	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"h1", "h2"},
		{"a", "b"},
		{"c", "d"},
		{"e", "f"},
	}, rows)
}

func TestBatchWrite(t *testing.T) {
	tab := newTable(t)
	ctx := context.Background()

	require.NoError(t, tab.Append(ctx, [][]string{{"a"}, {"b"}, {"c"}}))
	require.NoError(t, tab.BatchWrite(ctx, []tabular.RangeWrite{
		{Range: tabular.Range{Row: 1, Col: 1}, Rows: [][]string{{"A"}}},
		{Range: tabular.Range{Row: 3, Col: 1}, Rows: [][]string{{"C"}}},
	}))

	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"b"}, {"C"}}, rows)
}

func TestSparseRowsPadWithEmptyCells(t *testing.T) {
	tab := newTable(t)
	ctx := context.Background()

	require.NoError(t, tab.WriteRange(ctx, tabular.Range{Row: 2, Col: 3}, [][]string{{"x"}}))

	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Empty(t, rows[0])
	assert.Equal(t, []string{"", "", "x"}, rows[1])
}

func TestCollectionsAreIsolated(t *testing.T) {
	store, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	collA, err := store.Open(ctx, "tenant-a")
	require.NoError(t, err)
	collB, err := store.Open(ctx, "tenant-b")
	require.NoError(t, err)

	tabA, err := collA.Table(ctx, "log", 10, 2)
	require.NoError(t, err)
	tabB, err := collB.Table(ctx, "log", 10, 2)
	require.NoError(t, err)

	require.NoError(t, tabA.Append(ctx, [][]string{{"only-a"}}))

	rows, err := tabB.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEnsureHeaderStampsOnce(t *testing.T) {
	tab := newTable(t)
	ctx := context.Background()
	header := []string{"Date", "Track", "Artist", "Spotify ID", "URL"}

	require.NoError(t, tabular.EnsureHeader(ctx, tab, header))
	require.NoError(t, tab.Append(ctx, [][]string{{"r1"}}))
	require.NoError(t, tabular.EnsureHeader(ctx, tab, header))

	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, header, rows[0])
}
