package tabular

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) Table {
	t.Helper()
	store := NewMemStore()
	coll, err := store.Open(context.Background(), "tenant-a")
	require.NoError(t, err)
	tab, err := coll.Table(context.Background(), "log", 100, 3)
	require.NoError(t, err)
	return tab
}

func TestEnsureHeaderStampsEmptyTable(t *testing.T) {
	tab := newTestTable(t)
	ctx := context.Background()
	header := []string{"key", "value"}

	require.NoError(t, EnsureHeader(ctx, tab, header))

	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, header, rows[0])
}

func TestEnsureHeaderMatchIsNoop(t *testing.T) {
	tab := newTestTable(t)
	ctx := context.Background()
	header := []string{"key", "value"}

	require.NoError(t, EnsureHeader(ctx, tab, header))
	require.NoError(t, tab.Append(ctx, [][]string{{"enabled", "true"}}))
	require.NoError(t, EnsureHeader(ctx, tab, header))

	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestEnsureHeaderAcceptsTrailingEmptyCells(t *testing.T) {
	tab := newTestTable(t)
	ctx := context.Background()

	require.NoError(t, tab.WriteRange(ctx, Range{Row: 1, Col: 1}, [][]string{{"key", "value", ""}}))
	assert.NoError(t, EnsureHeader(ctx, tab, []string{"key", "value"}))
}

func TestEnsureHeaderRejectsDifferentSchema(t *testing.T) {
	tab := newTestTable(t)
	ctx := context.Background()

	require.NoError(t, tab.WriteRange(ctx, Range{Row: 1, Col: 1}, [][]string{
		{"track_id", "track_name", "fetched_at"},
		{"t1", "First", "2025-11-12T10:42:00Z"},
	}))

	err := EnsureHeader(ctx, tab, []string{"track_id", "track_name", "duration_ms", "fetched_at"})
	require.ErrorIs(t, err, ErrHeaderMismatch)

	// The old schema and its data rows are left alone.
	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"track_id", "track_name", "fetched_at"}, rows[0])
	assert.Equal(t, "t1", rows[1][0])
}

func TestEnsureHeaderStampsOverBlankFirstRow(t *testing.T) {
	tab := newTestTable(t)
	ctx := context.Background()

	// A sparse write below row 1 leaves a blank first row behind.
	require.NoError(t, tab.WriteRange(ctx, Range{Row: 2, Col: 1}, [][]string{{"orphan"}}))
	require.NoError(t, EnsureHeader(ctx, tab, []string{"key", "value"}))

	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"key", "value"}, rows[0])
}
