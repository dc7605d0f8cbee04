package dedupe

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	coll, err := tabular.NewMemStore().Open(context.Background(), "tenant-1")
	require.NoError(t, err)
	return New(coll)
}

func TestKeyDeterminism(t *testing.T) {
	a := Key("alice", "2025-11-12T10:42:00Z", "track1")
	b := Key("alice", "2025-11-12T10:42:00Z", "track1")
	assert.Equal(t, a, b)

	// Distinct inputs yield distinct keys.
	assert.NotEqual(t, a, Key("alice", "2025-11-12T10:42:01Z", "track1"))
	assert.NotEqual(t, a, Key("alice", "2025-11-12T10:42:00Z", "track2"))
	assert.NotEqual(t, a, Key("bob", "2025-11-12T10:42:00Z", "track1"))
}

func TestKeyLegacyFormat(t *testing.T) {
	assert.Equal(t, "2025-11-12T10:42:00Z|track1", Key("", "2025-11-12T10:42:00Z", "track1"))
	assert.Equal(t, "alice|2025-11-12T10:42:00Z|track1", Key("alice", "2025-11-12T10:42:00Z", "track1"))
}

func TestLoadRecentEmpty(t *testing.T) {
	l := testLedger(t)
	keys, err := l.LoadRecent(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAppendThenLoad(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, []string{"k1", "k2"}))
	require.NoError(t, l.Append(ctx, []string{"k3"}))

	keys, err := l.LoadRecent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	_, ok := keys["k2"]
	assert.True(t, ok)
}

func TestLoadRecentBoundedWindow(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	var all []string
	for i := 0; i < 20; i++ {
		all = append(all, fmt.Sprintf("k%02d", i))
	}
	require.NoError(t, l.Append(ctx, all))

	keys, err := l.LoadRecent(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	// Only the trailing entries are visible.
	_, ok := keys["k19"]
	assert.True(t, ok)
	_, ok = keys["k00"]
	assert.False(t, ok, "entries older than the window must not load")
}

func TestAppendNothingIsNoop(t *testing.T) {
	l := testLedger(t)
	require.NoError(t, l.Append(context.Background(), nil))
}
