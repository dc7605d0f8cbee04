package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/go-spotify-listen-logger/internal/registry"
	"github.com/justestif/go-spotify-listen-logger/internal/secrets"
	"github.com/justestif/go-spotify-listen-logger/internal/state"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

var testStateKey = []byte("0123456789abcdef0123456789abcdef")

func testConnector() *Connector {
	return NewConnector("client-id", "client-secret", "http://127.0.0.1:8080/callback", testStateKey)
}

func TestStateRoundTrip(t *testing.T) {
	c := testConnector()

	url := c.AuthorizeURL("tenant-a")
	assert.Contains(t, url, "state=")

	st := c.signState("tenant-a")
	tenantID, err := c.VerifyState(st)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", tenantID)
}

func TestStateUniquePerFlow(t *testing.T) {
	c := testConnector()
	assert.NotEqual(t, c.signState("tenant-a"), c.signState("tenant-a"))
}

func TestVerifyStateRejectsTampering(t *testing.T) {
	c := testConnector()
	st := c.signState("tenant-a")

	// Flip a character in the payload half.
	payload, sig, ok := strings.Cut(st, ".")
	require.True(t, ok)
	mutated := "A" + payload[1:]
	if mutated == payload {
		mutated = "B" + payload[1:]
	}
	_, err := c.VerifyState(mutated + "." + sig)
	assert.ErrorIs(t, err, ErrBadState)
}

func TestVerifyStateRejectsForeignKey(t *testing.T) {
	c := testConnector()
	other := NewConnector("client-id", "client-secret", "http://127.0.0.1:8080/callback", []byte("ffffffffffffffffffffffffffffffff"))

	_, err := other.VerifyState(c.signState("tenant-a"))
	assert.ErrorIs(t, err, ErrBadState)
}

func TestVerifyStateRejectsGarbage(t *testing.T) {
	c := testConnector()
	for _, s := range []string{"", "nodot", "a.b", "!!!.???"} {
		_, err := c.VerifyState(s)
		assert.ErrorIs(t, err, ErrBadState, "state %q", s)
	}
}

func TestVerifyAccountFree(t *testing.T) {
	ctx := context.Background()
	store := tabular.NewMemStore()
	reg, err := registry.Open(ctx, store, "registry-sheet")
	require.NoError(t, err)

	// Unclaimed account.
	require.NoError(t, VerifyAccountFree(ctx, reg, "tenant-a", "acct-1"))

	acct := "acct-1"
	require.NoError(t, reg.Upsert(ctx, "tenant-a", true, &acct))

	// Reconnect by the owner is fine; another tenant is refused.
	assert.NoError(t, VerifyAccountFree(ctx, reg, "tenant-a", "acct-1"))
	assert.ErrorIs(t, VerifyAccountFree(ctx, reg, "tenant-b", "acct-1"), ErrAccountBound)
}

func TestFinalizeBindsTenant(t *testing.T) {
	ctx := context.Background()
	store := tabular.NewMemStore()
	reg, err := registry.Open(ctx, store, "registry-sheet")
	require.NoError(t, err)
	key := testStateKey

	require.NoError(t, Finalize(ctx, store, reg, key, "tenant-a", "acct-1", "refresh-1"))

	// Registry binding.
	owner, err := reg.FindByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", owner)

	// Tenant state holds only the sealed token.
	coll, err := store.Open(ctx, "tenant-a")
	require.NoError(t, err)
	snap, err := state.New(coll).Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Enabled)
	assert.Equal(t, "acct-1", snap.AccountID)
	assert.NotEqual(t, "refresh-1", snap.RefreshTokenEnc)

	plain, err := secrets.Open(key, snap.RefreshTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", plain)
}

func TestFinalizeRefusesBoundAccount(t *testing.T) {
	ctx := context.Background()
	store := tabular.NewMemStore()
	reg, err := registry.Open(ctx, store, "registry-sheet")
	require.NoError(t, err)

	require.NoError(t, Finalize(ctx, store, reg, testStateKey, "tenant-a", "acct-1", "refresh-1"))

	err = Finalize(ctx, store, reg, testStateKey, "tenant-b", "acct-1", "refresh-2")
	require.ErrorIs(t, err, ErrAccountBound)

	// Tenant B's state must be untouched.
	coll, err := store.Open(ctx, "tenant-b")
	require.NoError(t, err)
	snap, err := state.New(coll).Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Enabled)
	assert.Empty(t, snap.RefreshTokenEnc)

	// And the registry still points at tenant A.
	owner, err := reg.FindByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", owner)
}

func TestFinalizeReconnectSameTenant(t *testing.T) {
	ctx := context.Background()
	store := tabular.NewMemStore()
	reg, err := registry.Open(ctx, store, "registry-sheet")
	require.NoError(t, err)

	require.NoError(t, Finalize(ctx, store, reg, testStateKey, "tenant-a", "acct-1", "refresh-1"))
	require.NoError(t, Finalize(ctx, store, reg, testStateKey, "tenant-a", "acct-1", "refresh-2"),
		"the same tenant may refresh its own binding")
}
