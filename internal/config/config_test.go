package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SPOTIFY_CLIENT_ID", "client-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "client-secret")
	t.Setenv("TOKEN_SEAL_KEY", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	t.Setenv("REGISTRY_SHEET_ID", "registry-sheet")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "/etc/creds.json")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("SYNC_LOOKBACK_MINUTES", "")
	t.Setenv("DEDUP_READ_ROWS", "")
	t.Setenv("CACHE_TTL_DAYS", "")
	t.Setenv("SYNC_PAGE_LIMIT", "")
	t.Setenv("MAX_PAGES_PER_RUN", "")
	t.Setenv("SYNC_INTERVAL_MINUTES", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("SPOTIFY_REDIRECT_URI", "")
}

func TestLoadDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreSheets, cfg.StoreBackend)
	assert.Equal(t, 120*time.Minute, cfg.Lookback)
	assert.Equal(t, 5000, cfg.DedupeRows)
	assert.Equal(t, 30*24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 50, cfg.PageLimit)
	assert.Equal(t, 10, cfg.MaxPages)
	assert.Equal(t, 30*time.Minute, cfg.SyncInterval)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Len(t, cfg.SealKey, 32)
}

func TestLoadMissingSpotifyCreds(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SPOTIFY_CLIENT_SECRET", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingSpotifyCreds)
}

func TestLoadMissingSealKey(t *testing.T) {
	setValidEnv(t)
	t.Setenv("TOKEN_SEAL_KEY", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingSealKey)
}

func TestLoadBadSealKey(t *testing.T) {
	setValidEnv(t)
	t.Setenv("TOKEN_SEAL_KEY", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SEAL_KEY")
}

func TestLoadSheetsRequiresCredentials(t *testing.T) {
	setValidEnv(t)
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLoadSQLiteNeedsNoSheetSettings(t *testing.T) {
	setValidEnv(t)
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("REGISTRY_SHEET_ID", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, "registry", cfg.RegistryID)
	assert.Equal(t, "listen-logger.db", cfg.SQLitePath)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	setValidEnv(t)
	t.Setenv("STORE_BACKEND", "dynamo")

	_, err := Load()
	assert.ErrorIs(t, err, ErrBadStoreBackend)
}

func TestLoadRejectsGarbageInteger(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SYNC_LOOKBACK_MINUTES", "ninety")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_LOOKBACK_MINUTES")
}

func TestLoadOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SYNC_LOOKBACK_MINUTES", "15")
	t.Setenv("CACHE_TTL_DAYS", "7")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Lookback)
	assert.Equal(t, 7*24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, ":9090", cfg.Addr)
}
