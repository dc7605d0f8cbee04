// Package config reads application configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/justestif/go-spotify-listen-logger/internal/secrets"
)

// Store backends.
const (
	StoreSheets   = "sheets"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Errors for required settings.
var (
	ErrMissingSpotifyCreds = errors.New("missing SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET environment variable")
	ErrMissingSealKey      = errors.New("missing TOKEN_SEAL_KEY environment variable")
	ErrMissingRegistry     = errors.New("missing REGISTRY_SHEET_ID environment variable")
	ErrMissingCredentials  = errors.New("missing GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE environment variable")
	ErrBadStoreBackend     = errors.New("STORE_BACKEND must be sheets, sqlite, or postgres")
)

// Config holds everything the worker and server need.
type Config struct {
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyRedirectURI  string

	// SealKey encrypts refresh tokens at rest.
	SealKey []byte

	// RegistryID is the collection holding the tenant registry.
	RegistryID string

	// StoreBackend selects the tabular backend.
	StoreBackend string

	// Sheets backend.
	GoogleCredentialsJSON string
	GoogleCredentialsFile string

	// SQL backends.
	SQLitePath  string
	DatabaseURL string

	// Sync tuning.
	Lookback     time.Duration
	DedupeRows   int
	CacheTTL     time.Duration
	PageLimit    int
	MaxPages     int
	SyncInterval time.Duration

	// HTTP server.
	Addr string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first, never overriding real env vars.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		SpotifyClientID:       os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret:   os.Getenv("SPOTIFY_CLIENT_SECRET"),
		SpotifyRedirectURI:    envOr("SPOTIFY_REDIRECT_URI", "http://127.0.0.1:8080/callback"),
		RegistryID:            os.Getenv("REGISTRY_SHEET_ID"),
		StoreBackend:          envOr("STORE_BACKEND", StoreSheets),
		GoogleCredentialsJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		GoogleCredentialsFile: os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"),
		SQLitePath:            envOr("SQLITE_PATH", "listen-logger.db"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		Addr:                  envOr("HTTP_ADDR", ":8080"),
	}

	if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" {
		return nil, ErrMissingSpotifyCreds
	}

	rawKey := os.Getenv("TOKEN_SEAL_KEY")
	if rawKey == "" {
		return nil, ErrMissingSealKey
	}
	key, err := secrets.ParseKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("parsing TOKEN_SEAL_KEY: %w", err)
	}
	cfg.SealKey = key

	switch cfg.StoreBackend {
	case StoreSheets:
		if cfg.GoogleCredentialsJSON == "" && cfg.GoogleCredentialsFile == "" {
			return nil, ErrMissingCredentials
		}
	case StoreSQLite, StorePostgres:
	default:
		return nil, fmt.Errorf("%w: got %q", ErrBadStoreBackend, cfg.StoreBackend)
	}
	if cfg.RegistryID == "" {
		if cfg.StoreBackend == StoreSheets {
			return nil, ErrMissingRegistry
		}
		cfg.RegistryID = "registry"
	}

	lookbackMin, err := envInt("SYNC_LOOKBACK_MINUTES", 120)
	if err != nil {
		return nil, err
	}
	cfg.Lookback = time.Duration(lookbackMin) * time.Minute

	if cfg.DedupeRows, err = envInt("DEDUP_READ_ROWS", 5000); err != nil {
		return nil, err
	}

	ttlDays, err := envInt("CACHE_TTL_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cfg.CacheTTL = time.Duration(ttlDays) * 24 * time.Hour

	if cfg.PageLimit, err = envInt("SYNC_PAGE_LIMIT", 50); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = envInt("MAX_PAGES_PER_RUN", 10); err != nil {
		return nil, err
	}

	intervalMin, err := envInt("SYNC_INTERVAL_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	cfg.SyncInterval = time.Duration(intervalMin) * time.Minute

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}
