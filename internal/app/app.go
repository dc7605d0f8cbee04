// Package app wires configuration into the concrete component graph shared
// by the worker and server binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/justestif/go-spotify-listen-logger/internal/config"
	"github.com/justestif/go-spotify-listen-logger/internal/registry"
	"github.com/justestif/go-spotify-listen-logger/internal/spotify"
	"github.com/justestif/go-spotify-listen-logger/internal/syncer"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular/sheets"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular/sqlstore"
)

// App is the assembled component graph.
type App struct {
	Config   *config.Config
	Store    tabular.Store
	Registry *registry.Registry
	Spotify  *spotify.Client
	Syncer   *syncer.Service

	closer func() error
}

// New builds the store, registry, Spotify client, and sync service from
// configuration.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(ctx, store, cfg.RegistryID)
	if err != nil {
		if closer != nil {
			closer()
		}
		return nil, fmt.Errorf("opening registry: %w", err)
	}

	client := spotify.New(cfg.SpotifyClientID, cfg.SpotifyClientSecret)

	svc := syncer.New(store, reg, client, client, cfg.SealKey,
		syncer.WithLookback(cfg.Lookback),
		syncer.WithDedupeWindow(cfg.DedupeRows),
		syncer.WithCacheTTL(cfg.CacheTTL),
		syncer.WithPageLimit(cfg.PageLimit),
		syncer.WithMaxPages(cfg.MaxPages),
		syncer.WithLogger(log),
	)

	return &App{
		Config:   cfg,
		Store:    store,
		Registry: reg,
		Spotify:  client,
		Syncer:   svc,
		closer:   closer,
	}, nil
}

// Close releases store resources, if any.
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

func openStore(ctx context.Context, cfg *config.Config) (tabular.Store, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreSheets:
		var opts []sheets.Option
		if cfg.GoogleCredentialsJSON != "" {
			opts = append(opts, sheets.WithCredentialsJSON([]byte(cfg.GoogleCredentialsJSON)))
		} else {
			opts = append(opts, sheets.WithCredentialsFile(cfg.GoogleCredentialsFile))
		}
		store, err := sheets.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sheets store: %w", err)
		}
		return store, nil, nil
	case config.StoreSQLite:
		store, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, store.Close, nil
	case config.StorePostgres:
		store, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
