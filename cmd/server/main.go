// Command server serves the OAuth connect flow and the operator API.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/justestif/go-spotify-listen-logger/internal/app"
	"github.com/justestif/go-spotify-listen-logger/internal/auth"
	"github.com/justestif/go-spotify-listen-logger/internal/config"
	"github.com/justestif/go-spotify-listen-logger/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	connector := auth.NewConnector(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRedirectURI, cfg.SealKey)
	handlers := web.NewHandlers(connector, a.Store, a.Registry, a.Syncer, cfg.SealKey, log)

	return web.NewServer(cfg.Addr, handlers, log).Run()
}
