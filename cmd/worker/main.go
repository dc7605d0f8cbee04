// Command worker runs sync cycles for registered tenants, either once or
// on an interval. It also handles tenant initialization and cache
// backfill.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/justestif/go-spotify-listen-logger/internal/app"
	"github.com/justestif/go-spotify-listen-logger/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		once     = flag.Bool("once", false, "run one batch cycle and exit")
		loop     = flag.Bool("loop", false, "run batch cycles on an interval")
		sheet    = flag.String("sheet", "", "operate on a single tenant sheet id")
		initSh   = flag.Bool("init", false, "initialize the tenant given by -sheet")
		timezone = flag.String("timezone", "", "timezone for -init (IANA name)")
		backfill = flag.Bool("backfill", false, "re-enrich the cache for the tenant given by -sheet")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case *initSh:
		if *sheet == "" {
			return fmt.Errorf("-init requires -sheet")
		}
		return a.Syncer.InitTenant(ctx, *sheet, *timezone)

	case *backfill:
		if *sheet == "" {
			return fmt.Errorf("-backfill requires -sheet")
		}
		n, err := a.Syncer.Backfill(ctx, *sheet)
		if err != nil {
			return err
		}
		log.Info("backfill complete", zap.Int("tracks", n))
		return nil

	case *sheet != "":
		n, err := a.Syncer.SyncTenant(ctx, *sheet)
		if err != nil {
			return err
		}
		log.Info("sync complete", zap.String("tenant", *sheet), zap.Int("rows", n))
		return nil

	case *loop:
		return runLoop(ctx, a, cfg.SyncInterval, log)

	case *once:
		fallthrough
	default:
		return runBatch(ctx, a, log)
	}
}

func runBatch(ctx context.Context, a *app.App, log *zap.Logger) error {
	sum, err := a.Syncer.SyncAll(ctx)
	if err != nil {
		return err
	}
	log.Info("batch complete",
		zap.Int("tenants", sum.Tenants),
		zap.Int("appended", sum.Appended),
		zap.Int("failed", len(sum.Failed)),
	)
	return nil
}

func runLoop(ctx context.Context, a *app.App, interval time.Duration, log *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := runBatch(ctx, a, log); err != nil {
			log.Error("batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
