package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/justestif/go-spotify-listen-logger/internal/cache"
	"github.com/justestif/go-spotify-listen-logger/internal/dedupe"
	"github.com/justestif/go-spotify-listen-logger/internal/secrets"
	"github.com/justestif/go-spotify-listen-logger/internal/state"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// tenantTables is every table a tenant collection needs, with the header
// each one is stamped with on creation.
var tenantTables = []struct {
	name   string
	header []string
	rows   int
}{
	{LogTable, LogHeader, 1000},
	{state.TableName, state.Header, 50},
	{dedupe.TableName, dedupe.Header, 1000},
	{cache.TracksTable, cache.TracksHeader, 1000},
	{cache.ArtistsTable, cache.ArtistsHeader, 1000},
	{cache.AlbumsTable, cache.AlbumsHeader, 1000},
}

// InitTenant prepares a tenant collection for syncing: creates the log,
// state, dedupe, and cache tables with their headers, marks the tenant
// enabled with the given timezone, and registers it. Idempotent; existing
// tables and a previously set timezone are left alone.
func (s *Service) InitTenant(ctx context.Context, tenantID, timezone string) error {
	coll, err := s.store.Open(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("opening tenant collection: %w", err)
	}

	for _, t := range tenantTables {
		tab, err := coll.Table(ctx, t.name, t.rows, len(t.header))
		if err != nil {
			return fmt.Errorf("creating table %s: %w", t.name, err)
		}
		if err := tabular.EnsureHeader(ctx, tab, t.header); err != nil {
			return fmt.Errorf("stamping header on %s: %w", t.name, err)
		}
	}

	st := state.New(coll, state.WithClock(s.now))
	snap, err := st.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("reading tenant state: %w", err)
	}
	kv := map[string]string{state.KeyEnabled: state.FormatBool(true)}
	if snap.Timezone == "" && timezone != "" {
		kv[state.KeyTimezone] = timezone
	}
	if snap.CreatedAt == "" {
		kv[state.KeyCreatedAt] = s.now().UTC().Format(time.RFC3339)
	}
	if err := st.Write(ctx, kv); err != nil {
		return fmt.Errorf("writing tenant state: %w", err)
	}

	if err := s.dir.Upsert(ctx, tenantID, true, nil); err != nil {
		return fmt.Errorf("registering tenant: %w", err)
	}
	s.log.Info("tenant initialized", zap.String("tenant", tenantID))
	return nil
}

// Backfill re-enriches the metadata cache from the tenant's existing log.
// It collects every distinct track id already logged and runs them through
// the normal enrichment path, so only stale or missing entries cost API
// calls. Returns the number of distinct track ids considered.
func (s *Service) Backfill(ctx context.Context, tenantID string) (int, error) {
	coll, err := s.store.Open(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("opening tenant collection: %w", err)
	}
	st := state.New(coll, state.WithClock(s.now))
	snap, err := st.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading tenant state: %w", err)
	}
	if snap.RefreshTokenEnc == "" {
		return 0, fmt.Errorf("tenant %s is not connected", tenantID)
	}

	refreshToken, err := secrets.Open(s.sealKey, snap.RefreshTokenEnc)
	if err != nil {
		return 0, fmt.Errorf("decrypting refresh token: %w", err)
	}
	token, err := s.feed.Exchange(ctx, refreshToken)
	if err != nil {
		return 0, err
	}

	logTab, err := coll.Table(ctx, LogTable, 1000, len(LogHeader))
	if err != nil {
		return 0, fmt.Errorf("opening log table: %w", err)
	}
	rows, err := logTab.ReadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading log: %w", err)
	}

	const idCol = 3 // "Spotify ID"
	seen := make(map[string]struct{})
	var trackIDs []string
	for i, row := range rows {
		if i == 0 || len(row) <= idCol || row[idCol] == "" {
			continue
		}
		if _, dup := seen[row[idCol]]; dup {
			continue
		}
		seen[row[idCol]] = struct{}{}
		trackIDs = append(trackIDs, row[idCol])
	}
	if len(trackIDs) == 0 {
		return 0, nil
	}

	c := cache.New(coll, s.cacheTTL, cache.WithClock(s.now))
	if err := c.Enrich(ctx, s.meta, token, trackIDs); err != nil {
		return len(trackIDs), fmt.Errorf("backfilling cache: %w", err)
	}
	s.log.Info("cache backfilled", zap.String("tenant", tenantID), zap.Int("tracks", len(trackIDs)))
	return len(trackIDs), nil
}
