// Package syncer runs the per-tenant sync cycle: decrypt credentials,
// refresh the access token, page the recently-played feed from the
// watermark, dedupe, append log rows, enrich the metadata cache, advance
// the watermark, and report the outcome to the registry.
package syncer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/justestif/go-spotify-listen-logger/internal/cache"
	"github.com/justestif/go-spotify-listen-logger/internal/datefmt"
	"github.com/justestif/go-spotify-listen-logger/internal/dedupe"
	"github.com/justestif/go-spotify-listen-logger/internal/secrets"
	"github.com/justestif/go-spotify-listen-logger/internal/spotify"
	"github.com/justestif/go-spotify-listen-logger/internal/state"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// LogTable is the append-only listening log inside each tenant collection.
const LogTable = "log"

// LogHeader is the log row schema the dashboard reads back.
var LogHeader = []string{"Date", "Track", "Artist", "Spotify ID", "URL"}

// cacheErrPrefix marks enrichment failures as recognizably non-fatal in
// last_error.
const cacheErrPrefix = "cache: "

// Defaults, overridable per option.
const (
	DefaultLookback   = 120 * time.Minute
	DefaultDedupeRows = 5000
	DefaultCacheTTL   = 30 * 24 * time.Hour
	DefaultPageLimit  = 50
	DefaultMaxPages   = 10
)

// Feed is the slice of the Spotify client the orchestrator calls directly.
type Feed interface {
	Exchange(ctx context.Context, refreshToken string) (string, error)
	RecentlyPlayed(ctx context.Context, token string, afterMS int64, limit, maxPages int) ([]spotify.PlayedItem, error)
}

// Directory is the slice of the registry the orchestrator needs.
type Directory interface {
	ListEnabled(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, tenantID string, enabled bool, accountID *string) error
	ReportStatus(ctx context.Context, tenantID string, lastSyncAt, lastError *string) error
}

// Service orchestrates sync cycles. One instance serves many tenants, but
// tenants are always processed strictly sequentially: concurrency safety of
// the backing store is an operational invariant (one scheduled worker per
// deployment), not something the code enforces.
type Service struct {
	store tabular.Store
	dir   Directory
	feed  Feed
	meta  cache.MetadataAPI

	sealKey []byte
	log     *zap.Logger
	now     func() time.Time

	lookback   time.Duration
	dedupeRows int
	cacheTTL   time.Duration
	pageLimit  int
	maxPages   int
}

// Option configures a Service.
type Option func(*Service)

// WithLookback sets the safety margin re-polled before the watermark.
func WithLookback(d time.Duration) Option {
	return func(s *Service) { s.lookback = d }
}

// WithDedupeWindow bounds how many trailing ledger rows are loaded.
func WithDedupeWindow(rows int) Option {
	return func(s *Service) { s.dedupeRows = rows }
}

// WithCacheTTL sets metadata freshness.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) { s.cacheTTL = d }
}

// WithPageLimit sets the feed page size.
func WithPageLimit(n int) Option {
	return func(s *Service) { s.pageLimit = n }
}

// WithMaxPages caps feed pages per cycle.
func WithMaxPages(n int) Option {
	return func(s *Service) { s.maxPages = n }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(store tabular.Store, dir Directory, feed Feed, meta cache.MetadataAPI, sealKey []byte, opts ...Option) *Service {
	s := &Service{
		store:      store,
		dir:        dir,
		feed:       feed,
		meta:       meta,
		sealKey:    sealKey,
		log:        zap.NewNop(),
		now:        time.Now,
		lookback:   DefaultLookback,
		dedupeRows: DefaultDedupeRows,
		cacheTTL:   DefaultCacheTTL,
		pageLimit:  DefaultPageLimit,
		maxPages:   DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary is the outcome of a batch run.
type Summary struct {
	Tenants  int
	Appended int
	Failed   map[string]string
}

// SyncAll processes every enabled tenant sequentially. A failing tenant is
// recorded and skipped; it never blocks or reorders the rest of the batch.
func (s *Service) SyncAll(ctx context.Context) (Summary, error) {
	ids, err := s.dir.ListEnabled(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing enabled tenants: %w", err)
	}

	sum := Summary{Failed: make(map[string]string)}
	for _, id := range ids {
		n, err := s.SyncTenant(ctx, id)
		sum.Tenants++
		sum.Appended += n
		if err != nil {
			sum.Failed[id] = err.Error()
			s.log.Warn("tenant sync failed", zap.String("tenant", id), zap.Error(err))
			continue
		}
		s.log.Info("tenant synced", zap.String("tenant", id), zap.Int("rows", n))
	}
	return sum, nil
}

// SyncTenant runs one tenant's cycle and returns the number of appended log
// rows. Errors are recorded on the tenant state and the registry before
// they propagate.
func (s *Service) SyncTenant(ctx context.Context, tenantID string) (int, error) {
	coll, err := s.store.Open(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("opening tenant collection: %w", err)
	}
	st := state.New(coll, state.WithClock(s.now))

	n, ran, warn, err := s.syncOne(ctx, tenantID, coll, st)
	if err != nil {
		msg := err.Error()
		// Best effort: the status write must not mask the sync error.
		if werr := st.Write(ctx, map[string]string{state.KeyLastError: msg}); werr != nil {
			s.log.Warn("recording last_error failed", zap.String("tenant", tenantID), zap.Error(werr))
		}
		if rerr := s.dir.ReportStatus(ctx, tenantID, nil, &msg); rerr != nil {
			s.log.Warn("reporting status failed", zap.String("tenant", tenantID), zap.Error(rerr))
		}
		return n, err
	}
	if ran {
		// warn is empty on a clean cycle; reporting it either way keeps the
		// registry's last_error in step with the tenant state.
		syncedAt := s.now().UTC().Format(time.RFC3339)
		if rerr := s.dir.ReportStatus(ctx, tenantID, &syncedAt, &warn); rerr != nil {
			s.log.Warn("reporting status failed", zap.String("tenant", tenantID), zap.Error(rerr))
		}
	}
	return n, nil
}

// syncOne is the cycle body. ran is false for the expected no-ops (tenant
// disabled, not connected yet), which are not errors and leave the
// registry's sync status untouched. warn carries a non-fatal enrichment
// failure already recorded in tenant state.
func (s *Service) syncOne(ctx context.Context, tenantID string, coll tabular.Collection, st *state.Store) (n int, ran bool, warn string, err error) {
	snap, err := st.Snapshot(ctx)
	if err != nil {
		return 0, false, "", fmt.Errorf("reading tenant state: %w", err)
	}
	if !snap.Enabled || snap.RefreshTokenEnc == "" {
		return 0, false, "", nil
	}

	zone := snap.Timezone
	if zone == "" {
		zone = "UTC"
	}

	refreshToken, err := secrets.Open(s.sealKey, snap.RefreshTokenEnc)
	if err != nil {
		return 0, true, "", fmt.Errorf("decrypting refresh token: %w", err)
	}
	token, err := s.feed.Exchange(ctx, refreshToken)
	if err != nil {
		return 0, true, "", err
	}

	afterMS := s.pollLowerBound(snap.WatermarkMS)
	items, err := s.feed.RecentlyPlayed(ctx, token, afterMS, s.pageLimit, s.maxPages)
	if err != nil {
		return 0, true, "", err
	}

	ledger := dedupe.New(coll)
	seen, err := ledger.LoadRecent(ctx, s.dedupeRows)
	if err != nil {
		return 0, true, "", err
	}

	var rows [][]string
	var keys []string
	var trackIDs []string
	maxPlayedMS := snap.WatermarkMS

	for _, it := range items {
		key := dedupe.Key(snap.AccountID, it.PlayedAt, it.TrackID)
		if _, dup := seen[key]; dup {
			continue
		}

		dateStr, err := datefmt.Format(it.PlayedAt, zone)
		if err != nil {
			return 0, true, "", err
		}
		playedMS, err := datefmt.ParseMillis(it.PlayedAt)
		if err != nil {
			return 0, true, "", err
		}

		rows = append(rows, []string{
			dateStr,
			it.TrackName,
			strings.Join(it.ArtistNames, ", "),
			it.TrackID,
			it.TrackURL,
		})
		keys = append(keys, key)
		trackIDs = append(trackIDs, it.TrackID)
		seen[key] = struct{}{}
		if playedMS > maxPlayedMS {
			maxPlayedMS = playedMS
		}
	}

	if len(rows) == 0 {
		// Nothing new; still clear a lingering error from a prior cycle.
		if snap.LastError != "" {
			if err := st.Write(ctx, map[string]string{state.KeyLastError: ""}); err != nil {
				return 0, true, "", fmt.Errorf("clearing last_error: %w", err)
			}
		}
		return 0, true, "", nil
	}

	logTab, err := coll.Table(ctx, LogTable, 1000, len(LogHeader))
	if err != nil {
		return 0, true, "", fmt.Errorf("opening log table: %w", err)
	}
	if err := tabular.EnsureHeader(ctx, logTab, LogHeader); err != nil {
		return 0, true, "", fmt.Errorf("ensuring log header: %w", err)
	}
	if err := logTab.Append(ctx, rows); err != nil {
		return 0, true, "", fmt.Errorf("appending log rows: %w", err)
	}
	if err := ledger.Append(ctx, keys); err != nil {
		return len(rows), true, "", fmt.Errorf("appending dedupe keys: %w", err)
	}

	// Cache enrichment is best-effort: the log rows are already in, so a
	// failure here is recorded but never fails the cycle.
	lastError := ""
	if err := cache.New(coll, s.cacheTTL, cache.WithClock(s.now)).Enrich(ctx, s.meta, token, trackIDs); err != nil {
		lastError = cacheErrPrefix + err.Error()
		s.log.Warn("cache enrichment failed", zap.String("tenant", tenantID), zap.Error(err))
	}

	if err := st.Write(ctx, map[string]string{
		state.KeyWatermark: strconv.FormatInt(maxPlayedMS, 10),
		state.KeyLastError: lastError,
	}); err != nil {
		return len(rows), true, lastError, fmt.Errorf("advancing watermark: %w", err)
	}
	return len(rows), true, lastError, nil
}

// pollLowerBound computes the feed window start: watermark minus lookback,
// or now minus lookback on first sync. The lookback re-polls a safety
// margin every cycle so events delayed upstream are not permanently missed;
// the dedupe ledger absorbs the resulting duplicates.
func (s *Service) pollLowerBound(watermarkMS int64) int64 {
	if watermarkMS == 0 {
		return s.now().Add(-s.lookback).UnixMilli()
	}
	after := watermarkMS - s.lookback.Milliseconds()
	if after < 0 {
		return 0
	}
	return after
}
