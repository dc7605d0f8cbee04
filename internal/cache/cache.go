package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/justestif/go-spotify-listen-logger/internal/spotify"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// updateChunkSize bounds how many row rewrites go into one batch request.
const updateChunkSize = 200

// MetadataAPI is the slice of the Spotify client the cache needs. The
// implementation chunks ids to the upstream batch ceilings itself.
type MetadataAPI interface {
	Tracks(ctx context.Context, token string, ids []string) ([]spotify.Track, error)
	Artists(ctx context.Context, token string, ids []string) ([]spotify.Artist, error)
	Albums(ctx context.Context, token string, ids []string) ([]spotify.Album, error)
}

// Cache reads and refreshes one tenant's three metadata tables.
type Cache struct {
	coll tabular.Collection
	ttl  time.Duration
	now  func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the freshness clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache with the given freshness TTL.
func New(coll tabular.Collection, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{coll: coll, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tracks returns the fresh track records plus the subset of ids that are
// stale or missing and need a re-fetch.
func (c *Cache) Tracks(ctx context.Context, ids []string) (map[string]TrackRecord, []string, error) {
	tab, err := c.table(ctx, TracksTable, TracksHeader)
	if err != nil {
		return nil, nil, err
	}
	rows, err := tab.ReadAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading tracks cache: %w", err)
	}

	fresh := make(map[string]TrackRecord)
	for _, row := range dataRows(rows) {
		rec := trackFromRow(row)
		if rec.TrackID != "" && Fresh(rec.FetchedAt, c.ttl, c.now()) {
			fresh[rec.TrackID] = rec
		}
	}
	return fresh, missingFrom(ids, func(id string) bool { _, ok := fresh[id]; return ok }), nil
}

// Artists is the artist-table counterpart of Tracks.
func (c *Cache) Artists(ctx context.Context, ids []string) (map[string]ArtistRecord, []string, error) {
	tab, err := c.table(ctx, ArtistsTable, ArtistsHeader)
	if err != nil {
		return nil, nil, err
	}
	rows, err := tab.ReadAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading artists cache: %w", err)
	}

	fresh := make(map[string]ArtistRecord)
	for _, row := range dataRows(rows) {
		rec := artistFromRow(row)
		if rec.ArtistID != "" && Fresh(rec.FetchedAt, c.ttl, c.now()) {
			fresh[rec.ArtistID] = rec
		}
	}
	return fresh, missingFrom(ids, func(id string) bool { _, ok := fresh[id]; return ok }), nil
}

// Albums is the album-table counterpart of Tracks.
func (c *Cache) Albums(ctx context.Context, ids []string) (map[string]AlbumRecord, []string, error) {
	tab, err := c.table(ctx, AlbumsTable, AlbumsHeader)
	if err != nil {
		return nil, nil, err
	}
	rows, err := tab.ReadAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading albums cache: %w", err)
	}

	fresh := make(map[string]AlbumRecord)
	for _, row := range dataRows(rows) {
		rec := albumFromRow(row)
		if rec.AlbumID != "" && Fresh(rec.FetchedAt, c.ttl, c.now()) {
			fresh[rec.AlbumID] = rec
		}
	}
	return fresh, missingFrom(ids, func(id string) bool { _, ok := fresh[id]; return ok }), nil
}

// Enrich refreshes the caches for the given track ids: stale or missing
// tracks are re-fetched first, then the artist and album passes run on ids
// harvested from the fetched tracks, not from the caller's input.
func (c *Cache) Enrich(ctx context.Context, api MetadataAPI, token string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}

	tracksTab, err := c.table(ctx, TracksTable, TracksHeader)
	if err != nil {
		return err
	}
	trackRow, trackFetched, err := c.indexTable(ctx, tracksTab, len(TracksHeader))
	if err != nil {
		return fmt.Errorf("indexing tracks cache: %w", err)
	}

	need := c.staleIDs(uniqueSorted(trackIDs), trackFetched)
	if len(need) == 0 {
		return nil
	}

	fetched, err := api.Tracks(ctx, token, need)
	if err != nil {
		return fmt.Errorf("fetching track metadata: %w", err)
	}

	now := c.now().UTC().Format(time.RFC3339)
	var trackRows [][]string
	artistIDs := make(map[string]struct{})
	albumIDs := make(map[string]struct{})

	for _, t := range fetched {
		ids := make([]string, 0, len(t.Artists))
		for _, a := range t.Artists {
			if a.ID != "" {
				ids = append(ids, a.ID)
				artistIDs[a.ID] = struct{}{}
			}
		}
		primary := ""
		if len(ids) > 0 {
			primary = ids[0]
		}
		if t.Album.ID != "" {
			albumIDs[t.Album.ID] = struct{}{}
		}
		trackRows = append(trackRows, TrackRecord{
			TrackID:         t.ID,
			TrackName:       t.Name,
			DurationMS:      strconv.Itoa(t.DurationMS),
			AlbumID:         t.Album.ID,
			AlbumCoverURL:   t.Album.CoverURL(),
			PrimaryArtistID: primary,
			ArtistIDs:       ids,
			TrackURL:        t.URL(),
			FetchedAt:       now,
		}.row())
	}

	if err := c.upsert(ctx, tracksTab, trackRow, trackRows); err != nil {
		return fmt.Errorf("upserting tracks cache: %w", err)
	}

	if err := c.enrichArtists(ctx, api, token, setToSlice(artistIDs), now); err != nil {
		return err
	}
	return c.enrichAlbums(ctx, api, token, setToSlice(albumIDs), now)
}

func (c *Cache) enrichArtists(ctx context.Context, api MetadataAPI, token string, ids []string, now string) error {
	if len(ids) == 0 {
		return nil
	}
	tab, err := c.table(ctx, ArtistsTable, ArtistsHeader)
	if err != nil {
		return err
	}
	keyToRow, fetchedAt, err := c.indexTable(ctx, tab, len(ArtistsHeader))
	if err != nil {
		return fmt.Errorf("indexing artists cache: %w", err)
	}
	need := c.staleIDs(ids, fetchedAt)
	if len(need) == 0 {
		return nil
	}

	artists, err := api.Artists(ctx, token, need)
	if err != nil {
		return fmt.Errorf("fetching artist metadata: %w", err)
	}

	var rows [][]string
	for _, a := range artists {
		primary := ""
		if len(a.Genres) > 0 {
			primary = a.Genres[0]
		}
		rows = append(rows, ArtistRecord{
			ArtistID:     a.ID,
			ArtistName:   a.Name,
			CoverURL:     a.CoverURL(),
			Genres:       a.Genres,
			PrimaryGenre: primary,
			FetchedAt:    now,
		}.row())
	}
	if err := c.upsert(ctx, tab, keyToRow, rows); err != nil {
		return fmt.Errorf("upserting artists cache: %w", err)
	}
	return nil
}

func (c *Cache) enrichAlbums(ctx context.Context, api MetadataAPI, token string, ids []string, now string) error {
	if len(ids) == 0 {
		return nil
	}
	tab, err := c.table(ctx, AlbumsTable, AlbumsHeader)
	if err != nil {
		return err
	}
	keyToRow, fetchedAt, err := c.indexTable(ctx, tab, len(AlbumsHeader))
	if err != nil {
		return fmt.Errorf("indexing albums cache: %w", err)
	}
	need := c.staleIDs(ids, fetchedAt)
	if len(need) == 0 {
		return nil
	}

	albums, err := api.Albums(ctx, token, need)
	if err != nil {
		return fmt.Errorf("fetching album metadata: %w", err)
	}

	var rows [][]string
	for _, a := range albums {
		rows = append(rows, AlbumRecord{
			AlbumID:     a.ID,
			AlbumName:   a.Name,
			CoverURL:    a.CoverURL(),
			ReleaseDate: a.ReleaseDate,
			FetchedAt:   now,
		}.row())
	}
	if err := c.upsert(ctx, tab, keyToRow, rows); err != nil {
		return fmt.Errorf("upserting albums cache: %w", err)
	}
	return nil
}

// upsert splits rows into in-place updates of existing keys (batched range
// writes) and a single bulk append of new keys. Each write is a metered
// remote call, so the split is a cost optimization, not a nicety.
func (c *Cache) upsert(ctx context.Context, tab tabular.Table, keyToRow map[string]int, rows [][]string) error {
	var updates []tabular.RangeWrite
	var appends [][]string

	for _, row := range rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if ri, ok := keyToRow[strings.TrimSpace(row[0])]; ok {
			updates = append(updates, tabular.RangeWrite{
				Range: tabular.Range{Row: ri, Col: 1},
				Rows:  [][]string{row},
			})
		} else {
			appends = append(appends, row)
		}
	}

	for i := 0; i < len(updates); i += updateChunkSize {
		end := i + updateChunkSize
		if end > len(updates) {
			end = len(updates)
		}
		if err := tab.BatchWrite(ctx, updates[i:end]); err != nil {
			return err
		}
	}
	if len(appends) > 0 {
		if err := tab.Append(ctx, appends); err != nil {
			return err
		}
	}
	return nil
}

// indexTable maps key -> 1-based row index and key -> fetched_at, the two
// lookups every enrichment pass needs.
func (c *Cache) indexTable(ctx context.Context, tab tabular.Table, width int) (map[string]int, map[string]string, error) {
	rows, err := tab.ReadAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	keyToRow := make(map[string]int)
	fetchedAt := make(map[string]string)
	for i, row := range dataRows(rows) {
		cell := cellReader(row)
		key := cell(0)
		if key == "" {
			continue
		}
		keyToRow[key] = i + 2
		fetchedAt[key] = cell(width - 1)
	}
	return keyToRow, fetchedAt, nil
}

func (c *Cache) staleIDs(ids []string, fetchedAt map[string]string) []string {
	var out []string
	for _, id := range ids {
		if !Fresh(fetchedAt[id], c.ttl, c.now()) {
			out = append(out, id)
		}
	}
	return out
}

func (c *Cache) table(ctx context.Context, name string, header []string) (tabular.Table, error) {
	tab, err := c.coll.Table(ctx, name, 1000, len(header))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	if err := tabular.EnsureHeader(ctx, tab, header); err != nil {
		return nil, fmt.Errorf("ensuring %s header: %w", name, err)
	}
	return tab, nil
}

func dataRows(rows [][]string) [][]string {
	if len(rows) == 0 {
		return nil
	}
	return rows[1:]
}

func missingFrom(ids []string, has func(string) bool) []string {
	var out []string
	for _, id := range uniqueSorted(ids) {
		if !has(id) {
			out = append(out, id)
		}
	}
	return out
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
