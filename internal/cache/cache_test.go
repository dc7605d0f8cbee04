package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/go-spotify-listen-logger/internal/spotify"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// mockAPI serves canned metadata and records requested ids.
type mockAPI struct {
	tracks  map[string]spotify.Track
	artists map[string]spotify.Artist
	albums  map[string]spotify.Album

	trackCalls  [][]string
	artistCalls [][]string
	albumCalls  [][]string

	err error
}

func (m *mockAPI) Tracks(_ context.Context, _ string, ids []string) ([]spotify.Track, error) {
	m.trackCalls = append(m.trackCalls, ids)
	if m.err != nil {
		return nil, m.err
	}
	var out []spotify.Track
	for _, id := range ids {
		if t, ok := m.tracks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockAPI) Artists(_ context.Context, _ string, ids []string) ([]spotify.Artist, error) {
	m.artistCalls = append(m.artistCalls, ids)
	if m.err != nil {
		return nil, m.err
	}
	var out []spotify.Artist
	for _, id := range ids {
		if a, ok := m.artists[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAPI) Albums(_ context.Context, _ string, ids []string) ([]spotify.Album, error) {
	m.albumCalls = append(m.albumCalls, ids)
	if m.err != nil {
		return nil, m.err
	}
	var out []spotify.Album
	for _, id := range ids {
		if a, ok := m.albums[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

var fixedNow = time.Date(2025, 11, 12, 10, 42, 0, 0, time.UTC)

const ttl = 30 * 24 * time.Hour

func testCache(t *testing.T) (*Cache, tabular.Collection) {
	t.Helper()
	coll, err := tabular.NewMemStore().Open(context.Background(), "tenant-1")
	require.NoError(t, err)
	return New(coll, ttl, WithClock(func() time.Time { return fixedNow })), coll
}

func stamp(age time.Duration) string {
	return fixedNow.Add(-age).UTC().Format(time.RFC3339)
}

func TestFreshBoundary(t *testing.T) {
	assert.False(t, Fresh(stamp(ttl+time.Second), ttl, fixedNow), "one second past TTL is stale")
	assert.True(t, Fresh(stamp(ttl-time.Second), ttl, fixedNow), "one second inside TTL is fresh")
	assert.False(t, Fresh(stamp(ttl), ttl, fixedNow), "exactly TTL old is stale")
	assert.False(t, Fresh("", ttl, fixedNow))
	assert.False(t, Fresh("not a timestamp", ttl, fixedNow))
}

func TestTracksClassification(t *testing.T) {
	c, coll := testCache(t)
	ctx := context.Background()

	api := &mockAPI{tracks: map[string]spotify.Track{
		"fresh": {ID: "fresh", Name: "Fresh Song"},
		"stale": {ID: "stale", Name: "Stale Song"},
	}}
	require.NoError(t, c.Enrich(ctx, api, "at", []string{"fresh", "stale"}))

	// Age the "stale" row past the TTL.
	tab, err := coll.Table(ctx, TracksTable, 0, 0)
	require.NoError(t, err)
	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	for i, row := range rows {
		if len(row) > 0 && row[0] == "stale" {
			row[len(TracksHeader)-1] = stamp(ttl + time.Hour)
			require.NoError(t, tab.WriteRange(ctx, tabular.Range{Row: i + 1, Col: 1}, [][]string{row}))
		}
	}

	fresh, need, err := c.Tracks(ctx, []string{"fresh", "stale", "absent"})
	require.NoError(t, err)
	assert.Contains(t, fresh, "fresh")
	assert.NotContains(t, fresh, "stale")
	assert.ElementsMatch(t, []string{"stale", "absent"}, need)
}

func TestEnrichSkipsFreshTracks(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	api := &mockAPI{tracks: map[string]spotify.Track{"t1": {ID: "t1", Name: "Song"}}}
	require.NoError(t, c.Enrich(ctx, api, "at", []string{"t1"}))
	require.Len(t, api.trackCalls, 1)

	// Second enrichment inside the TTL fetches nothing.
	require.NoError(t, c.Enrich(ctx, api, "at", []string{"t1"}))
	assert.Len(t, api.trackCalls, 1, "fresh ids must not be re-fetched")
}

func TestEnrichCascadeHarvestsFromResults(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	api := &mockAPI{
		tracks: map[string]spotify.Track{
			"t1": {
				ID: "t1", Name: "Song One", DurationMS: 201000,
				Album:   spotify.Album{ID: "al1", Name: "Album One", Images: []spotify.Image{{URL: "http://img/al1"}}},
				Artists: []spotify.Artist{{ID: "a1", Name: "Artist One"}, {ID: "a2", Name: "Artist Two"}},
			},
		},
		artists: map[string]spotify.Artist{
			"a1": {ID: "a1", Name: "Artist One", Genres: []string{"indie", "rock"}},
			"a2": {ID: "a2", Name: "Artist Two"},
		},
		albums: map[string]spotify.Album{
			"al1": {ID: "al1", Name: "Album One", ReleaseDate: "2024-03-01"},
		},
	}

	require.NoError(t, c.Enrich(ctx, api, "at", []string{"t1"}))

	// Artist and album passes ran on ids harvested from the track results.
	require.Len(t, api.artistCalls, 1)
	assert.ElementsMatch(t, []string{"a1", "a2"}, api.artistCalls[0])
	require.Len(t, api.albumCalls, 1)
	assert.Equal(t, []string{"al1"}, api.albumCalls[0])

	tracks, _, err := c.Tracks(ctx, []string{"t1"})
	require.NoError(t, err)
	rec := tracks["t1"]
	assert.Equal(t, "201000", rec.DurationMS)
	assert.Equal(t, "a1", rec.PrimaryArtistID)
	assert.Equal(t, []string{"a1", "a2"}, rec.ArtistIDs)
	assert.Equal(t, "al1", rec.AlbumID)

	artists, _, err := c.Artists(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, "indie", artists["a1"].PrimaryGenre)
	assert.Equal(t, []string{"indie", "rock"}, artists["a1"].Genres)

	albums, _, err := c.Albums(ctx, []string{"al1"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", albums["al1"].ReleaseDate)
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	c, coll := testCache(t)
	ctx := context.Background()

	api := &mockAPI{tracks: map[string]spotify.Track{"t1": {ID: "t1", Name: "Old Name"}}}
	require.NoError(t, c.Enrich(ctx, api, "at", []string{"t1"}))

	// Age the record, rename the track upstream, enrich again.
	tab, err := coll.Table(ctx, TracksTable, 0, 0)
	require.NoError(t, err)
	rows, err := tab.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	rows[1][len(TracksHeader)-1] = stamp(ttl + time.Hour)
	require.NoError(t, tab.WriteRange(ctx, tabular.Range{Row: 2, Col: 1}, [][]string{rows[1]}))

	api.tracks["t1"] = spotify.Track{ID: "t1", Name: "New Name"}
	require.NoError(t, c.Enrich(ctx, api, "at", []string{"t1"}))

	rows, err = tab.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "refresh must rewrite the row, not append a duplicate")
	assert.Equal(t, "New Name", rows[1][1])
}

func TestEnrichEmptyInput(t *testing.T) {
	c, _ := testCache(t)
	api := &mockAPI{}
	require.NoError(t, c.Enrich(context.Background(), api, "at", nil))
	assert.Empty(t, api.trackCalls)
}
