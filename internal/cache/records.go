// Package cache keeps denormalized track, artist, and album metadata in
// three keyed tables per tenant. Records carry a fetched_at timestamp;
// staleness past the TTL triggers re-fetch and in-place upsert, never
// deletion. Entities never requested are simply absent.
package cache

import (
	"strings"
	"time"
)

// Table names inside each tenant collection.
const (
	TracksTable  = "__cache_tracks"
	ArtistsTable = "__cache_artists"
	AlbumsTable  = "__cache_albums"
)

// Headers, stamped on creation and matched on load.
var (
	TracksHeader  = []string{"track_id", "track_name", "duration_ms", "album_id", "album_cover_url", "primary_artist_id", "artist_ids", "track_url", "fetched_at"}
	ArtistsHeader = []string{"artist_id", "artist_name", "artist_cover_url", "genres", "primary_genre", "fetched_at"}
	AlbumsHeader  = []string{"album_id", "album_name", "album_cover_url", "release_date", "fetched_at"}
)

// listSep joins multi-valued cells (artist ids, genres).
const listSep = ";"

// TrackRecord is one row of the tracks cache.
type TrackRecord struct {
	TrackID         string
	TrackName       string
	DurationMS      string
	AlbumID         string
	AlbumCoverURL   string
	PrimaryArtistID string
	ArtistIDs       []string
	TrackURL        string
	FetchedAt       string
}

func (r TrackRecord) row() []string {
	return []string{
		r.TrackID, r.TrackName, r.DurationMS, r.AlbumID, r.AlbumCoverURL,
		r.PrimaryArtistID, strings.Join(r.ArtistIDs, listSep), r.TrackURL, r.FetchedAt,
	}
}

func trackFromRow(row []string) TrackRecord {
	cell := cellReader(row)
	return TrackRecord{
		TrackID:         cell(0),
		TrackName:       cell(1),
		DurationMS:      cell(2),
		AlbumID:         cell(3),
		AlbumCoverURL:   cell(4),
		PrimaryArtistID: cell(5),
		ArtistIDs:       splitList(cell(6)),
		TrackURL:        cell(7),
		FetchedAt:       cell(8),
	}
}

// ArtistRecord is one row of the artists cache.
type ArtistRecord struct {
	ArtistID     string
	ArtistName   string
	CoverURL     string
	Genres       []string
	PrimaryGenre string
	FetchedAt    string
}

func (r ArtistRecord) row() []string {
	return []string{
		r.ArtistID, r.ArtistName, r.CoverURL,
		strings.Join(r.Genres, listSep+" "), r.PrimaryGenre, r.FetchedAt,
	}
}

func artistFromRow(row []string) ArtistRecord {
	cell := cellReader(row)
	return ArtistRecord{
		ArtistID:     cell(0),
		ArtistName:   cell(1),
		CoverURL:     cell(2),
		Genres:       splitList(cell(3)),
		PrimaryGenre: cell(4),
		FetchedAt:    cell(5),
	}
}

// AlbumRecord is one row of the albums cache.
type AlbumRecord struct {
	AlbumID     string
	AlbumName   string
	CoverURL    string
	ReleaseDate string
	FetchedAt   string
}

func (r AlbumRecord) row() []string {
	return []string{r.AlbumID, r.AlbumName, r.CoverURL, r.ReleaseDate, r.FetchedAt}
}

func albumFromRow(row []string) AlbumRecord {
	cell := cellReader(row)
	return AlbumRecord{
		AlbumID:     cell(0),
		AlbumName:   cell(1),
		CoverURL:    cell(2),
		ReleaseDate: cell(3),
		FetchedAt:   cell(4),
	}
}

// Fresh reports whether a fetched_at stamp is within ttl of now. Absent or
// unparseable stamps are stale.
func Fresh(fetchedAt string, ttl time.Duration, now time.Time) bool {
	if fetchedAt == "" {
		return false
	}
	ts, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return false
	}
	return now.Sub(ts) < ttl
}

func cellReader(row []string) func(int) string {
	return func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, listSep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
