package spotify

import (
	"context"
	"fmt"
	"strconv"
)

type recentlyPlayedPage struct {
	Items []struct {
		PlayedAt string `json:"played_at"`
		Track    Track  `json:"track"`
	} `json:"items"`
	Next string `json:"next"`
}

// RecentlyPlayed pages through the feed starting after afterMS (exclusive).
// Paging stops at maxPages, on an empty page, or when the feed reports no
// next URL; maxPages is back-pressure so one tenant cannot monopolize a
// shared worker run.
func (c *Client) RecentlyPlayed(ctx context.Context, token string, afterMS int64, limit, maxPages int) ([]PlayedItem, error) {
	if limit <= 0 {
		limit = 50
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	var items []PlayedItem
	url := "/me/player/recently-played"
	params := map[string]string{"limit": strconv.Itoa(limit)}
	if afterMS > 0 {
		params["after"] = strconv.FormatInt(afterMS, 10)
	}

	for page := 0; page < maxPages; page++ {
		var payload recentlyPlayedPage
		if err := c.get(ctx, token, url, params, &payload); err != nil {
			return nil, fmt.Errorf("fetching recently played: %w", err)
		}
		if len(payload.Items) == 0 {
			break
		}

		for _, raw := range payload.Items {
			names := make([]string, 0, len(raw.Track.Artists))
			for _, a := range raw.Track.Artists {
				names = append(names, a.Name)
			}
			items = append(items, PlayedItem{
				PlayedAt:    raw.PlayedAt,
				TrackID:     raw.Track.ID,
				TrackName:   raw.Track.Name,
				ArtistNames: names,
				TrackURL:    raw.Track.URL(),
			})
		}

		if payload.Next == "" {
			break
		}
		// The next link is absolute and already carries the cursor.
		url = payload.Next
		params = nil
	}
	return items, nil
}
