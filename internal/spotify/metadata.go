package spotify

import (
	"context"
	"fmt"
	"strings"
)

// Tracks fetches track metadata in upstream-sized chunks (50 ids each) and
// merges the results. Null entries for unknown ids are dropped.
func (c *Client) Tracks(ctx context.Context, token string, ids []string) ([]Track, error) {
	var out []Track
	for _, chunk := range chunkIDs(ids, trackBatchSize) {
		var payload struct {
			Tracks []*Track `json:"tracks"`
		}
		params := map[string]string{"ids": strings.Join(chunk, ",")}
		if err := c.get(ctx, token, "/tracks", params, &payload); err != nil {
			return nil, fmt.Errorf("fetching tracks batch: %w", err)
		}
		for _, t := range payload.Tracks {
			if t != nil && t.ID != "" {
				out = append(out, *t)
			}
		}
	}
	return out, nil
}

// Artists fetches artist metadata in chunks of 50 ids.
func (c *Client) Artists(ctx context.Context, token string, ids []string) ([]Artist, error) {
	var out []Artist
	for _, chunk := range chunkIDs(ids, artistBatchSize) {
		var payload struct {
			Artists []*Artist `json:"artists"`
		}
		params := map[string]string{"ids": strings.Join(chunk, ",")}
		if err := c.get(ctx, token, "/artists", params, &payload); err != nil {
			return nil, fmt.Errorf("fetching artists batch: %w", err)
		}
		for _, a := range payload.Artists {
			if a != nil && a.ID != "" {
				out = append(out, *a)
			}
		}
	}
	return out, nil
}

// Albums fetches album metadata in chunks of 20 ids, the lower ceiling the
// albums endpoint imposes.
func (c *Client) Albums(ctx context.Context, token string, ids []string) ([]Album, error) {
	var out []Album
	for _, chunk := range chunkIDs(ids, albumBatchSize) {
		var payload struct {
			Albums []*Album `json:"albums"`
		}
		params := map[string]string{"ids": strings.Join(chunk, ",")}
		if err := c.get(ctx, token, "/albums", params, &payload); err != nil {
			return nil, fmt.Errorf("fetching albums batch: %w", err)
		}
		for _, a := range payload.Albums {
			if a != nil && a.ID != "" {
				out = append(out, *a)
			}
		}
	}
	return out, nil
}

// chunkIDs splits ids into slices of at most size, skipping empties.
func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	var cur []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		cur = append(cur, id)
		if len(cur) == size {
			chunks = append(chunks, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}
