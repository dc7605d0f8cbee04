package spotify

// Image is one cover art rendition. The API orders images widest first.
type Image struct {
	URL string `json:"url"`
}

// Artist is the artist object, full or simplified. Simplified references
// (inside tracks) carry only id and name.
type Artist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Images []Image  `json:"images"`
	Genres []string `json:"genres"`
}

// Album is the album object, full or simplified.
type Album struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Images      []Image `json:"images"`
	ReleaseDate string  `json:"release_date"`
}

// Track is the track object.
type Track struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	DurationMS   int               `json:"duration_ms"`
	Album        Album             `json:"album"`
	Artists      []Artist          `json:"artists"`
	ExternalURLs map[string]string `json:"external_urls"`
}

// URL returns the public track page, synthesizing it when absent.
func (t Track) URL() string {
	if u := t.ExternalURLs["spotify"]; u != "" {
		return u
	}
	return "https://open.spotify.com/track/" + t.ID
}

// CoverURL returns the widest album image, if any.
func (a Album) CoverURL() string {
	if len(a.Images) == 0 {
		return ""
	}
	return a.Images[0].URL
}

// CoverURL returns the widest artist image, if any.
func (a Artist) CoverURL() string {
	if len(a.Images) == 0 {
		return ""
	}
	return a.Images[0].URL
}

// PlayedItem is one entry of the recently-played feed, flattened to what
// the log row and dedupe key need.
type PlayedItem struct {
	PlayedAt    string
	TrackID     string
	TrackName   string
	ArtistNames []string
	TrackURL    string
}
