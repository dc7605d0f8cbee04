// Package datefmt renders Spotify played-at timestamps the way the
// dashboard reads them back. The layout is a durable output contract: the
// formatted string is what gets stored in the log rows.
package datefmt

import (
	"fmt"
	"time"
)

// Layout renders e.g. "November 12, 2025 at 10:42AM". Hour 0 maps to 12AM
// and hour 12 to 12PM, which Go's 12-hour verbs already guarantee.
const Layout = "January 2, 2006 at 3:04PM"

// Parse reads a feed timestamp (ISO-8601 UTC, optional fractional seconds).
func Parse(playedAt string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, playedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing played_at %q: %w", playedAt, err)
	}
	return ts, nil
}

// ParseMillis returns the feed timestamp as milliseconds since epoch.
func ParseMillis(playedAt string) (int64, error) {
	ts, err := Parse(playedAt)
	if err != nil {
		return 0, err
	}
	return ts.UnixMilli(), nil
}

// Format renders playedAt in the named IANA zone using Layout.
func Format(playedAt, zone string) (string, error) {
	ts, err := Parse(playedAt)
	if err != nil {
		return "", err
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return "", fmt.Errorf("loading timezone %q: %w", zone, err)
	}
	return ts.In(loc).Format(Layout), nil
}
