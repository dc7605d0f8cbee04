// Package dedupe maintains the append-only ledger of ingested play-event
// keys. The ledger is the sole source of truth for "already logged";
// membership reads are bounded to a trailing window so cost stays flat as
// the ledger grows. The watermark+lookback design keeps duplicates older
// than the window practically unreachable.
package dedupe

import (
	"context"
	"fmt"
	"strings"

	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// TableName is the ledger table inside each tenant collection.
const TableName = "__dedupe"

// Header is the single-column schema.
var Header = []string{"dedupe_key"}

// Key derives the deterministic ledger key for one play event. The account
// id namespaces keys across reconnects; when empty the legacy two-part key
// is produced, and loading treats stored keys as opaque either way.
func Key(accountID, playedAt, trackID string) string {
	if accountID == "" {
		return playedAt + "|" + trackID
	}
	return accountID + "|" + playedAt + "|" + trackID
}

// Ledger reads and appends one tenant's dedupe keys.
type Ledger struct {
	coll tabular.Collection
}

// New creates a Ledger over a tenant collection.
func New(coll tabular.Collection) *Ledger {
	return &Ledger{coll: coll}
}

// LoadRecent returns the trailing maxRows ledger keys as a set.
func (l *Ledger) LoadRecent(ctx context.Context, maxRows int) (map[string]struct{}, error) {
	tab, err := l.table(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tab.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading dedupe rows: %w", err)
	}

	keys := make(map[string]struct{})
	if len(rows) <= 1 {
		return keys, nil
	}
	body := rows[1:]
	if maxRows > 0 && len(body) > maxRows {
		body = body[len(body)-maxRows:]
	}
	for _, r := range body {
		if len(r) > 0 && strings.TrimSpace(r[0]) != "" {
			keys[strings.TrimSpace(r[0])] = struct{}{}
		}
	}
	return keys, nil
}

// Append records new keys in one bulk write. Existing entries are never
// rewritten or removed.
func (l *Ledger) Append(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tab, err := l.table(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k}
	}
	if err := tab.Append(ctx, rows); err != nil {
		return fmt.Errorf("appending dedupe keys: %w", err)
	}
	return nil
}

func (l *Ledger) table(ctx context.Context) (tabular.Table, error) {
	tab, err := l.coll.Table(ctx, TableName, 1000, 1)
	if err != nil {
		return nil, fmt.Errorf("opening dedupe table: %w", err)
	}
	if err := tabular.EnsureHeader(ctx, tab, Header); err != nil {
		return nil, fmt.Errorf("ensuring dedupe header: %w", err)
	}
	return tab, nil
}
