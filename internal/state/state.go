// Package state stores per-tenant settings as key/value rows in the
// tenant's own collection. Reads parse the two-column table into a typed
// snapshot; writes upsert keys in place and always stamp updated_at.
package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// TableName is the tenant-state table inside each tenant collection.
const TableName = "__app_state"

// Header is the fixed two-column schema.
var Header = []string{"key", "value"}

// Recognized keys. Unknown keys survive round trips untouched.
const (
	KeyEnabled         = "enabled"
	KeyTimezone        = "timezone"
	KeyWatermark       = "last_synced_after_ts"
	KeyAccountID       = "spotify_user_id"
	KeyRefreshTokenEnc = "refresh_token_enc"
	KeyCreatedAt       = "created_at"
	KeyUpdatedAt       = "updated_at"
	KeyLastError       = "last_error"
)

// Snapshot is the typed view of one tenant's state rows. Absent keys parse
// to zero values; callers apply defaults.
type Snapshot struct {
	Enabled         bool
	Timezone        string
	WatermarkMS     int64
	AccountID       string
	RefreshTokenEnc string
	CreatedAt       string
	UpdatedAt       string
	LastError       string
}

// Store reads and writes one tenant's state table.
type Store struct {
	coll tabular.Collection
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for updated_at stamping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over a tenant collection.
func New(coll tabular.Collection, opts ...Option) *Store {
	s := &Store{coll: coll, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read parses the state table into a raw mapping. A missing or empty table
// yields an empty map, not an error.
func (s *Store) Read(ctx context.Context) (map[string]string, error) {
	tab, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tab.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading state rows: %w", err)
	}

	out := make(map[string]string)
	for _, r := range skipHeader(rows) {
		if len(r) < 1 {
			continue
		}
		key := strings.TrimSpace(r[0])
		if key == "" {
			continue
		}
		val := ""
		if len(r) >= 2 {
			val = strings.TrimSpace(r[1])
		}
		out[key] = val
	}
	return out, nil
}

// Snapshot reads and parses the tenant state in one call.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	m, err := s.Read(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Parse(m), nil
}

// Write upserts the given pairs without clearing other keys: existing keys
// get a targeted range write, new keys are appended. updated_at is stamped
// on every write even when not passed explicitly.
func (s *Store) Write(ctx context.Context, kv map[string]string) error {
	tab, err := s.table(ctx)
	if err != nil {
		return err
	}
	rows, err := tab.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("reading state rows: %w", err)
	}

	keyToRow := make(map[string]int)
	for i, r := range skipHeader(rows) {
		if len(r) >= 1 && strings.TrimSpace(r[0]) != "" {
			keyToRow[strings.TrimSpace(r[0])] = i + 2 // 1-based, after header
		}
	}

	payload := make(map[string]string, len(kv)+1)
	for k, v := range kv {
		payload[k] = v
	}
	payload[KeyUpdatedAt] = s.now().UTC().Format(time.RFC3339)

	var updates []tabular.RangeWrite
	var appends [][]string
	for _, k := range sortedKeys(payload) {
		v := payload[k]
		if row, ok := keyToRow[k]; ok {
			updates = append(updates, tabular.RangeWrite{
				Range: tabular.Range{Row: row, Col: 1},
				Rows:  [][]string{{k, v}},
			})
		} else {
			appends = append(appends, []string{k, v})
		}
	}

	if len(updates) > 0 {
		if err := tab.BatchWrite(ctx, updates); err != nil {
			return fmt.Errorf("updating state rows: %w", err)
		}
	}
	if len(appends) > 0 {
		if err := tab.Append(ctx, appends); err != nil {
			return fmt.Errorf("appending state rows: %w", err)
		}
	}
	return nil
}

func (s *Store) table(ctx context.Context) (tabular.Table, error) {
	tab, err := s.coll.Table(ctx, TableName, 200, 2)
	if err != nil {
		return nil, fmt.Errorf("opening state table: %w", err)
	}
	if err := tabular.EnsureHeader(ctx, tab, Header); err != nil {
		return nil, fmt.Errorf("ensuring state header: %w", err)
	}
	return tab, nil
}

// Parse converts a raw state mapping into a typed Snapshot.
func Parse(m map[string]string) Snapshot {
	wm, _ := strconv.ParseInt(m[KeyWatermark], 10, 64)
	return Snapshot{
		Enabled:         ParseBool(m[KeyEnabled]),
		Timezone:        m[KeyTimezone],
		WatermarkMS:     wm,
		AccountID:       m[KeyAccountID],
		RefreshTokenEnc: m[KeyRefreshTokenEnc],
		CreatedAt:       m[KeyCreatedAt],
		UpdatedAt:       m[KeyUpdatedAt],
		LastError:       m[KeyLastError],
	}
}

// ParseBool reads the serialized enabled flag; "true"/"1"/"yes"/"y" count.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

// FormatBool serializes a flag the way ParseBool reads it back.
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func skipHeader(rows [][]string) [][]string {
	if len(rows) == 0 {
		return nil
	}
	return rows[1:]
}

// sortedKeys keeps write order deterministic for tests and batch requests.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
