// Package registry is the operator-owned directory of tenants: enabled
// flag, sync status, and the external account each tenant is bound to.
// Tenants are referenced by opaque collection id only; no tenant secret
// ever lands here.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// TableName is the registry table inside the operator collection.
const TableName = "registry"

// Header is the V2 seven-column schema with the account binding.
var Header = []string{"tenant_id", "enabled", "created_at", "last_seen_at", "last_sync_at", "last_error", "account_id"}

// Column indices into Header, 1-based for range writes.
const (
	colTenantID = iota + 1
	colEnabled
	colCreatedAt
	colLastSeenAt
	colLastSyncAt
	colLastError
	colAccountID
)

// Sentinel errors.
var (
	// ErrHeaderMismatch means the backing table carries an older schema.
	// Migration has to be explicit, never silent.
	ErrHeaderMismatch = errors.New("registry header mismatch, migrate the registry table to the 7-column schema")

	// ErrNotFound is returned when a tenant has no registry entry.
	ErrNotFound = errors.New("tenant not registered")
)

// Entry is one tenant's registry row.
type Entry struct {
	TenantID   string
	Enabled    bool
	CreatedAt  string
	LastSeenAt string
	LastSyncAt string
	LastError  string
	AccountID  string
}

// Registry reads and writes the shared tenant directory.
type Registry struct {
	tab tabular.Table
	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Open binds to the registry table inside the operator collection, creating
// and header-stamping it when empty. An existing non-matching header is a
// hard error.
func Open(ctx context.Context, store tabular.Store, collectionID string, opts ...Option) (*Registry, error) {
	coll, err := store.Open(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("opening registry collection: %w", err)
	}
	tab, err := coll.Table(ctx, TableName, 1000, len(Header))
	if err != nil {
		return nil, fmt.Errorf("opening registry table: %w", err)
	}

	rows, err := tab.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading registry header: %w", err)
	}
	if isEmpty(rows) {
		if err := tab.WriteRange(ctx, tabular.Range{Row: 1, Col: 1}, [][]string{Header}); err != nil {
			return nil, fmt.Errorf("stamping registry header: %w", err)
		}
	} else if !headerMatches(rows[0]) {
		return nil, ErrHeaderMismatch
	}

	r := &Registry{tab: tab, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// List returns every registry entry in table order.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.tab.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	var out []Entry
	for _, row := range dataRows(rows) {
		e := entryFromRow(row)
		if e.TenantID != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListEnabled returns the ids of enabled tenants, in enumeration order.
// Batch runs follow this order and promise nothing beyond it.
func (r *Registry) ListEnabled(ctx context.Context) ([]string, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Enabled {
			out = append(out, e.TenantID)
		}
	}
	return out, nil
}

// FindByAccount returns the tenant currently bound to accountID, or "" when
// none is. A linear scan: the registry holds one row per tenant and this
// runs only on connect/enable actions, not per sync cycle.
func (r *Registry) FindByAccount(ctx context.Context, accountID string) (string, error) {
	if accountID == "" {
		return "", nil
	}
	entries, err := r.List(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.AccountID == accountID {
			return e.TenantID, nil
		}
	}
	return "", nil
}

// Get returns one tenant's entry.
func (r *Registry) Get(ctx context.Context, tenantID string) (Entry, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.TenantID == tenantID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// Upsert creates or updates a tenant entry. New entries stamp created_at
// and last_seen_at; existing entries update enabled, last_seen_at, and
// (when non-nil) account_id in one batched write.
func (r *Registry) Upsert(ctx context.Context, tenantID string, enabled bool, accountID *string) error {
	row, err := r.findRow(ctx, tenantID)
	if err != nil {
		return err
	}
	now := r.nowISO()

	if row == 0 {
		acc := ""
		if accountID != nil {
			acc = *accountID
		}
		entry := []string{tenantID, formatBool(enabled), now, now, "", "", acc}
		if err := r.tab.Append(ctx, [][]string{entry}); err != nil {
			return fmt.Errorf("appending registry entry: %w", err)
		}
		return nil
	}

	writes := []tabular.RangeWrite{
		cellWrite(row, colEnabled, formatBool(enabled)),
		cellWrite(row, colLastSeenAt, now),
	}
	if accountID != nil {
		writes = append(writes, cellWrite(row, colAccountID, *accountID))
	}
	if err := r.tab.BatchWrite(ctx, writes); err != nil {
		return fmt.Errorf("updating registry entry: %w", err)
	}
	return nil
}

// ReportStatus records a sync outcome. Nil fields are left untouched;
// last_seen_at is always bumped. A missing entry is a no-op, not an error,
// so status reporting never masks the sync result.
func (r *Registry) ReportStatus(ctx context.Context, tenantID string, lastSyncAt, lastError *string) error {
	row, err := r.findRow(ctx, tenantID)
	if err != nil {
		return err
	}
	if row == 0 {
		return nil
	}

	writes := []tabular.RangeWrite{cellWrite(row, colLastSeenAt, r.nowISO())}
	if lastSyncAt != nil {
		writes = append(writes, cellWrite(row, colLastSyncAt, *lastSyncAt))
	}
	if lastError != nil {
		writes = append(writes, cellWrite(row, colLastError, *lastError))
	}
	if err := r.tab.BatchWrite(ctx, writes); err != nil {
		return fmt.Errorf("updating registry status: %w", err)
	}
	return nil
}

func (r *Registry) findRow(ctx context.Context, tenantID string) (int, error) {
	rows, err := r.tab.ReadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading registry: %w", err)
	}
	for i, row := range dataRows(rows) {
		if len(row) > 0 && strings.TrimSpace(row[0]) == tenantID {
			return i + 2, nil
		}
	}
	return 0, nil
}

func (r *Registry) nowISO() string {
	return r.now().UTC().Format(time.RFC3339)
}

func entryFromRow(row []string) Entry {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	return Entry{
		TenantID:   cell(colTenantID - 1),
		Enabled:    parseBool(cell(colEnabled - 1)),
		CreatedAt:  cell(colCreatedAt - 1),
		LastSeenAt: cell(colLastSeenAt - 1),
		LastSyncAt: cell(colLastSyncAt - 1),
		LastError:  cell(colLastError - 1),
		AccountID:  cell(colAccountID - 1),
	}
}

func cellWrite(row, col int, value string) tabular.RangeWrite {
	return tabular.RangeWrite{
		Range: tabular.Range{Row: row, Col: col},
		Rows:  [][]string{{value}},
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func headerMatches(row []string) bool {
	if len(row) < len(Header) {
		return false
	}
	for i, h := range Header {
		if strings.TrimSpace(row[i]) != h {
			return false
		}
	}
	return true
}

func isEmpty(rows [][]string) bool {
	for _, row := range rows {
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				return false
			}
		}
	}
	return true
}

func dataRows(rows [][]string) [][]string {
	if len(rows) == 0 {
		return nil
	}
	return rows[1:]
}
