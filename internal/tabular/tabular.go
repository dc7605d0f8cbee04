// Package tabular abstracts the spreadsheet-style storage backend: named
// collections of small tables addressed by row/column, with append and
// targeted range writes. Backends are expected to be remote and metered,
// so callers batch writes wherever possible.
package tabular

import (
	"context"
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrCollectionNotFound is returned when a collection id does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrTableNotFound is returned when a table is missing and creation was
	// not requested.
	ErrTableNotFound = errors.New("table not found")

	// ErrHeaderMismatch is returned when a table's row 1 carries a different
	// schema than expected. Schema changes must be migrated explicitly, never
	// absorbed by overwriting the header above old-shape data rows.
	ErrHeaderMismatch = errors.New("table header mismatch")
)

// Range addresses the top-left cell of a write, 1-based.
type Range struct {
	Row int
	Col int
}

// RangeWrite pairs a range with the rows to write there.
type RangeWrite struct {
	Range Range
	Rows  [][]string
}

// Store opens collections by their opaque id.
type Store interface {
	Open(ctx context.Context, collectionID string) (Collection, error)
}

// Collection is one tenant's (or the operator's) set of tables.
type Collection interface {
	// ID returns the opaque collection id this handle was opened with.
	ID() string

	// Table returns the named table, creating it with at least minRows x
	// minCols capacity if it does not exist.
	Table(ctx context.Context, name string, minRows, minCols int) (Table, error)
}

// Table is a single grid of string cells. Row 1 is by convention a header.
type Table interface {
	Name() string

	// ReadAll returns every row, header included. Rows may be ragged.
	ReadAll(ctx context.Context) ([][]string, error)

	// WriteRange overwrites cells starting at rng. Rows are written
	// contiguously below each other.
	WriteRange(ctx context.Context, rng Range, rows [][]string) error

	// Append adds rows after the last non-empty row in one request.
	Append(ctx context.Context, rows [][]string) error

	// BatchWrite applies several range writes in a single request.
	BatchWrite(ctx context.Context, writes []RangeWrite) error
}

// EnsureHeader stamps header into row 1 of an empty table. A matching
// header is a no-op; a different non-empty header is ErrHeaderMismatch.
func EnsureHeader(ctx context.Context, t Table, header []string) error {
	rows, err := t.ReadAll(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 || emptyRow(rows[0]) {
		return t.WriteRange(ctx, Range{Row: 1, Col: 1}, [][]string{header})
	}
	if equalRow(rows[0], header) {
		return nil
	}
	return fmt.Errorf("%w: table %s", ErrHeaderMismatch, t.Name())
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

func equalRow(got, want []string) bool {
	if len(got) < len(want) {
		return false
	}
	for i, w := range want {
		if got[i] != w {
			return false
		}
	}
	// Trailing cells beyond the header must be empty for a match.
	for _, c := range got[len(want):] {
		if c != "" {
			return false
		}
	}
	return true
}
