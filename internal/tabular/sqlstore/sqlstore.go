// Package sqlstore backs the tabular store with a relational database,
// for local runs and tests that need durability without a spreadsheet.
// Cells live in one sparse table keyed by collection, tab, row, and
// column; grids are reassembled on read.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// rownum/colnum instead of row/col: ROW is reserved in Postgres.
const schema = `
CREATE TABLE IF NOT EXISTS tabs (
	collection TEXT NOT NULL,
	tab        TEXT NOT NULL,
	PRIMARY KEY (collection, tab)
);
CREATE TABLE IF NOT EXISTS cells (
	collection TEXT    NOT NULL,
	tab        TEXT    NOT NULL,
	rownum     INTEGER NOT NULL,
	colnum     INTEGER NOT NULL,
	value      TEXT    NOT NULL,
	PRIMARY KEY (collection, tab, rownum, colnum)
);
`

// Store is a tabular.Store over database/sql.
type Store struct {
	db       *sql.DB
	postgres bool
}

// OpenSQLite opens or creates a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// The sqlite driver serializes writes itself; one connection avoids
	// SQLITE_BUSY under concurrent table access.
	db.SetMaxOpenConns(1)
	return newStore(ctx, db, false)
}

// OpenPostgres connects to a PostgreSQL database by DSN.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}
	return newStore(ctx, db, true)
}

func newStore(ctx context.Context, db *sql.DB, postgres bool) (*Store, error) {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
	}
	return &Store{db: db, postgres: postgres}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Open returns the collection, creating it implicitly. The database is
// ours, so unlike a spreadsheet backend there is no pre-shared id to miss.
func (s *Store) Open(_ context.Context, collectionID string) (tabular.Collection, error) {
	return &collection{store: s, id: collectionID}, nil
}

// rebind converts ? placeholders to the $n form when talking to Postgres.
func (s *Store) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type collection struct {
	store *Store
	id    string
}

func (c *collection) ID() string { return c.id }

func (c *collection) Table(ctx context.Context, name string, _, _ int) (tabular.Table, error) {
	q := c.store.rebind(`INSERT INTO tabs (collection, tab) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	if _, err := c.store.db.ExecContext(ctx, q, c.id, name); err != nil {
		return nil, fmt.Errorf("registering table %s: %w", name, err)
	}
	return &table{store: c.store, collection: c.id, name: name}, nil
}

type table struct {
	store      *Store
	collection string
	name       string
}

func (t *table) Name() string { return t.name }

func (t *table) ReadAll(ctx context.Context) ([][]string, error) {
	q := t.store.rebind(`
		SELECT rownum, colnum, value FROM cells
		WHERE collection = ? AND tab = ?
		ORDER BY rownum, colnum`)
	rows, err := t.store.db.QueryContext(ctx, q, t.collection, t.name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", t.name, err)
	}
	defer rows.Close()

	var grid [][]string
	for rows.Next() {
		var r, c int
		var v string
		if err := rows.Scan(&r, &c, &v); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", t.name, err)
		}
		for len(grid) < r {
			grid = append(grid, nil)
		}
		for len(grid[r-1]) < c {
			grid[r-1] = append(grid[r-1], "")
		}
		grid[r-1][c-1] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", t.name, err)
	}
	return grid, nil
}

func (t *table) WriteRange(ctx context.Context, rng tabular.Range, rows [][]string) error {
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("writing %s: %w", t.name, err)
	}
	defer tx.Rollback()
	if err := t.writeTx(ctx, tx, rng, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *table) Append(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("appending to %s: %w", t.name, err)
	}
	defer tx.Rollback()

	var last sql.NullInt64
	q := t.store.rebind(`SELECT MAX(rownum) FROM cells WHERE collection = ? AND tab = ?`)
	if err := tx.QueryRowContext(ctx, q, t.collection, t.name).Scan(&last); err != nil {
		return fmt.Errorf("appending to %s: %w", t.name, err)
	}
	start := tabular.Range{Row: int(last.Int64) + 1, Col: 1}
	if err := t.writeTx(ctx, tx, start, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *table) BatchWrite(ctx context.Context, writes []tabular.RangeWrite) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batch writing %s: %w", t.name, err)
	}
	defer tx.Rollback()
	for _, w := range writes {
		if err := t.writeTx(ctx, tx, w.Range, w.Rows); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (t *table) writeTx(ctx context.Context, tx *sql.Tx, rng tabular.Range, rows [][]string) error {
	q := t.store.rebind(`
		INSERT INTO cells (collection, tab, rownum, colnum, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, tab, rownum, colnum) DO UPDATE SET value = excluded.value`)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("writing %s: %w", t.name, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		for j, v := range row {
			if _, err := stmt.ExecContext(ctx, t.collection, t.name, rng.Row+i, rng.Col+j, v); err != nil {
				return fmt.Errorf("writing %s: %w", t.name, err)
			}
		}
	}
	return nil
}
