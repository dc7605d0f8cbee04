package tabular

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store. It backs tests and acts as a reference
// implementation of the Table semantics the remote backends must follow.
type MemStore struct {
	mu          sync.Mutex
	collections map[string]*memCollection
}

// NewMemStore creates an empty in-memory store. Collections are created on
// first Open, mirroring how a pre-shared spreadsheet id "just exists".
func NewMemStore() *MemStore {
	return &MemStore{collections: make(map[string]*memCollection)}
}

// Open returns the collection, creating it if absent.
func (s *MemStore) Open(_ context.Context, collectionID string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collectionID]
	if !ok {
		c = &memCollection{id: collectionID, tables: make(map[string]*MemTable)}
		s.collections[collectionID] = c
	}
	return c, nil
}

type memCollection struct {
	id     string
	mu     sync.Mutex
	tables map[string]*MemTable
}

func (c *memCollection) ID() string { return c.id }

func (c *memCollection) Table(_ context.Context, name string, _, _ int) (Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		t = &MemTable{name: name}
		c.tables[name] = t
	}
	return t, nil
}

// MemTable is the in-memory Table. Exported so tests can seed rows directly.
type MemTable struct {
	name string
	mu   sync.Mutex
	rows [][]string
}

func (t *MemTable) Name() string { return t.name }

func (t *MemTable) ReadAll(_ context.Context) ([][]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (t *MemTable) WriteRange(_ context.Context, rng Range, rows [][]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeLocked(rng, rows)
	return nil
}

func (t *MemTable) Append(_ context.Context, rows [][]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		t.rows = append(t.rows, append([]string(nil), r...))
	}
	return nil
}

func (t *MemTable) BatchWrite(_ context.Context, writes []RangeWrite) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range writes {
		t.writeLocked(w.Range, w.Rows)
	}
	return nil
}

func (t *MemTable) writeLocked(rng Range, rows [][]string) {
	for i, row := range rows {
		ri := rng.Row - 1 + i
		for len(t.rows) <= ri {
			t.rows = append(t.rows, nil)
		}
		for j, v := range row {
			ci := rng.Col - 1 + j
			for len(t.rows[ri]) <= ci {
				t.rows[ri] = append(t.rows[ri], "")
			}
			t.rows[ri][ci] = v
		}
	}
}
