package store

import (
	"sync"

	"golang.org/x/xerrors"
)

type memTable struct {
	schema Schema
	rows   []Row
}

// Memory is an in-process Store used by tests and by runs that do not
// need persistence.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: map[string]*memTable{}}
}

func (m *Memory) Append(table string, schema Schema, rows []Row) error {
	if err := validateRows(schema, rows); err != nil {
		return xerrors.Errorf("append to %q: %w", table, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		t = &memTable{schema: schema}
		m.tables[table] = t
	} else {
		t.schema = t.schema.Merge(schema)
	}
	t.rows = append(t.rows, copyRows(rows)...)
	return nil
}

func (m *Memory) Overwrite(table string, schema Schema, rows []Row) error {
	if err := validateRows(schema, rows); err != nil {
		return xerrors.Errorf("overwrite of %q: %w", table, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[table] = &memTable{
		schema: schema,
		rows:   copyRows(rows),
	}
	return nil
}

func (m *Memory) Read(table string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, xerrors.Errorf("%q: %w", table, ErrTableNotFound)
	}
	return copyRows(t.rows), nil
}

func (m *Memory) Close() error {
	return nil
}

func copyRows(rows []Row) []Row {
	copied := make([]Row, 0, len(rows))
	for _, row := range rows {
		c := make(Row, len(row))
		for k, v := range row {
			c[k] = v
		}
		copied = append(copied, c)
	}
	return copied
}
