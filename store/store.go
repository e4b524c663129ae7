// Package store defines the record store consumed by the pipeline: a
// durable, schema-checked table store with append, overwrite and read.
// Columns are addressed by name, never by position, so raw document keys
// with special characters survive the round trip.
package store

import "golang.org/x/xerrors"

// Row is a single record keyed by column name.
type Row map[string]interface{}

// Column describes one column of a table schema. Type is advisory
// ("TEXT", "REAL", "INTEGER", "TIMESTAMP"); implementations may ignore it.
type Column struct {
	Name string
	Type string
}

// Schema is an ordered list of columns.
type Schema []Column

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for _, c := range s {
		names = append(names, c.Name)
	}
	return names
}

// Has reports whether the schema contains a column with the given name.
func (s Schema) Has(name string) bool {
	for _, c := range s {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Merge returns s extended with the columns of other that s lacks.
// This is the schema-evolution rule applied on append.
func (s Schema) Merge(other Schema) Schema {
	merged := make(Schema, len(s))
	copy(merged, s)
	for _, c := range other {
		if !merged.Has(c.Name) {
			merged = append(merged, c)
		}
	}
	return merged
}

// ErrTableNotFound is returned by Read for tables that were never written.
var ErrTableNotFound = xerrors.New("table not found")

// Store is the table interface the pipeline writes through. Overwrite
// replaces a table wholesale, evolving its schema; Append adds rows to an
// existing table (creating it on first use). Both validate that every row
// only carries columns declared in the schema.
type Store interface {
	Append(table string, schema Schema, rows []Row) error
	Overwrite(table string, schema Schema, rows []Row) error
	Read(table string) ([]Row, error)
	Close() error
}

func validateRows(schema Schema, rows []Row) error {
	for _, row := range rows {
		for name := range row {
			if !schema.Has(name) {
				return xerrors.Errorf("column %q not declared in schema", name)
			}
		}
	}
	return nil
}
