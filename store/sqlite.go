package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"
)

// SQLite is a file-backed Store. Tables are created lazily from the
// declared schema; column names are always quoted so raw document keys
// that are not identifier-safe still work.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open sqlite database %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(table string, schema Schema, rows []Row) error {
	if err := validateRows(schema, rows); err != nil {
		return xerrors.Errorf("append to %q: %w", table, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return xerrors.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err = ensureTable(tx, table, schema); err != nil {
		return err
	}
	if err = insertRows(tx, table, schema, rows); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return xerrors.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) Overwrite(table string, schema Schema, rows []Row) error {
	if err := validateRows(schema, rows); err != nil {
		return xerrors.Errorf("overwrite of %q: %w", table, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return xerrors.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quote(table))); err != nil {
		return xerrors.Errorf("drop %q: %w", table, err)
	}
	if err = ensureTable(tx, table, schema); err != nil {
		return err
	}
	if err = insertRows(tx, table, schema, rows); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return xerrors.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) Read(table string) ([]Row, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT * FROM %s`, quote(table)))
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, xerrors.Errorf("%q: %w", table, ErrTableNotFound)
		}
		return nil, xerrors.Errorf("read %q: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, xerrors.Errorf("columns of %q: %w", table, err)
	}

	var result []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, xerrors.Errorf("scan %q: %w", table, err)
		}

		row := make(Row, len(cols))
		for i, name := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[name] = string(v)
			default:
				row[name] = v
			}
		}
		result = append(result, row)
	}
	if err = rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate %q: %w", table, err)
	}
	return result, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func ensureTable(tx *sql.Tx, table string, schema Schema) error {
	defs := make([]string, 0, len(schema))
	for _, c := range schema {
		defs = append(defs, fmt.Sprintf("%s %s", quote(c.Name), sqliteType(c.Type)))
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, quote(table), strings.Join(defs, ", "))
	if _, err := tx.Exec(ddl); err != nil {
		return xerrors.Errorf("create %q: %w", table, err)
	}

	// Schema evolution: add columns the existing table lacks.
	existing, err := tableColumns(tx, table)
	if err != nil {
		return err
	}
	for _, c := range schema {
		if _, ok := existing[c.Name]; ok {
			continue
		}
		alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, quote(table), quote(c.Name), sqliteType(c.Type))
		if _, err := tx.Exec(alter); err != nil {
			return xerrors.Errorf("add column %q to %q: %w", c.Name, table, err)
		}
	}
	return nil
}

func tableColumns(tx *sql.Tx, table string) (map[string]struct{}, error) {
	rows, err := tx.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, quote(table)))
	if err != nil {
		return nil, xerrors.Errorf("table_info %q: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]struct{}{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal interface{}
			pk         int
		)
		if err = rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, xerrors.Errorf("scan table_info %q: %w", table, err)
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

func insertRows(tx *sql.Tx, table string, schema Schema, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	names := schema.Names()
	quoted := make([]string, 0, len(names))
	placeholders := make([]string, 0, len(names))
	for _, name := range names {
		quoted = append(quoted, quote(name))
		placeholders = append(placeholders, "?")
	}
	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quote(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", ")))
	if err != nil {
		return xerrors.Errorf("prepare insert into %q: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]interface{}, 0, len(names))
		for _, name := range names {
			args = append(args, sqliteValue(row[name]))
		}
		if _, err = stmt.Exec(args...); err != nil {
			return xerrors.Errorf("insert into %q: %w", table, err)
		}
	}
	return nil
}

func sqliteValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func sqliteType(t string) string {
	switch t {
	case "REAL":
		return "REAL"
	case "INTEGER":
		return "INTEGER"
	default:
		// TEXT, TIMESTAMP and anything else map to TEXT affinity.
		return "TEXT"
	}
}

// quote wraps an identifier in double quotes, escaping embedded quotes,
// so nested document keys with dots or dashes are legal column names.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
