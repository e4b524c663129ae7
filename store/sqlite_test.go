package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvelake/cvelake/store"
)

func newSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_AppendAndRead(t *testing.T) {
	s := newSQLite(t)

	schema := store.Schema{
		{Name: "id", Type: "TEXT"},
		{Name: "score", Type: "REAL"},
		{Name: "count", Type: "INTEGER"},
		{Name: "published", Type: "TIMESTAMP"},
	}
	published := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	err := s.Append("t", schema, []store.Row{
		{"id": "CVE-2024-0001", "score": 9.8, "count": 2, "published": published},
		{"id": "CVE-2024-0002", "score": nil, "count": 0, "published": nil},
	})
	require.NoError(t, err)

	rows, err := s.Read("t")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "CVE-2024-0001", rows[0]["id"])
	assert.Equal(t, 9.8, rows[0]["score"])
	assert.Equal(t, int64(2), rows[0]["count"])
	assert.Equal(t, published.Format(time.RFC3339Nano), rows[0]["published"])

	assert.Nil(t, rows[1]["score"])
	assert.Nil(t, rows[1]["published"])
}

func TestSQLite_Overwrite(t *testing.T) {
	s := newSQLite(t)

	schema := store.Schema{{Name: "id", Type: "TEXT"}}
	require.NoError(t, s.Append("t", schema, []store.Row{{"id": "a"}, {"id": "b"}}))
	require.NoError(t, s.Overwrite("t", schema, []store.Row{{"id": "c"}}))

	rows, err := s.Read("t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0]["id"])
}

func TestSQLite_SchemaEvolution(t *testing.T) {
	s := newSQLite(t)

	schema := store.Schema{{Name: "id", Type: "TEXT"}}
	require.NoError(t, s.Append("t", schema, []store.Row{{"id": "a"}}))

	// new columns appear on append, including identifier-unsafe names
	evolved := schema.Merge(store.Schema{{Name: "vendor.name", Type: "TEXT"}})
	require.NoError(t, s.Append("t", evolved, []store.Row{
		{"id": "b", "vendor.name": "acme"},
	}))

	rows, err := s.Read("t")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0]["vendor.name"])
	assert.Equal(t, "acme", rows[1]["vendor.name"])
}

func TestSQLite_ReadMissingTable(t *testing.T) {
	s := newSQLite(t)

	_, err := s.Read("missing")
	assert.ErrorIs(t, err, store.ErrTableNotFound)
}
