package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvelake/cvelake/store"
)

var testSchema = store.Schema{
	{Name: "id", Type: "TEXT"},
	{Name: "score", Type: "REAL"},
}

func TestMemory_AppendAndRead(t *testing.T) {
	s := store.NewMemory()

	err := s.Append("t", testSchema, []store.Row{
		{"id": "a", "score": 1.0},
	})
	require.NoError(t, err)
	err = s.Append("t", testSchema, []store.Row{
		{"id": "b", "score": nil},
	})
	require.NoError(t, err)

	rows, err := s.Read("t")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["id"])
	assert.Nil(t, rows[1]["score"])
}

func TestMemory_Overwrite(t *testing.T) {
	s := store.NewMemory()

	require.NoError(t, s.Append("t", testSchema, []store.Row{{"id": "a"}}))
	require.NoError(t, s.Overwrite("t", testSchema, []store.Row{{"id": "b"}}))

	rows, err := s.Read("t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0]["id"])
}

func TestMemory_SchemaEvolution(t *testing.T) {
	s := store.NewMemory()

	require.NoError(t, s.Append("t", testSchema, []store.Row{{"id": "a"}}))

	evolved := testSchema.Merge(store.Schema{{Name: "vendor.name", Type: "TEXT"}})
	require.NoError(t, s.Append("t", evolved, []store.Row{
		{"id": "b", "vendor.name": "acme"},
	}))

	rows, err := s.Read("t")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "acme", rows[1]["vendor.name"])
}

func TestMemory_UndeclaredColumn(t *testing.T) {
	s := store.NewMemory()

	err := s.Append("t", testSchema, []store.Row{{"bogus": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared in schema")
}

func TestMemory_ReadMissingTable(t *testing.T) {
	s := store.NewMemory()

	_, err := s.Read("missing")
	assert.ErrorIs(t, err, store.ErrTableNotFound)
}

func TestMemory_ReadIsolation(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.Overwrite("t", testSchema, []store.Row{{"id": "a"}}))

	rows, err := s.Read("t")
	require.NoError(t, err)
	rows[0]["id"] = "mutated"

	again, err := s.Read("t")
	require.NoError(t, err)
	assert.Equal(t, "a", again[0]["id"])
}
