package sqlnode_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fab2s/yaetl/nodes/sqlnode"
)

func TestJoinableExtractorLookup(t *testing.T) {
	db, err := sqlnode.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE customers (id TEXT PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO customers (id, name) VALUES ('c1', 'Ada')`)
	require.NoError(t, err)

	mapping := &sqlnode.TableMapping{
		Table: "customers",
		Key:   "id",
		Columns: []sqlnode.ColumnMapping{
			{Field: "id", Column: "id"},
			{Field: "name", Column: "name"},
		},
	}
	joinable := sqlnode.NewJoinableExtractor(db, mapping)

	_, ok := joinable.Lookup("c1")
	require.False(t, ok)

	found, err := joinable.Extract(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, found)

	rec, ok := joinable.Lookup("c1")
	require.True(t, ok)
	require.Equal(t, "Ada", rec.(map[string]any)["name"])
}

func TestLoaderUpsertsInBatches(t *testing.T) {
	db, err := sqlnode.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE targets (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	mapping := &sqlnode.TableMapping{
		Table: "targets",
		Key:   "id",
		Columns: []sqlnode.ColumnMapping{
			{Field: "id", Column: "id"},
			{Field: "name", Column: "name"},
		},
	}
	loader := sqlnode.NewLoader(db, mapping, 2)

	_, err = loader.Exec(context.Background(), map[string]any{"id": 1, "name": "Ada"})
	require.NoError(t, err)
	_, err = loader.Exec(context.Background(), map[string]any{"id": 2, "name": "Grace"})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM targets`).Scan(&count))
	require.Equal(t, 2, count)

	require.NoError(t, loader.Flush(context.Background(), nil))
}

func TestLoadTableMappingFromYAML(t *testing.T) {
	yamlDoc := `
table: widgets
key: id
columns:
  - field: id
    column: id
  - field: name
    column: name
`
	m, err := sqlnode.LoadTableMapping(strings.NewReader(yamlDoc))
	require.NoError(t, err)
	require.Equal(t, "widgets", m.Table)
	require.Equal(t, "id", m.Key)
	require.Len(t, m.Columns, 2)
}
