package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_MemoryDefaults(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)
	assert.Equal(t, 1, database.Stats().MaxOpenConnections)
}

func TestNewSqliteDB_FileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")

	database, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
}

func TestNewSqliteDB_AppliesSchema(t *testing.T) {
	database, err := NewSqliteDB(WithSchema(`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT);`))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec(`INSERT INTO kv (k, v) VALUES ('a', 'b')`)
	require.NoError(t, err)

	var v string
	require.NoError(t, database.Get(&v, `SELECT v FROM kv WHERE k = 'a'`))
	assert.Equal(t, "b", v)
}

func TestNewSqliteDB_BadSchema(t *testing.T) {
	_, err := NewSqliteDB(WithSchema(`CREATE NONSENSE`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init schema")
}
