package upload

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]StateStore {
	t.Helper()
	dir := t.TempDir()

	jsonStore, err := NewJSONStateStore(filepath.Join(dir, "state.json"), nil)
	require.NoError(t, err)
	sqliteStore, err := NewSQLiteStateStore(filepath.Join(dir, "state.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		jsonStore.Close()
		sqliteStore.Close()
	})

	return map[string]StateStore{
		BackendJSON:   jsonStore,
		BackendSQLite: sqliteStore,
	}
}

func sampleEntry(path string) *StateEntry {
	job := NewJob(path, 12*MiB, 5*MiB)
	job.FileID = "f-1"
	job.UploadID = "u-1"
	job.AddPart(PartRecord{PartNumber: 1, ETag: "e1", Size: 5 * MiB})
	return EntryFromJob(job)
}

func TestStateStore_UpsertGetRemove(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "Movie.MP4")
			require.NoError(t, store.Upsert(path, sampleEntry(path)))

			// keys are case-insensitive
			got, ok := store.Get(strings.ToLower(path))
			require.True(t, ok)
			assert.Equal(t, "f-1", got.FileID)
			assert.Equal(t, 3, got.TotalParts)
			assert.Equal(t, 1, got.UploadedPartsCount)
			require.Len(t, got.Parts, 1)
			assert.Equal(t, "e1", got.Parts[0].ETag)

			all := store.Load()
			assert.Len(t, all, 1)

			require.NoError(t, store.Remove(strings.ToUpper(path)))
			_, ok = store.Get(path)
			assert.False(t, ok)
			assert.Empty(t, store.Load())

			// removing twice is fine
			assert.NoError(t, store.Remove(path))
		})
	}
}

func TestStateStore_SaveOverwrites(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			a := filepath.Join(t.TempDir(), "a.bin")
			b := filepath.Join(t.TempDir(), "b.bin")
			require.NoError(t, store.Upsert(a, sampleEntry(a)))

			require.NoError(t, store.Save(map[string]*StateEntry{b: sampleEntry(b)}))

			all := store.Load()
			assert.Len(t, all, 1)
			_, ok := store.Get(a)
			assert.False(t, ok)
			_, ok = store.Get(b)
			assert.True(t, ok)
		})
	}
}

func TestJSONStateStore_CorruptFileYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := NewJSONStateStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	assert.Empty(t, store.Load())

	// the store stays writable after corruption
	file := filepath.Join(t.TempDir(), "x.bin")
	require.NoError(t, store.Upsert(file, sampleEntry(file)))
	assert.Len(t, store.Load(), 1)
}

func TestJSONStateStore_MissingFileYieldsEmpty(t *testing.T) {
	store, err := NewJSONStateStore(filepath.Join(t.TempDir(), "nested", "state.json"), nil)
	require.NoError(t, err)
	defer store.Close()

	assert.Empty(t, store.Load())
}

func TestJSONStateStore_SurvivesReopen(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	file := filepath.Join(t.TempDir(), "x.bin")

	store, err := NewJSONStateStore(statePath, nil)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(file, sampleEntry(file)))
	require.NoError(t, store.Close())

	reopened, err := NewJSONStateStore(statePath, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Get(file)
	require.True(t, ok)
	assert.Equal(t, file, got.Path)

	job := JobFromEntry(got.Path, got)
	assert.Equal(t, StatusRegistered, job.Status)
	assert.Equal(t, 2, job.NextPartNumber)
	assert.Equal(t, 5*MiB, job.SentBytes)
}

func TestSQLiteStateStore_CorruptFileYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	garbage := bytes.Repeat([]byte("definitely not sqlite "), 512)
	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	store, err := OpenStateStore(BackendSQLite, path, nil)
	require.NoError(t, err)
	defer store.Close()

	assert.Empty(t, store.Load())

	// the bad file is kept aside for inspection
	moved, err := os.ReadFile(path + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, garbage, moved)

	file := filepath.Join(t.TempDir(), "x.bin")
	require.NoError(t, store.Upsert(file, sampleEntry(file)))
	assert.Len(t, store.Load(), 1)
}

func TestOpenStateStore_UnknownBackend(t *testing.T) {
	_, err := OpenStateStore("redis", filepath.Join(t.TempDir(), "x"), nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
