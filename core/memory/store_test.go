package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T, maxHistory int) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	jsonStore, err := Open(BackendJSON, filepath.Join(dir, "data", "memory.json"), maxHistory)
	require.NoError(t, err)
	sqliteStore, err := Open(BackendSQLite, filepath.Join(dir, "memory.db"), maxHistory)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = jsonStore.Close()
		_ = sqliteStore.Close()
	})
	return map[string]Store{"json": jsonStore, "sqlite": sqliteStore}
}

func TestStoreFacts(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t, 10) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(ctx, "favourite_colour")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, "favourite_colour", "green"))
			require.NoError(t, store.Set(ctx, "favourite_colour", "blue"))

			value, ok, err := store.Get(ctx, "favourite_colour")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "blue", value)

			assert.ErrorIs(t, store.Set(ctx, "", "x"), ErrEmptyKey)
		})
	}
}

func TestStoreHistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t, 3) {
		t.Run(name, func(t *testing.T) {
			for i := range 5 {
				require.NoError(t, store.AddHistory(ctx, fmt.Sprintf("entry %d", i)))
			}
			require.NoError(t, store.AddHistory(ctx, "   "))

			history, err := store.RecentHistory(ctx, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"entry 2", "entry 3", "entry 4"}, history)

			history, err = store.RecentHistory(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"entry 4"}, history)
		})
	}
}

func TestStoreSearchAndClear(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t, 10) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "dog", "Rex the Labrador"))
			require.NoError(t, store.Set(ctx, "city", "Zagreb"))
			require.NoError(t, store.AddHistory(ctx, "User: walk the labrador"))

			results, err := store.Search(ctx, "LABRADOR")
			require.NoError(t, err)
			assert.Equal(t, []string{"dog: Rex the Labrador", "history: User: walk the labrador"}, results)

			require.NoError(t, store.Clear(ctx, SectionHistory))
			results, err = store.Search(ctx, "labrador")
			require.NoError(t, err)
			assert.Equal(t, []string{"dog: Rex the Labrador"}, results)

			require.NoError(t, store.Clear(ctx, SectionAll))
			_, ok, err := store.Get(ctx, "city")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestJSONFileStorePersistsAndHealsCorruption(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.json")

	store, err := OpenJSONFile(path, 10)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "name", "Ema"))

	reopened, err := OpenJSONFile(path, 10)
	require.NoError(t, err)
	value, ok, err := reopened.Get(ctx, "name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Ema", value)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	healed, err := OpenJSONFile(path, 10)
	require.NoError(t, err)
	_, ok, err = healed.Get(ctx, "name")
	require.NoError(t, err)
	assert.False(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"facts":{},"history":[]}`, string(data))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("redis", "x", 1)
	assert.ErrorContains(t, err, "unknown memory backend")
}
