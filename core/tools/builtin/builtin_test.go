package builtin

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/koscakluka/ema-desk/core/memory"
	"github.com/koscakluka/ema-desk/core/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeDate(t *testing.T) {
	fixed := time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(TimeDate(func() time.Time { return fixed })))

	result, err := registry.Call(context.Background(), "get_time_date", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"time":    "02:07 PM",
		"date":    "2024-03-05",
		"weekday": "Tuesday",
	}, result.Data)
	assert.Equal(t, "It's 02:07 PM on Tuesday, 2024-03-05.", result.Summary)
}

func TestMemoryTools(t *testing.T) {
	store, err := memory.OpenJSONFile(filepath.Join(t.TempDir(), "memory.json"), 10)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(Memory(store)...))
	ctx := context.Background()

	_, err = registry.Call(ctx, "remember_fact", json.RawMessage(`{"key":"Favourite Colour","value":"green"}`))
	require.NoError(t, err)

	value, ok, err := store.Get(ctx, "favourite_colour")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "green", value)

	result, err := registry.Call(ctx, "recall_fact", json.RawMessage(`{"key":"favourite colour"}`))
	require.NoError(t, err)
	assert.Equal(t, "favourite colour is green.", result.Summary)

	result, err = registry.Call(ctx, "recall_fact", json.RawMessage(`{"key":"pet"}`))
	require.NoError(t, err)
	assert.Equal(t, false, result.Data.(map[string]any)["found"])

	result, err = registry.Call(ctx, "search_memory", json.RawMessage(`{"query":"GREEN"}`))
	require.NoError(t, err)
	assert.Equal(t, "favourite_colour: green", result.Summary)

	var schemaErr *tools.SchemaError
	_, err = registry.Call(ctx, "remember_fact", json.RawMessage(`{"key":"x"}`))
	assert.ErrorAs(t, err, &schemaErr)
}
