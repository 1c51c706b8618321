package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetArgs struct {
	Name  string `json:"name" jsonschema:"required,description=Who to greet"`
	Times int    `json:"times,omitempty"`
}

func greetTool() Tool {
	return NewTool("greet", "Greets someone", func(_ context.Context, args greetArgs) (Result, error) {
		return Result{Summary: "Hello " + args.Name, Data: map[string]any{"greeted": args.Name}}, nil
	})
}

func TestRegistryCallsTypedTool(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(greetTool()))

	result, err := registry.Call(context.Background(), "greet", json.RawMessage(`{"name":"Ada"}`))
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada", result.Summary)
	assert.Equal(t, map[string]any{"greeted": "Ada"}, result.Data)
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	registry := NewRegistry()
	noop := func(context.Context, json.RawMessage) (Result, error) { return Result{}, nil }

	assert.ErrorIs(t, registry.Register(Tool{Description: "x", Handler: noop}), ErrToolNameRequired)
	assert.ErrorIs(t, registry.Register(Tool{Name: "x", Handler: noop}), ErrToolDescriptionRequired)
	assert.ErrorIs(t, registry.Register(Tool{Name: "x", Description: "x"}), ErrToolHandlerRequired)

	var schemaErr *SchemaError
	err := registry.Register(Tool{
		Name:        "broken",
		Description: "broken schema",
		Parameters:  json.RawMessage(`{"type": 12}`),
		Handler:     noop,
	})
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "broken", schemaErr.Tool)

	require.NoError(t, registry.Register(greetTool()))
	assert.ErrorIs(t, registry.Register(greetTool()), ErrDuplicateTool)
}

func TestRegistryCallUnknownTool(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Call(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistryCallSchemaMismatch(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(greetTool()))

	var schemaErr *SchemaError
	_, err := registry.Call(context.Background(), "greet", json.RawMessage(`{"times":2}`))
	require.ErrorAs(t, err, &schemaErr)

	_, err = registry.Call(context.Background(), "greet", json.RawMessage(`{not json`))
	require.ErrorAs(t, err, &schemaErr)
}

func TestRegistryCallTimesOutWithoutAbortingTool(t *testing.T) {
	registry := NewRegistry(WithTimeout(20 * time.Millisecond))
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, registry.Register(Tool{
		Name:        "slow",
		Description: "Takes a while",
		Handler: func(context.Context, json.RawMessage) (Result, error) {
			<-release
			finished.Store(true)
			return Result{Summary: "done"}, nil
		},
	}))

	_, err := registry.Call(context.Background(), "slow", nil)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow", timeoutErr.Tool)

	close(release)
	assert.Eventually(t, finished.Load, time.Second, 5*time.Millisecond)
}

func TestRegistryCallWrapsHandlerErrors(t *testing.T) {
	registry := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, registry.Register(Tool{
		Name:        "fails",
		Description: "Always fails",
		Handler: func(context.Context, json.RawMessage) (Result, error) {
			return Result{}, boom
		},
	}))

	_, err := registry.Call(context.Background(), "fails", nil)
	assert.ErrorIs(t, err, boom)
}

func TestRegistryDefinitionsKeepRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	noop := func(context.Context, json.RawMessage) (Result, error) { return Result{}, nil }
	require.NoError(t, registry.Register(
		Tool{Name: "b", Description: "second letter", Handler: noop},
		Tool{Name: "a", Description: "first letter", Handler: noop},
	))
	require.NoError(t, registry.Register(greetTool()))

	definitions := registry.Definitions()
	require.Len(t, definitions, 3)
	assert.Equal(t, "b", definitions[0].Function.Name)
	assert.Equal(t, "a", definitions[1].Function.Name)
	assert.Equal(t, "greet", definitions[2].Function.Name)
	assert.Equal(t, "function", definitions[2].Type)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(definitions[2].Function.Parameters, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"name"}, schema["required"])

	registry.Unregister("b")
	assert.Equal(t, []string{"a", "greet"}, registry.Names())
}

func TestEncodePayload(t *testing.T) {
	assert.JSONEq(t, `{"status":"success","result":{"ok":true}}`,
		EncodePayload(Result{Data: map[string]bool{"ok": true}}, nil))
	assert.JSONEq(t, `{"status":"success","result":"Opened notes"}`,
		EncodePayload(Result{Summary: "Opened notes"}, nil))
	assert.JSONEq(t, `{"status":"error","error":"unknown tool, use only the declared tools"}`,
		EncodePayload(Result{}, ErrToolNotFound))
	assert.JSONEq(t, `{"status":"error","error":"the tool did not respond in time"}`,
		EncodePayload(Result{}, &TimeoutError{Tool: "slow", Timeout: time.Second}))
}
