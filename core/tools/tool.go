package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Handler executes a tool with raw JSON arguments that already passed
// schema validation.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Result is what a tool hands back to the orchestrator.
type Result struct {
	// Summary is a short sentence describing what happened. It is used as
	// the reply when command results are not merged through the model.
	Summary string
	// Data is the structured payload fed back to the model.
	Data any
}

type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object for the arguments.
	Parameters json.RawMessage
	Handler    Handler
}

// NewTool builds a Tool whose parameter schema is reflected from T and
// whose handler receives arguments decoded into T.
func NewTool[T any](name, description string, fn func(ctx context.Context, args T) (Result, error)) Tool {
	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	var zero T
	schema := reflector.Reflect(zero)
	schema.Version = ""
	schema.ID = ""

	parameters, err := json.Marshal(schema)
	if err != nil {
		// Registration will reject the empty schema name with a clear error.
		logger.Error("failed to marshal reflected tool schema", "tool", name, "error", err)
		parameters = nil
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Handler: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args T
			if err := json.Unmarshal(raw, &args); err != nil {
				return Result{}, &SchemaError{Tool: name, Detail: fmt.Sprintf("cannot decode arguments: %v", err)}
			}
			return fn(ctx, args)
		},
	}
}
