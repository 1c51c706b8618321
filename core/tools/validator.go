package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Validator compiles parameter schemas once and checks arguments against
// them.
type Validator struct {
	cache map[string]*gojsonschema.Schema
	mu    sync.RWMutex
}

func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*gojsonschema.Schema)}
}

// Compile checks that schema is a valid JSON schema and caches it under the
// tool name.
func (v *Validator) Compile(tool string, schema json.RawMessage) error {
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return &SchemaError{Tool: tool, Detail: fmt.Sprintf("invalid parameter schema: %v", err)}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[tool] = compiled
	return nil
}

func (v *Validator) Forget(tool string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, tool)
}

// ValidateArgs validates args against the schema compiled for tool.
func (v *Validator) ValidateArgs(tool string, args json.RawMessage) error {
	v.mu.RLock()
	schema, ok := v.cache[tool]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}

	if !json.Valid(args) {
		return &SchemaError{Tool: tool, Detail: "arguments are not valid JSON"}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return &SchemaError{Tool: tool, Detail: fmt.Sprintf("validation error: %v", err)}
	}

	if !result.Valid() {
		errors := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errors[i] = desc.String()
		}
		return &SchemaError{
			Tool:   tool,
			Detail: fmt.Sprintf("argument validation failed: %v", errors),
		}
	}

	return nil
}
