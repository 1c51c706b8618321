package tools

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrToolNotFound is returned when a requested tool is not in the registry.
	ErrToolNotFound = errors.New("tool not found")

	ErrToolNameRequired        = errors.New("tool name is required")
	ErrToolDescriptionRequired = errors.New("tool description is required")
	ErrToolHandlerRequired     = errors.New("tool handler is required")
	ErrDuplicateTool           = errors.New("tool already registered")
)

// SchemaError is returned when a declared schema does not compile or when
// call arguments do not satisfy it.
type SchemaError struct {
	Tool   string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Detail)
}

// TimeoutError is returned when a tool does not finish within the
// registry timeout. The tool itself is not stopped.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.Timeout)
}
