package tools

import (
	"encoding/json"
	"errors"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Payload is the JSON document fed back to the model for a tool call.
type Payload struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// EncodePayload renders a tool outcome for the model. Errors are reduced to
// a message the model can act on, never a stack of wrapped causes.
func EncodePayload(result Result, err error) string {
	payload := Payload{Status: StatusSuccess, Result: result.Data}
	if err != nil {
		payload = Payload{Status: StatusError, Error: modelFacingError(err)}
	} else if payload.Result == nil && result.Summary != "" {
		payload.Result = result.Summary
	}

	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		encoded, _ = json.Marshal(Payload{Status: StatusError, Error: "tool result could not be encoded"})
	}
	return string(encoded)
}

func modelFacingError(err error) string {
	var schemaErr *SchemaError
	var timeoutErr *TimeoutError
	switch {
	case errors.Is(err, ErrToolNotFound):
		return "unknown tool, use only the declared tools"
	case errors.As(err, &schemaErr):
		return "invalid arguments: " + schemaErr.Detail
	case errors.As(err, &timeoutErr):
		return "the tool did not respond in time"
	default:
		return err.Error()
	}
}
