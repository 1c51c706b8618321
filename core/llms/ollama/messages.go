package ollama

import (
	"encoding/json"

	"github.com/koscakluka/ema-desk/core/llms"
)

type message struct {
	Role       llms.MessageRole `json:"role"`
	Content    string           `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCall       `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func toMessages(instructions string, turns []llms.Turn) []message {
	messages := []message{}
	if instructions != "" {
		messages = append(messages, message{
			Role:    llms.MessageRoleSystem,
			Content: instructions,
		})
	}
	for _, turn := range turns {
		if turn.Prompt != "" {
			messages = append(messages, message{
				Role:    llms.MessageRoleUser,
				Content: turn.Prompt,
			})
		}

		for _, step := range turn.Steps {
			msg := message{Role: llms.MessageRoleAssistant, Content: step.Content}
			responseMsgs := []message{}
			for _, tCall := range step.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, toolCall{
					ID:   tCall.ID,
					Type: "function",
					Function: toolCallFunction{
						Name:      tCall.Name,
						Arguments: tCall.Arguments,
					},
				})
				responseMsgs = append(responseMsgs, message{
					Role:       llms.MessageRoleTool,
					Content:    tCall.Response,
					ToolCallID: tCall.ID,
				})
			}

			messages = append(messages, msg)
			messages = append(messages, responseMsgs...)
		}

		if turn.Response != "" {
			messages = append(messages, message{
				Role:    llms.MessageRoleAssistant,
				Content: turn.Response,
			})
		}
	}
	return messages
}
