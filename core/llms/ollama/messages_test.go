package ollama

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/koscakluka/ema-desk/core/llms"
)

func TestToMessages_KeepsToolStepsBetweenPromptAndResponse(t *testing.T) {
	turns := []llms.Turn{
		{
			Prompt: "what time is it",
			Steps: []llms.TurnStep{{
				Content: "Let me check.",
				ToolCalls: []llms.ToolCall{{
					ID:        "call_1",
					Name:      "get_time_date",
					Arguments: `{}`,
					Response:  `{"status":"success","result":{"time":"10:00"}}`,
				}},
			}},
			Response: "It is ten o'clock.",
		},
		{Prompt: "thanks"},
	}

	messages := toMessages("be brief", turns)

	expectedRoles := []llms.MessageRole{
		llms.MessageRoleSystem,
		llms.MessageRoleUser,
		llms.MessageRoleAssistant,
		llms.MessageRoleTool,
		llms.MessageRoleAssistant,
		llms.MessageRoleUser,
	}
	if len(messages) != len(expectedRoles) {
		t.Fatalf("expected %d messages, got %d: %#v", len(expectedRoles), len(messages), messages)
	}
	for i, role := range expectedRoles {
		if messages[i].Role != role {
			t.Fatalf("message %d: expected role %q, got %q", i, role, messages[i].Role)
		}
	}

	if got := messages[2].ToolCalls; len(got) != 1 || got[0].Function.Name != "get_time_date" || got[0].ID != "call_1" {
		t.Fatalf("unexpected assistant tool calls: %#v", got)
	}
	if messages[2].Content != "Let me check." {
		t.Fatalf("expected step content to be kept, got %q", messages[2].Content)
	}
	if messages[3].ToolCallID != "call_1" {
		t.Fatalf("expected tool message to reference call_1, got %q", messages[3].ToolCallID)
	}
}

func TestToMessages_SkipsEmptyInstructions(t *testing.T) {
	messages := toMessages("", []llms.Turn{{Prompt: "hi"}})
	if len(messages) != 1 || messages[0].Role != llms.MessageRoleUser {
		t.Fatalf("expected a single user message, got %#v", messages)
	}
}

func TestMessageRoleOnTheWire(t *testing.T) {
	data, err := json.Marshal(toMessages("be brief", []llms.Turn{{Prompt: "hi", Response: "hello"}}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, role := range []string{`"role":"system"`, `"role":"user"`, `"role":"assistant"`} {
		if !strings.Contains(string(data), role) {
			t.Fatalf("expected %s in %s", role, data)
		}
	}
}
