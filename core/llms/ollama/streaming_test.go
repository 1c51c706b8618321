package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-desk/core/llms"
)

func TestStreamChunks_YieldsContentThenAssembledToolCalls(t *testing.T) {
	var received requestBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"Checking"}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"get_time_date","arguments":"{\"for"}}]}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"mat\":\"short\"}"}}]}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL+"/v1"), WithHTTPClient(server.Client()))
	prompt := "what time is it"
	stream := client.PromptWithStream(context.Background(), &prompt,
		llms.WithTools(llms.NewTool("get_time_date", "Current time", json.RawMessage(`{"type":"object"}`))),
	)

	var content strings.Builder
	var calls []llms.ToolCall
	for chunk, err := range stream.Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		switch c := chunk.(type) {
		case llms.StreamContentChunk:
			content.WriteString(c.Content())
		case llms.StreamToolCallChunk:
			calls = append(calls, c.ToolCall())
		}
	}

	if content.String() != "Checking" {
		t.Fatalf("expected content %q, got %q", "Checking", content.String())
	}
	if len(calls) != 1 {
		t.Fatalf("expected one tool call, got %d", len(calls))
	}
	if calls[0].ID != "call_a" || calls[0].Name != "get_time_date" || calls[0].Arguments != `{"format":"short"}` {
		t.Fatalf("unexpected tool call %#v", calls[0])
	}

	if len(received.Tools) != 1 || received.Tools[0].Type != "function" || received.Tools[0].Function.Name != "get_time_date" {
		t.Fatalf("expected tool declaration in request, got %#v", received.Tools)
	}
	if received.ToolChoice == nil || *received.ToolChoice != "auto" {
		t.Fatalf("expected tool_choice auto, got %v", received.ToolChoice)
	}
}

func TestStreamChunks_OmitsToolsWhenNoneDeclared(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &raw)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"hi"}}]}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	prompt := "hello"
	for _, err := range client.PromptWithStream(context.Background(), &prompt).Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if _, ok := raw["tools"]; ok {
		t.Fatalf("expected no tools field, got %v", raw["tools"])
	}
	if _, ok := raw["tool_choice"]; ok {
		t.Fatalf("expected no tool_choice field, got %v", raw["tool_choice"])
	}
}

func TestStreamChunks_ReportsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	prompt := "hello"

	var gotErr error
	for _, err := range client.PromptWithStream(context.Background(), &prompt).Chunks(context.Background()) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", gotErr)
	}
}
