package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-desk/core/llms"
	"github.com/koscakluka/ema-desk/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var requestCounter, _ = meter.Int64Counter("llm.requests",
	metric.WithDescription("Streaming chat completion requests by outcome"))

type Stream struct {
	url    string
	apiKey string

	model      string
	tools      []Tool
	messages   []message
	httpClient *http.Client
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	requestToFirstTokenTime := time.Time{}
	setRequestToFirstTokenTime := func(span trace.Span) {
		if requestToFirstTokenTime.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestToFirstTokenTime).Seconds()))
		span.AddEvent("received first chunk")
		requestToFirstTokenTime = time.Time{}
	}

	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.model))
		var toolNames []string
		for _, tool := range s.tools {
			toolNames = append(toolNames, tool.Function.Name)
		}
		span.SetAttributes(attribute.StringSlice("request.available_tools", toolNames))

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if requestCounter != nil {
				requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
			}
			yield(nil, err)
		}

		var toolChoice *string
		if len(s.tools) > 0 {
			toolChoice = utils.Ptr("auto")
		}

		reqBody := requestBody{
			Model:      s.model,
			Messages:   s.messages,
			Stream:     true,
			Tools:      s.tools,
			ToolChoice: toolChoice,
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			fail(fmt.Errorf("error marshalling JSON: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			fail(fmt.Errorf("error creating HTTP request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		client := s.httpClient
		if client == nil {
			client = http.DefaultClient
		}
		requestToFirstTokenTime = time.Now()
		span.AddEvent("request started")
		resp, err := client.Do(req)
		if err != nil {
			fail(fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, err := io.ReadAll(resp.Body); err != nil {
				span.SetAttributes(attribute.String("error", err.Error()))
			} else {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}
			fail(fmt.Errorf("non-OK HTTP status: %s", resp.Status))
			return
		}

		pending := toolCallAccumulator{}
		defer func() {
			span.SetAttributes(attribute.StringSlice("response.tool_calls", pending.names()))
		}()

		var finishReason *string
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
			setRequestToFirstTokenTime(span)

			if len(chunk) == 0 {
				continue
			}

			if chunk == endMessage {
				break
			}

			var responseBody streamingResponseBody
			if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
				fail(fmt.Errorf("error unmarshalling JSON: %w", err))
				return
			}

			if len(responseBody.Choices) > 0 {
				choice := responseBody.Choices[0]
				if choice.FinishReason != nil {
					finishReason = choice.FinishReason
				}

				for _, call := range choice.Delta.ToolCalls {
					pending.add(call)
				}

				if choice.Delta.Content != "" {
					if !yield(StreamContentChunk{
						finishReason: choice.FinishReason,
						content:      choice.Delta.Content,
					}, nil) {
						return
					}
				}

				if reasoning := choice.Delta.Reasoning; reasoning != "" {
					if !yield(StreamReasoningChunk{
						finishReason: choice.FinishReason,
						reasoning:    reasoning,
					}, nil) {
						return
					}
				}
			}

			if responseBody.Usage != nil {
				span.SetAttributes(attribute.Int("usage.input", responseBody.Usage.PromptTokens))
				span.SetAttributes(attribute.Int("usage.output", responseBody.Usage.CompletionTokens))
				span.SetAttributes(attribute.Int("usage.total", responseBody.Usage.TotalTokens))

				if !yield(StreamUsageChunk{
					finishReason: finishReason,
					usage: llms.Usage{
						InputTokens:  responseBody.Usage.PromptTokens,
						OutputTokens: responseBody.Usage.CompletionTokens,
						TotalTokens:  responseBody.Usage.TotalTokens,
					},
				}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("error reading streamed response: %w", err))
			return
		}

		if requestCounter != nil {
			requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
		}

		for _, call := range pending.calls() {
			if !yield(StreamToolCallChunk{finishReason: finishReason, toolCall: call}, nil) {
				return
			}
		}
	}
}

// toolCallAccumulator assembles tool calls whose arguments arrive split
// across several deltas, keyed by the index the server assigns.
type toolCallAccumulator struct {
	order []int
	byIdx map[int]*llms.ToolCall
}

func (a *toolCallAccumulator) add(call toolCall) {
	if a.byIdx == nil {
		a.byIdx = map[int]*llms.ToolCall{}
	}
	idx := len(a.order)
	if call.Index != nil {
		idx = *call.Index
	}

	existing, ok := a.byIdx[idx]
	if !ok {
		existing = &llms.ToolCall{}
		a.byIdx[idx] = existing
		a.order = append(a.order, idx)
	}
	if call.ID != "" {
		existing.ID = call.ID
	}
	if call.Function.Name != "" {
		existing.Name = call.Function.Name
	}
	existing.Arguments += call.Function.Arguments
}

func (a *toolCallAccumulator) calls() []llms.ToolCall {
	indexes := slices.Clone(a.order)
	slices.Sort(indexes)
	calls := make([]llms.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		call := *a.byIdx[idx]
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		if strings.TrimSpace(call.Arguments) == "" {
			call.Arguments = "{}"
		}
		calls = append(calls, call)
	}
	return calls
}

func (a *toolCallAccumulator) names() []string {
	names := []string{}
	for _, idx := range a.order {
		names = append(names, a.byIdx[idx].Name)
	}
	return names
}

type requestBody struct {
	Model      string    `json:"model"`
	Messages   []message `json:"messages"`
	Stream     bool      `json:"stream"`
	ToolChoice *string   `json:"tool_choice,omitempty"`
	Tools      []Tool    `json:"tools,omitempty"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Role      string     `json:"role,omitempty"`
			Content   string     `json:"content,omitempty"`
			ToolCalls []toolCall `json:"tool_calls,omitempty"`
			Reasoning string     `json:"reasoning,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type StreamReasoningChunk struct {
	finishReason *string
	reasoning    string
}

func (s StreamReasoningChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamReasoningChunk) Reasoning() string {
	return s.reasoning
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamContentChunk) Content() string {
	return s.content
}

type StreamToolCallChunk struct {
	finishReason *string
	toolCall     llms.ToolCall
}

func (s StreamToolCallChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamToolCallChunk) ToolCall() llms.ToolCall {
	return s.toolCall
}

type StreamUsageChunk struct {
	finishReason *string
	usage        llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamUsageChunk) Usage() llms.Usage {
	return s.usage
}
