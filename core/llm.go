package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-desk/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errNoLLM = errors.New("no language model configured")

// generate runs one generation pass. A pass that fails before any text was
// forwarded is retried once.
func (r *turnRunner) generate(
	ctx context.Context,
	signal *CancellationSignal,
	history []ConversationTurn,
	pending llms.Turn,
	toolDefinitions []llms.Tool,
	onText func(string) bool,
) (llms.TurnStep, error) {
	ctx, span := tracer.Start(ctx, "generate llm")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.history_turns", len(history)), attribute.Int("llm.tools", len(toolDefinitions)))

	for attempt := 0; ; attempt++ {
		step, forwarded, err := r.streamOnce(ctx, signal, history, pending, toolDefinitions, onText)
		if err == nil || signal.Raised() {
			return step, nil
		}

		if forwarded || attempt > 0 {
			err = &GenerationError{Err: err, Retried: attempt > 0}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return step, err
		}
		logger.Warn("generation failed, retrying once", "error", err)
		span.AddEvent("retrying generation", trace.WithAttributes(attribute.String("error", err.Error())))
	}
}

func (r *turnRunner) streamOnce(
	ctx context.Context,
	signal *CancellationSignal,
	history []ConversationTurn,
	pending llms.Turn,
	toolDefinitions []llms.Tool,
	onText func(string) bool,
) (step llms.TurnStep, forwarded bool, err error) {
	if r.llm == nil {
		return step, false, errNoLLM
	}

	streamCtx, stop := signal.Bind(ctx)
	defer stop()

	opts := append([]llms.StreamingPromptOption{}, r.promptOptions...)
	opts = append(opts, llms.WithTurns(append(historyTurns(history), pending)...))
	if len(toolDefinitions) > 0 {
		opts = append(opts, llms.WithTools(toolDefinitions...))
	}

	stream := r.llm.PromptWithStream(streamCtx, nil, opts...)
	if stream == nil {
		return step, false, errors.New("generation service returned no stream")
	}

	var content strings.Builder
	for chunk, err := range stream.Chunks(streamCtx) {
		if signal.Raised() {
			break
		}
		if err != nil {
			return step, forwarded, fmt.Errorf("failed to stream llm response: %w", err)
		}

		switch chunk := chunk.(type) {
		case llms.StreamContentChunk:
			text := chunk.Content()
			if text == "" {
				continue
			}
			content.WriteString(text)
			if !onText(text) {
				step.Content = content.String()
				return step, true, nil
			}
			forwarded = true

		case llms.StreamToolCallChunk:
			step.ToolCalls = append(step.ToolCalls, chunk.ToolCall())
		}
	}

	step.Content = content.String()
	return step, forwarded, nil
}
