package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-desk/core/llms"
	"github.com/koscakluka/ema-desk/core/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultMaxToolIterations = 5

	llmUnavailableMessage = "The language model is unavailable right now."
	toolLoopMessage       = "Sorry, I got stuck using my tools and stopped."
	turnFailedMessage     = "Sorry, something went wrong with that request."
)

var ErrToolCallLoopExceeded = errors.New("tool call loop exceeded")

// GenerationError is a failed generation request. Retried is set when the
// immediate retry failed as well.
type GenerationError struct {
	Err     error
	Retried bool
}

func (e *GenerationError) Error() string {
	if e.Retried {
		return fmt.Sprintf("generation failed after retry: %v", e.Err)
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type TurnStatus int

const (
	TurnPending TurnStatus = iota
	TurnStreaming
	TurnAwaitingTool
	TurnCompleted
	TurnCancelled
	TurnFailed
)

func (s TurnStatus) String() string {
	switch s {
	case TurnPending:
		return "pending"
	case TurnStreaming:
		return "streaming"
	case TurnAwaitingTool:
		return "awaiting_tool"
	case TurnCompleted:
		return "completed"
	case TurnCancelled:
		return "cancelled"
	case TurnFailed:
		return "failed"
	}
	return "unknown"
}

func (s TurnStatus) IsTerminal() bool {
	return s == TurnCompleted || s == TurnCancelled || s == TurnFailed
}

type ToolInvocation struct {
	ID         string
	Name       string
	Arguments  map[string]any
	Result     any
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

type ConversationTurn struct {
	ID             string
	UserInput      string
	History        []ConversationTurn
	StreamedOutput string
	ToolCalls      []ToolInvocation
	Status         TurnStatus
	// Err explains a Failed turn.
	Err error
}

type TurnEventKind int

const (
	TurnEventTextDelta TurnEventKind = iota
	TurnEventToolStarted
	TurnEventToolFinished
	TurnEventStatusChanged
	TurnEventFinished
)

// TurnEvent is one step of a running turn. The last event of every turn is
// TurnEventFinished, carrying the terminal status and the turn itself.
type TurnEvent struct {
	Kind   TurnEventKind
	TurnID string
	Text   string
	Tool   *ToolInvocation
	Status TurnStatus
	Turn   *ConversationTurn
	// Message is the short user-facing explanation of a Failed turn.
	Message string
}

// turnRunner drives one turn at a time against the generation service and
// the tool registry.
type turnRunner struct {
	llm                   llms.StreamingLLM
	registry              *tools.Registry
	cancellation          *cancellationSlot
	toolsEnabled          bool
	mergeCommandResponses bool
	maxToolIterations     int
	promptOptions         []llms.StreamingPromptOption
}

// runTurn streams a reply to userInput. Cancellation is read from the
// active signal between deltas. A tool call that is running when the
// signal is raised finishes, but its result is dropped.
func (r *turnRunner) runTurn(ctx context.Context, userInput string, history []ConversationTurn) iter.Seq[TurnEvent] {
	return func(yield func(TurnEvent) bool) {
		signal := r.cancellation.active()
		if signal == nil {
			signal = r.cancellation.begin()
		}

		turn := &ConversationTurn{
			ID:        uuid.NewString(),
			UserInput: userInput,
			History:   history,
			Status:    TurnPending,
		}

		ctx, span := tracer.Start(ctx, "run turn")
		defer span.End()
		span.SetAttributes(attribute.String("turn.id", turn.ID))

		consumerGone := false
		emit := func(event TurnEvent) bool {
			if consumerGone {
				return false
			}
			event.TurnID = turn.ID
			if !yield(event) {
				consumerGone = true
				signal.Raise()
			}
			return !consumerGone
		}
		setStatus := func(status TurnStatus) {
			turn.Status = status
			emit(TurnEvent{Kind: TurnEventStatusChanged, Status: status})
		}
		finish := func(status TurnStatus, err error) {
			turn.Status = status
			turn.Err = err
			event := TurnEvent{Kind: TurnEventFinished, Status: status, Turn: turn}
			if status == TurnFailed {
				event.Message = failureMessage(err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.SetAttributes(attribute.String("turn.status", status.String()))
			if turnCounter != nil {
				turnCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
			}
			emit(event)
		}

		var toolDefinitions []llms.Tool
		if r.toolsEnabled && r.registry != nil {
			toolDefinitions = r.registry.Definitions()
		}

		maxIterations := r.maxToolIterations
		if maxIterations <= 0 {
			maxIterations = DefaultMaxToolIterations
		}

		pending := llms.Turn{Prompt: userInput}
		onText := func(text string) bool {
			if signal.Raised() || consumerGone {
				return false
			}
			turn.StreamedOutput += text
			return emit(TurnEvent{Kind: TurnEventTextDelta, Text: text})
		}

		setStatus(TurnStreaming)
		for iteration := 0; ; iteration++ {
			step, err := r.generate(ctx, signal, history, pending, toolDefinitions, onText)
			if signal.Raised() || consumerGone {
				finish(TurnCancelled, nil)
				return
			}
			if err != nil {
				finish(TurnFailed, err)
				return
			}
			if len(step.ToolCalls) == 0 {
				pending.Response = step.Content
				finish(TurnCompleted, nil)
				return
			}
			if iteration >= maxIterations {
				logger.Warn("tool call loop exceeded", "turn", turn.ID, "cap", maxIterations)
				finish(TurnFailed, fmt.Errorf("%w: more than %d rounds of tool calls", ErrToolCallLoopExceeded, maxIterations))
				return
			}

			setStatus(TurnAwaitingTool)
			var summaries []string
			allSummarized := true
			for i, call := range step.ToolCalls {
				invocation, result := r.invoke(ctx, call, emit)
				if signal.Raised() || consumerGone {
					logger.Debug("discarding tool result of cancelled turn", "tool", call.Name)
					finish(TurnCancelled, nil)
					return
				}

				turn.ToolCalls = append(turn.ToolCalls, invocation)
				step.ToolCalls[i].Response = tools.EncodePayload(result, invocation.Err)
				if invocation.Err != nil || result.Summary == "" {
					allSummarized = false
				} else {
					summaries = append(summaries, result.Summary)
				}
			}
			pending.Steps = append(pending.Steps, step)

			if !r.mergeCommandResponses && allSummarized {
				summary := strings.Join(summaries, " ")
				onText(summary)
				pending.Response = summary
				finish(TurnCompleted, nil)
				return
			}

			setStatus(TurnStreaming)
		}
	}
}

func (r *turnRunner) invoke(ctx context.Context, call llms.ToolCall, emit func(TurnEvent) bool) (ToolInvocation, tools.Result) {
	invocation := ToolInvocation{
		ID:        call.ID,
		Name:      call.Name,
		StartedAt: time.Now(),
	}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &invocation.Arguments); err != nil {
			logger.Debug("tool arguments are not an object", "tool", call.Name, "error", err)
		}
	}
	started := invocation
	emit(TurnEvent{Kind: TurnEventToolStarted, Tool: &started})

	var result tools.Result
	var err error
	if r.registry == nil {
		err = fmt.Errorf("%w: %s", tools.ErrToolNotFound, call.Name)
	} else {
		result, err = r.registry.Call(ctx, call.Name, json.RawMessage(call.Arguments))
	}

	invocation.FinishedAt = time.Now()
	invocation.Err = err
	if err == nil {
		invocation.Result = result.Data
		if invocation.Result == nil {
			invocation.Result = result.Summary
		}
	} else {
		logger.Warn("tool call failed", "tool", call.Name, "error", err)
	}

	finished := invocation
	emit(TurnEvent{Kind: TurnEventToolFinished, Tool: &finished})
	return invocation, result
}

func failureMessage(err error) string {
	var generationErr *GenerationError
	switch {
	case errors.As(err, &generationErr):
		return llmUnavailableMessage
	case errors.Is(err, ErrToolCallLoopExceeded):
		return toolLoopMessage
	default:
		return turnFailedMessage
	}
}

func historyTurns(history []ConversationTurn) []llms.Turn {
	turns := make([]llms.Turn, 0, len(history))
	for _, turn := range history {
		turns = append(turns, llms.Turn{Prompt: turn.UserInput, Response: turn.StreamedOutput})
	}
	return turns
}
