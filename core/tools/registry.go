package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/koscakluka/ema-desk/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const DefaultTimeout = 10 * time.Second

// Registry maps tool names to their schema and handler. Tools are validated
// when registered, and arguments are validated on every call.
type Registry struct {
	tools     map[string]Tool
	order     []string
	validator *Validator
	timeout   time.Duration

	mu sync.RWMutex
}

type RegistryOption func(*Registry)

// WithTimeout bounds how long Call waits for a handler.
func WithTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:     make(map[string]Tool),
		validator: NewValidator(),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tool := range tools {
		switch {
		case tool.Name == "":
			return ErrToolNameRequired
		case tool.Description == "":
			return fmt.Errorf("%w: %s", ErrToolDescriptionRequired, tool.Name)
		case tool.Handler == nil:
			return fmt.Errorf("%w: %s", ErrToolHandlerRequired, tool.Name)
		}
		if _, exists := r.tools[tool.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
		}
		if len(tool.Parameters) == 0 {
			tool.Parameters = json.RawMessage(`{"type":"object"}`)
		}
		if err := r.validator.Compile(tool.Name, tool.Parameters); err != nil {
			return err
		}

		r.tools[tool.Name] = tool
		r.order = append(r.order, tool.Name)
	}
	return nil
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	r.validator.Forget(name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Definitions returns the declarations to send with a generation request.
func (r *Registry) Definitions() []llms.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]llms.Tool, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		definitions = append(definitions, llms.NewTool(tool.Name, tool.Description, tool.Parameters))
	}
	return definitions
}

// Call validates args and runs the named tool, waiting at most the
// registry timeout. A handler that outlives the timeout keeps running in
// the background and its result is dropped.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (result Result, err error) {
	ctx, span := tracer.Start(ctx, "call tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))

	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		attrs := metric.WithAttributes(attribute.String("tool", name), attribute.String("outcome", outcome))
		if toolCallCounter != nil {
			toolCallCounter.Add(ctx, 1, attrs)
		}
		if toolCallDuration != nil {
			toolCallDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}()

	tool, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := r.validator.ValidateArgs(name, args); err != nil {
		return Result{}, err
	}

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", name, rec)}
			}
		}()
		res, err := tool.Handler(ctx, args)
		done <- outcome{result: res, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return Result{}, fmt.Errorf("tool %s failed: %w", name, out.err)
		}
		return out.result, nil
	case <-timer.C:
		logger.Warn("tool call timed out", "tool", name, "timeout", r.timeout)
		return Result{}, &TimeoutError{Tool: name, Timeout: r.timeout}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
