package llms

import "slices"

type BaseOptions struct {
	Instructions string
	Turns        []Turn
}

type StreamingPromptOptions struct {
	BaseOptions
	Tools []Tool
}

type StreamingPromptOption interface {
	ApplyToStreaming(*StreamingPromptOptions)
}

// PromptOption is a function that can be used to modify the prompt options.
type PromptOption func(*StreamingPromptOptions)

func (f PromptOption) ApplyToStreaming(o *StreamingPromptOptions) {
	f(o)
}

// WithSystemPrompt sets the system prompt for the prompt.
// Repeating this option will overwrite the previous system prompt.
func WithSystemPrompt(prompt string) PromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Instructions = prompt
	}
}

// WithTurns adds turns information to the prompt.
// Repeating this option will sequentially add more turns.
func WithTurns(turns ...Turn) PromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Turns = append(opts.Turns, turns...)
	}
}

// WithTools adds tools to the prompt. Leaving it out sends a plain chat
// request without any tool declarations.
func WithTools(tools ...Tool) PromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Tools = append(slices.Clip(opts.Tools), tools...)
	}
}
