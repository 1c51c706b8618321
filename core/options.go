package orchestration

import (
	"context"
	"iter"

	"github.com/koscakluka/ema-desk/core/audio"
	"github.com/koscakluka/ema-desk/core/config"
	"github.com/koscakluka/ema-desk/core/events"
	"github.com/koscakluka/ema-desk/core/llms"
	"github.com/koscakluka/ema-desk/core/memory"
	"github.com/koscakluka/ema-desk/core/speechtotext"
	"github.com/koscakluka/ema-desk/core/tools"
)

type OrchestratorOption func(*Orchestrator)

// AudioInput is the capture device owned by the audio broker. Capture
// blocks until ctx is done or the device fails.
type AudioInput interface {
	Capture(ctx context.Context, onAudio func(audio []byte)) error
	EncodingInfo() audio.EncodingInfo
}

// AudioOutput plays synthesized audio. Mark calls onPlayed once all audio
// sent before it has been played, or dropped by ClearBuffer.
type AudioOutput interface {
	SendAudio(audio []byte) error
	Mark(name string, onPlayed func(string)) error
	ClearBuffer()
}

// Recognizer runs one recognition pass over frames until they end.
type Recognizer interface {
	Transcribe(ctx context.Context, frames iter.Seq[[]byte], opts ...speechtotext.TranscriptionOption) error
}

// Synthesizer turns one chunk of text into audio. Synthesize returns once
// all audio for text has been passed to onAudio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, onAudio func([]byte)) error
	Clear() error
}

func WithConfig(cfg *config.Config) OrchestratorOption {
	return func(o *Orchestrator) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

func WithStreamingLLM(client llms.StreamingLLM) OrchestratorOption {
	return func(o *Orchestrator) { o.llm = client }
}

func WithRecognizer(recognizer Recognizer) OrchestratorOption {
	return func(o *Orchestrator) { o.recognizer = recognizer }
}

func WithSynthesizer(synthesizer Synthesizer) OrchestratorOption {
	return func(o *Orchestrator) { o.synthesizer = synthesizer }
}

func WithAudioInput(input AudioInput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioInput = input }
}

func WithAudioOutput(output AudioOutput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioOutput = output }
}

// WithToolRegistry sets the registry the model and the dictation router
// call into. The orchestrator adds its own control tools to it.
func WithToolRegistry(registry *tools.Registry) OrchestratorOption {
	return func(o *Orchestrator) { o.registry = registry }
}

// WithMemory records every completed exchange in store.
func WithMemory(store memory.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.memory = store }
}

func WithEventCallback(callback func(events.Event)) OrchestratorOption {
	return func(o *Orchestrator) {
		if callback != nil {
			o.eventCallbacks = append(o.eventCallbacks, callback)
		}
	}
}

type OrchestrateOptions struct {
	onTranscription func(transcript string)
	onResponse      func(response string)
	onResponseEnd   func()
	onCancellation  func()
	onDictationMode func(mode string)
}

type OrchestrateOption func(*OrchestrateOptions)

// WithTranscriptionCallback registers a callback for every finalized
// utterance, spoken or typed.
func WithTranscriptionCallback(callback func(transcript string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onTranscription = callback
	}
}

func WithResponseCallback(callback func(response string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onResponse = callback
	}
}

func WithResponseEndCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onResponseEnd = callback
	}
}

func WithCancellationCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onCancellation = callback
	}
}

func WithDictationModeCallback(callback func(mode string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onDictationMode = callback
	}
}
