package orchestration

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-desk/core/audio"
	"github.com/koscakluka/ema-desk/core/llms"
	"github.com/koscakluka/ema-desk/core/speechtotext"
	"github.com/koscakluka/ema-desk/core/texttospeech"
	"github.com/koscakluka/ema-desk/core/tools"
	"github.com/koscakluka/ema-desk/core/tools/keyboard"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

// scriptedResponse is what one generation request streams back.
type scriptedResponse struct {
	chunks []llms.StreamChunk
	// err is yielded after the chunks
	err      error
	interval time.Duration
	// hold keeps the stream open after the chunks until ctx is done
	hold bool
}

type scriptedLLMStub struct {
	mu       sync.Mutex
	script   []scriptedResponse
	requests []llms.StreamingPromptOptions
}

func newScriptedLLM(script ...scriptedResponse) *scriptedLLMStub {
	return &scriptedLLMStub{script: script}
}

func (stub *scriptedLLMStub) PromptWithStream(_ context.Context, _ *string, opts ...llms.StreamingPromptOption) llms.Stream {
	promptOptions := llms.StreamingPromptOptions{}
	for _, opt := range opts {
		opt.ApplyToStreaming(&promptOptions)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.requests = append(stub.requests, promptOptions)

	response := scriptedResponse{}
	if len(stub.script) > 0 {
		index := min(len(stub.requests)-1, len(stub.script)-1)
		response = stub.script[index]
	}
	return scriptedStreamStub{response: response}
}

func (stub *scriptedLLMStub) requestCount() int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return len(stub.requests)
}

func (stub *scriptedLLMStub) request(i int) llms.StreamingPromptOptions {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.requests[i]
}

type scriptedStreamStub struct {
	response scriptedResponse
}

func (stub scriptedStreamStub) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, chunk := range stub.response.chunks {
			if stub.response.interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(stub.response.interval):
				}
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if stub.response.err != nil {
			yield(nil, stub.response.err)
			return
		}
		if stub.response.hold {
			<-ctx.Done()
		}
	}
}

func textResponse(texts ...string) scriptedResponse {
	response := scriptedResponse{}
	for _, text := range texts {
		response.chunks = append(response.chunks, streamContentChunkStub{content: text})
	}
	return response
}

func toolResponse(calls ...llms.ToolCall) scriptedResponse {
	response := scriptedResponse{}
	for _, call := range calls {
		response.chunks = append(response.chunks, streamToolCallChunkStub{call: call})
	}
	return response
}

type streamContentChunkStub struct {
	content string
}

func (chunk streamContentChunkStub) FinishReason() *string { return nil }
func (chunk streamContentChunkStub) Content() string       { return chunk.content }

type streamToolCallChunkStub struct {
	call llms.ToolCall
}

func (chunk streamToolCallChunkStub) FinishReason() *string   { return nil }
func (chunk streamToolCallChunkStub) ToolCall() llms.ToolCall { return chunk.call }

type recordingInjector struct {
	mu      sync.Mutex
	pressed []string
	typed   []string
}

func (r *recordingInjector) Press(combo keyboard.Combo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pressed = append(r.pressed, combo.String())
	return nil
}

func (r *recordingInjector) Type(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typed = append(r.typed, text)
	return nil
}

func (r *recordingInjector) presses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.pressed...)
}

func (r *recordingInjector) typedTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.typed...)
}

func keyboardRegistry(t *testing.T, injector keyboard.Injector) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry(tools.WithTimeout(time.Second))
	if err := registry.Register(keyboard.Tools(injector)...); err != nil {
		t.Fatalf("failed to register keyboard tools: %v", err)
	}
	return registry
}

// recordingSynthesizer turns every chunk into one audio frame holding the
// chunk text. A non-nil gate makes Synthesize wait for a value per chunk.
type recordingSynthesizer struct {
	mu     sync.Mutex
	texts  []string
	clears int
	gate   chan struct{}
}

func (s *recordingSynthesizer) Synthesize(ctx context.Context, text string, onAudio func([]byte)) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return texttospeech.ErrCleared
		}
	}
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	onAudio([]byte(text))
	return nil
}

func (s *recordingSynthesizer) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	return nil
}

func (s *recordingSynthesizer) synthesized() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *recordingSynthesizer) clearCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// recordingAudioOutput records played audio. Marks fire immediately unless
// holdMarks is set, in which case they fire on releaseMarks or ClearBuffer.
type recordingAudioOutput struct {
	mu         sync.Mutex
	played     []string
	clearCount int
	holdMarks  bool
	pending    []func(string)
}

func (output *recordingAudioOutput) SendAudio(audio []byte) error {
	output.mu.Lock()
	defer output.mu.Unlock()
	output.played = append(output.played, string(audio))
	return nil
}

func (output *recordingAudioOutput) Mark(name string, onPlayed func(string)) error {
	output.mu.Lock()
	if output.holdMarks {
		output.pending = append(output.pending, func(string) { onPlayed(name) })
		output.mu.Unlock()
		return nil
	}
	output.mu.Unlock()
	onPlayed(name)
	return nil
}

func (output *recordingAudioOutput) ClearBuffer() {
	output.mu.Lock()
	output.clearCount++
	output.mu.Unlock()
	output.releaseMarks()
}

func (output *recordingAudioOutput) releaseMarks() {
	output.mu.Lock()
	pending := output.pending
	output.pending = nil
	output.mu.Unlock()
	for _, onPlayed := range pending {
		onPlayed("")
	}
}

// playThrough fires held marks and stops holding new ones.
func (output *recordingAudioOutput) playThrough() {
	output.mu.Lock()
	output.holdMarks = false
	output.mu.Unlock()
	output.releaseMarks()
}

func (output *recordingAudioOutput) pendingMarks() int {
	output.mu.Lock()
	defer output.mu.Unlock()
	return len(output.pending)
}

func (output *recordingAudioOutput) playedAudio() []string {
	output.mu.Lock()
	defer output.mu.Unlock()
	return append([]string(nil), output.played...)
}

func (output *recordingAudioOutput) clearCalls() int {
	output.mu.Lock()
	defer output.mu.Unlock()
	return output.clearCount
}

// manualAudioInput captures whatever the test pushes until ctx is done or
// fail is called.
type manualAudioInput struct {
	frames  chan []byte
	failure chan error
	started chan struct{}
	once    sync.Once
}

func newManualAudioInput() *manualAudioInput {
	return &manualAudioInput{
		frames:  make(chan []byte),
		failure: make(chan error, 1),
		started: make(chan struct{}),
	}
}

func (in *manualAudioInput) Capture(ctx context.Context, onAudio func([]byte)) error {
	in.once.Do(func() { close(in.started) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-in.failure:
			return err
		case frame := <-in.frames:
			onAudio(frame)
		}
	}
}

func (in *manualAudioInput) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (in *manualAudioInput) push(t *testing.T, frame []byte) {
	t.Helper()
	select {
	case in.frames <- frame:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out pushing audio frame")
	}
}

func (in *manualAudioInput) fail(err error) { in.failure <- err }

// echoRecognizer treats every frame as a finalized transcript of its bytes.
type echoRecognizer struct{}

func (echoRecognizer) Transcribe(ctx context.Context, frames iter.Seq[[]byte], opts ...speechtotext.TranscriptionOption) error {
	options := speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	for frame := range frames {
		if options.TranscriptionCallback != nil {
			options.TranscriptionCallback(string(frame))
		}
	}
	return ctx.Err()
}

var errDeviceUnplugged = errors.New("device unplugged")
