package orchestration

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-desk/core/config"
	"github.com/koscakluka/ema-desk/core/events"
	"github.com/koscakluka/ema-desk/core/llms"
	"github.com/koscakluka/ema-desk/core/memory"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]events.Kind, 0, len(r.events))
	for _, event := range r.events {
		kinds = append(kinds, event.Kind())
	}
	return kinds
}

func (r *eventRecorder) acknowledgements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var acks []string
	for _, event := range r.events {
		if ack, ok := event.(events.Acknowledgement); ok {
			acks = append(acks, ack.Text)
		}
	}
	return acks
}

func (r *eventRecorder) terminalStatuses() []events.TurnStatusChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	var statuses []events.TurnStatusChanged
	for _, event := range r.events {
		if status, ok := event.(events.TurnStatusChanged); ok && status.IsTerminal() {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

func (r *eventRecorder) has(kind events.Kind) bool {
	return slices.Contains(r.kinds(), kind)
}

func runOrchestrator(t *testing.T, o *Orchestrator, opts ...OrchestrateOption) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		done <- o.Orchestrate(ctx, opts...)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
		}
	})
	return cancel, done
}

func TestSendPromptRunsDictationScenario(t *testing.T) {
	injector := &recordingInjector{}
	recorder := &eventRecorder{}
	store, err := memory.OpenJSONFile(filepath.Join(t.TempDir(), "memory.json"), 10)
	if err != nil {
		t.Fatalf("failed to open memory: %v", err)
	}
	defer store.Close()

	llm := newScriptedLLM(textResponse("It is ", "noon."))
	o, err := NewOrchestrator(
		WithStreamingLLM(llm),
		WithToolRegistry(keyboardRegistry(t, injector)),
		WithMemory(store),
		WithEventCallback(recorder.record),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer o.Close()

	ctx := context.Background()
	outcomes := []RouteOutcome{}
	for _, text := range []string{"start typing", "hello world", "press enter", "stop typing", "what time is it"} {
		outcomes = append(outcomes, o.SendPrompt(ctx, text))
	}

	expected := []RouteOutcome{RouteModeTrigger, RouteDictation, RouteNavigation, RouteModeTrigger, RouteTurn}
	if !slices.Equal(outcomes, expected) {
		t.Fatalf("expected outcomes %v, got %v", expected, outcomes)
	}
	if got := injector.typedTexts(); !slices.Equal(got, []string{"hello world"}) {
		t.Fatalf("expected only the dictated text to be typed, got %q", got)
	}
	if got := recorder.acknowledgements(); !slices.Equal(got, []string{ackDictationEnabled, ackDictationDisabled}) {
		t.Fatalf("unexpected acknowledgements %q", got)
	}
	if llm.requestCount() != 1 {
		t.Fatalf("expected exactly one generation request, got %d", llm.requestCount())
	}

	history := o.History()
	if len(history) != 1 || history[0].StreamedOutput != "It is noon." || history[0].Status != TurnCompleted {
		t.Fatalf("expected one completed turn in history, got %+v", history)
	}
	entries, err := store.RecentHistory(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected memory error: %v", err)
	}
	if len(entries) != 1 || !strings.Contains(entries[0], "what time is it") {
		t.Fatalf("expected the exchange in memory, got %q", entries)
	}
	if !recorder.has(events.KindDictationModeChanged) || !recorder.has(events.KindTextDelta) {
		t.Fatalf("expected mode and text events, got %v", recorder.kinds())
	}
}

func TestHistoryWindowIsSentAsContext(t *testing.T) {
	cfg := config.Default()
	cfg.MaxContextTurns = 2
	llm := newScriptedLLM(textResponse("ok"))
	o, err := NewOrchestrator(WithConfig(cfg), WithStreamingLLM(llm))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer o.Close()

	for _, text := range []string{"one", "two", "three", "four"} {
		o.SendPrompt(context.Background(), text)
	}

	last := llm.request(3)
	prompts := []string{}
	for _, turn := range last.Turns {
		prompts = append(prompts, turn.Prompt)
	}
	if !slices.Equal(prompts, []string{"two", "three", "four"}) {
		t.Fatalf("expected the last two turns plus the input, got %q", prompts)
	}
}

func TestSavedConversationIsRestored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	ctx := context.Background()

	store, err := memory.OpenJSONFile(path, 10)
	if err != nil {
		t.Fatalf("failed to open memory: %v", err)
	}
	first, err := NewOrchestrator(WithStreamingLLM(newScriptedLLM(textResponse("Hi."))), WithMemory(store))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first.SendPrompt(ctx, "hello")
	first.SendPrompt(ctx, "my name is Ana")
	first.Close()
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close memory: %v", err)
	}

	reopened, err := memory.OpenJSONFile(path, 10)
	if err != nil {
		t.Fatalf("failed to reopen memory: %v", err)
	}
	defer reopened.Close()
	llm := newScriptedLLM(textResponse("Ana."))
	second, err := NewOrchestrator(WithStreamingLLM(llm), WithMemory(reopened))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer second.Close()

	if history := second.History(); len(history) != 2 || history[1].StreamedOutput != "Hi." {
		t.Fatalf("expected the saved turns in history, got %+v", history)
	}
	second.SendPrompt(ctx, "what is my name")

	prompts := []string{}
	for _, turn := range llm.request(0).Turns {
		prompts = append(prompts, turn.Prompt)
	}
	if !slices.Equal(prompts, []string{"hello", "my name is Ana", "what is my name"}) {
		t.Fatalf("expected the saved turns as context, got %q", prompts)
	}
}

func TestParseHistoryEntry(t *testing.T) {
	turn := ConversationTurn{UserInput: "list", StreamedOutput: "One.\nTwo."}
	userInput, output, ok := parseHistoryEntry(formatHistoryEntry(turn))
	if !ok || userInput != "list" || output != "One.\nTwo." {
		t.Fatalf("unexpected parse %q %q %v", userInput, output, ok)
	}
	if _, _, ok := parseHistoryEntry("remembered something"); ok {
		t.Fatalf("expected a free-form entry to be skipped")
	}
}

func TestFailedTurnSpeaksShortMessage(t *testing.T) {
	synthesizer := &recordingSynthesizer{}
	output := &recordingAudioOutput{}
	recorder := &eventRecorder{}
	o, err := NewOrchestrator(
		WithStreamingLLM(newScriptedLLM(scriptedResponse{err: errors.New("connection refused")})),
		WithSynthesizer(synthesizer),
		WithAudioOutput(output),
		WithEventCallback(recorder.record),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer o.Close()

	if outcome := o.SendPrompt(context.Background(), "hello"); outcome != RouteTurn {
		t.Fatalf("expected turn, got %s", outcome)
	}

	statuses := recorder.terminalStatuses()
	if len(statuses) != 1 || statuses[0].Status != TurnFailed.String() || statuses[0].Message != llmUnavailableMessage {
		t.Fatalf("expected a failed status with the user message, got %+v", statuses)
	}
	if got := synthesizer.synthesized(); !slices.Equal(got, []string{llmUnavailableMessage}) {
		t.Fatalf("expected only the failure message to be spoken, got %q", got)
	}
	if len(o.History()) != 0 {
		t.Fatalf("expected failed turns to stay out of history")
	}
}

func TestModelCanEnableVoiceTyping(t *testing.T) {
	llm := newScriptedLLM(toolResponse(llms.ToolCall{ID: "call", Name: ControlVoiceTypingTool, Arguments: `{"action":"enable"}`}))
	o, err := NewOrchestrator(WithStreamingLLM(llm), WithToolRegistry(keyboardRegistry(t, &recordingInjector{})))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer o.Close()

	o.SendPrompt(context.Background(), "could you start voice typing for me")

	if o.DictationMode() != DictationDictating {
		t.Fatalf("expected the tool to switch to dictation, got %s", o.DictationMode())
	}
	history := o.History()
	if len(history) != 1 || history[0].StreamedOutput != ackDictationEnabled {
		t.Fatalf("expected the tool summary as reply, got %+v", history)
	}
}

func TestOrchestrateRunsOnce(t *testing.T) {
	o, err := NewOrchestrator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runOrchestrator(t, o)

	waitForCondition(t, time.Second, "orchestrator to start", o.started.Load)
	if err := o.Orchestrate(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestQuitWordEndsSession(t *testing.T) {
	recorder := &eventRecorder{}
	o, err := NewOrchestrator(WithEventCallback(recorder.record))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, done := runOrchestrator(t, o)
	waitForCondition(t, time.Second, "orchestrator to start", func() bool {
		o.sessionMu.Lock()
		defer o.sessionMu.Unlock()
		return o.stopSession != nil
	})

	if outcome := o.SendPrompt(context.Background(), "Goodbye."); outcome != RouteQuit {
		t.Fatalf("expected quit, got %s", outcome)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end after quit")
	}
	if !o.QuitRequested() || !recorder.has(events.KindSessionEnded) {
		t.Fatalf("expected the session to end with a quit")
	}
}

func TestDeviceFailureDegradesToTypedInput(t *testing.T) {
	input := newManualAudioInput()
	recorder := &eventRecorder{}
	llm := newScriptedLLM(textResponse("Still here."))
	o, err := NewOrchestrator(
		WithStreamingLLM(llm),
		WithAudioInput(input),
		WithRecognizer(echoRecognizer{}),
		WithEventCallback(recorder.record),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runOrchestrator(t, o)

	select {
	case <-input.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("capture did not start")
	}
	input.fail(errDeviceUnplugged)

	waitForCondition(t, 2*time.Second, "voice to be degraded", o.VoiceDegraded)
	if !slices.Contains(recorder.acknowledgements(), voiceUnavailableMessage) {
		t.Fatalf("expected the user to be told voice is unavailable, got %q", recorder.acknowledgements())
	}

	if outcome := o.SendPrompt(context.Background(), "are you there"); outcome != RouteTurn {
		t.Fatalf("expected typed input to keep working, got %s", outcome)
	}
	if history := o.History(); len(history) != 1 || history[0].StreamedOutput != "Still here." {
		t.Fatalf("expected the typed turn to complete, got %+v", history)
	}
}

// A spoken reply is playing, the user says "stop": the turn is cancelled,
// playback stops and the echo of "stop" does not start a new turn.
func TestSpokenInterruptCancelsTurn(t *testing.T) {
	input := newManualAudioInput()
	synthesizer := &recordingSynthesizer{}
	output := &recordingAudioOutput{holdMarks: true}
	recorder := &eventRecorder{}

	response := textResponse("This is a long answer. ", "It keeps going. ", "And going. ", "And going.")
	response.interval = 20 * time.Millisecond
	response.hold = true
	llm := newScriptedLLM(response, textResponse("Sunny."))

	o, err := NewOrchestrator(
		WithStreamingLLM(llm),
		WithAudioInput(input),
		WithRecognizer(echoRecognizer{}),
		WithSynthesizer(synthesizer),
		WithAudioOutput(output),
		WithEventCallback(recorder.record),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancelled := make(chan struct{}, 1)
	runOrchestrator(t, o, WithCancellationCallback(func() {
		select {
		case cancelled <- struct{}{}:
		default:
		}
	}))
	waitForCondition(t, 2*time.Second, "dictation to subscribe", func() bool { return o.broker.Subscribers() == 1 })

	outcome := make(chan RouteOutcome, 1)
	go func() { outcome <- o.SendPrompt(context.Background(), "tell me a story") }()

	waitForCondition(t, 2*time.Second, "first sentence to play", func() bool { return output.pendingMarks() == 1 })
	waitForCondition(t, 2*time.Second, "interrupt listener to subscribe", func() bool { return o.broker.Subscribers() == 2 })

	input.push(t, []byte("stop"))

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancellation")
	}
	select {
	case got := <-outcome:
		if got != RouteTurn {
			t.Fatalf("expected the prompt to have started a turn, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("turn did not finish after the interrupt")
	}

	if got := output.playedAudio(); !slices.Equal(got, []string{"This is a long answer."}) {
		t.Fatalf("expected playback to stop after the first sentence, got %q", got)
	}
	if output.clearCalls() == 0 || synthesizer.clearCalls() == 0 {
		t.Fatalf("expected synthesizer and output to be cleared")
	}
	if !recorder.has(events.KindInterruption) {
		t.Fatalf("expected an interruption event")
	}
	statuses := recorder.terminalStatuses()
	if len(statuses) != 1 || statuses[0].Status != TurnCancelled.String() {
		t.Fatalf("expected one cancelled turn, got %+v", statuses)
	}

	// give the dictation stream time to route its own copy of "stop"
	time.Sleep(100 * time.Millisecond)
	if llm.requestCount() != 1 {
		t.Fatalf("expected the echo not to start another turn, got %d requests", llm.requestCount())
	}
	if len(o.History()) != 0 {
		t.Fatalf("expected cancelled turns to stay out of history")
	}

	// the next utterance starts a fresh turn that runs to completion
	output.playThrough()
	input.push(t, []byte("what's the weather"))
	waitForCondition(t, 2*time.Second, "next turn to complete", func() bool { return len(o.History()) == 1 })

	history := o.History()
	if history[0].UserInput != "what's the weather" || history[0].StreamedOutput != "Sunny." || history[0].Status != TurnCompleted {
		t.Fatalf("expected the new turn in history, got %+v", history[0])
	}
	if llm.requestCount() != 2 {
		t.Fatalf("expected two requests, got %d", llm.requestCount())
	}
	prompts := []string{}
	for _, turn := range llm.request(1).Turns {
		prompts = append(prompts, turn.Prompt)
	}
	if !slices.Equal(prompts, []string{"what's the weather"}) {
		t.Fatalf("expected the cancelled turn to be left out of context, got %q", prompts)
	}
}

func TestStopCancelsVoiceTypingAcknowledgement(t *testing.T) {
	input := newManualAudioInput()
	injector := &recordingInjector{}
	output := &recordingAudioOutput{holdMarks: true}
	recorder := &eventRecorder{}

	o, err := NewOrchestrator(
		WithStreamingLLM(newScriptedLLM(textResponse("unused"))),
		WithToolRegistry(keyboardRegistry(t, injector)),
		WithAudioInput(input),
		WithRecognizer(echoRecognizer{}),
		WithSynthesizer(&recordingSynthesizer{}),
		WithAudioOutput(output),
		WithEventCallback(recorder.record),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runOrchestrator(t, o)
	waitForCondition(t, 2*time.Second, "dictation to subscribe", func() bool { return o.broker.Subscribers() == 1 })

	outcome := make(chan RouteOutcome, 1)
	go func() { outcome <- o.SendPrompt(context.Background(), "start typing") }()

	waitForCondition(t, 2*time.Second, "acknowledgement to play", func() bool { return output.pendingMarks() == 1 })
	waitForCondition(t, 2*time.Second, "interrupt listener to subscribe", func() bool { return o.broker.Subscribers() == 2 })

	input.push(t, []byte("stop"))

	select {
	case got := <-outcome:
		if got != RouteModeTrigger {
			t.Fatalf("expected a mode trigger, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("acknowledgement kept playing after stop")
	}
	if output.clearCalls() == 0 {
		t.Fatalf("expected the acknowledgement to be cleared")
	}
	if !recorder.has(events.KindInterruption) {
		t.Fatalf("expected an interruption event")
	}

	// give the dictation stream time to route its own copy of "stop"
	time.Sleep(100 * time.Millisecond)
	if typed := injector.typedTexts(); len(typed) != 0 {
		t.Fatalf("expected the interrupt phrase not to be typed, got %q", typed)
	}
	if o.DictationMode() != DictationDictating {
		t.Fatalf("expected voice typing to stay enabled, got %s", o.DictationMode())
	}
}
