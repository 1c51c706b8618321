package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-desk/core/config"
	"github.com/koscakluka/ema-desk/core/events"
	"github.com/koscakluka/ema-desk/core/llms"
	"github.com/koscakluka/ema-desk/core/memory"
	"github.com/koscakluka/ema-desk/core/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	voiceUnavailableMessage = "Voice input is unavailable right now, but you can keep typing."

	// interruptEchoWindow is how long after an interruption the dictation
	// stream may still deliver the same phrase.
	interruptEchoWindow = 5 * time.Second
)

var ErrAlreadyStarted = errors.New("orchestrator already started")

type Orchestrator struct {
	config         *config.Config
	llm            llms.StreamingLLM
	recognizer     Recognizer
	synthesizer    Synthesizer
	audioInput     AudioInput
	audioOutput    AudioOutput
	registry       *tools.Registry
	memory         memory.Store
	eventCallbacks []func(events.Event)

	broker     *AudioBroker
	synthesis  *SynthesisPipeline
	router     *DictationRouter
	interrupts *InterruptListener
	turns      *turnRunner

	dictation    DictationState
	cancellation cancellationSlot

	// turnMu keeps a single turn Streaming or AwaitingTool at a time.
	turnMu    sync.Mutex
	historyMu sync.Mutex
	history   []ConversationTurn

	lastInterrupt atomic.Int64
	emitter       atomic.Pointer[eventEmitter]
	started       atomic.Bool
	quitRequested atomic.Bool
	voiceDegraded atomic.Bool

	sessionMu   sync.Mutex
	stopSession context.CancelFunc
	closeOnce   sync.Once
}

// NewOrchestrator wires the session components. Collaborators that are not
// provided are simply skipped: without an audio input the session is
// text-only and without a synthesizer replies are not spoken.
func NewOrchestrator(opts ...OrchestratorOption) (*Orchestrator, error) {
	o := &Orchestrator{config: config.Default()}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.config
	if o.registry == nil {
		o.registry = tools.NewRegistry(tools.WithTimeout(cfg.ToolTimeout))
	}
	if !cfg.SpeechInputEnabled {
		o.audioInput = nil
	}

	o.broker = NewAudioBroker(o.audioInput)
	o.synthesis = NewSynthesisPipeline(o.synthesizer, o.audioOutput, cfg.SpeechOutputEnabled)
	o.interrupts = NewInterruptListener(
		NewTranscriptSource("interrupts", o.broker, o.recognizer),
		cfg.InterruptPhrases,
		cfg.InterruptWhileSpeakingOnly,
		o.interrupt,
	)
	o.synthesis.OnSpeakingChanged(o.interrupts.SetSpeaking)

	o.router = newDictationRouter(&o.dictation, o.registry, cfg.DictationEnabled, routerHooks{
		startTurn:    o.handleTurn,
		acknowledge:  o.acknowledge,
		modeChanged:  func(mode DictationMode) { o.emit(events.NewDictationModeChanged(mode.String())) },
		quit:         o.quit,
		ignoreAsEcho: o.isInterruptEcho,
	})

	var promptOptions []llms.StreamingPromptOption
	if cfg.LLM.SystemPrompt != "" {
		promptOptions = append(promptOptions, llms.WithSystemPrompt(cfg.LLM.SystemPrompt))
	}
	o.turns = &turnRunner{
		llm:                   o.llm,
		registry:              o.registry,
		cancellation:          &o.cancellation,
		toolsEnabled:          cfg.ToolsEnabled,
		mergeCommandResponses: cfg.MergeCommandResponses,
		maxToolIterations:     cfg.MaxToolIterations,
		promptOptions:         promptOptions,
	}

	if err := o.registry.Register(orchestrationTools(o)...); err != nil {
		return nil, fmt.Errorf("failed to register orchestration tools: %w", err)
	}
	o.hydrateHistory(context.Background())

	return o, nil
}

// Orchestrate runs the session until ctx is done or the user quits. Typed
// input can be sent with SendPrompt while it runs.
//
// Contract: call Orchestrate at most once per orchestrator instance.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	orchestrateOptions := OrchestrateOptions{}
	for _, opt := range opts {
		opt(&orchestrateOptions)
	}
	emitter := newCallbackEventEmitter(orchestrateOptions)
	o.emitter.Store(&emitter)

	ctx, span := tracer.Start(ctx, "orchestrate")
	defer span.End()

	sessionCtx, stop := context.WithCancel(ctx)
	defer stop()
	o.sessionMu.Lock()
	o.stopSession = stop
	o.sessionMu.Unlock()

	g, gctx := errgroup.WithContext(sessionCtx)
	if o.voiceInputAvailable() {
		g.Go(panicSafeNamedWorker("dictation", o.listenForDictation).withContext(gctx))
		g.Go(panicSafeNamedWorker("interrupts", o.interrupts.Run).withContext(gctx))
	} else {
		logger.Info("speech input disabled, serving typed input only")
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	reason := "context done"
	if o.quitRequested.Load() {
		reason = "quit"
	}
	o.emit(events.NewSessionEnded(reason))
	o.Close()
	return err
}

// SendPrompt routes typed text exactly like a finalized spoken utterance.
// It blocks until the resulting turn, if any, is over.
func (o *Orchestrator) SendPrompt(ctx context.Context, text string) RouteOutcome {
	o.emit(events.NewTranscriptionFinal(text, true))
	return o.router.Route(ctx, text)
}

// CancelTurn stops the active turn and its speech, as if an interrupt
// phrase had been heard.
func (o *Orchestrator) CancelTurn() {
	o.interrupt("")
}

func (o *Orchestrator) DictationMode() DictationMode { return o.dictation.Mode() }
func (o *Orchestrator) IsSpeaking() bool             { return o.synthesis.IsSpeaking() }
func (o *Orchestrator) VoiceDegraded() bool          { return o.voiceDegraded.Load() }

// History returns the completed turns, oldest first.
func (o *Orchestrator) History() []ConversationTurn {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	return slices.Clone(o.history)
}

func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancellation.raise()
		o.sessionMu.Lock()
		if o.stopSession != nil {
			o.stopSession()
		}
		o.sessionMu.Unlock()
		o.broker.Close()
	})
}

func (o *Orchestrator) voiceInputAvailable() bool {
	return o.audioInput != nil && o.recognizer != nil && o.config.SpeechInputEnabled
}

// listenForDictation feeds the router from its own transcript stream. A
// broken device degrades the session to typed input instead of ending it.
func (o *Orchestrator) listenForDictation(ctx context.Context) error {
	source := NewTranscriptSource("dictation", o.broker, o.recognizer)
	for ctx.Err() == nil {
		for event, err := range source.Events(ctx) {
			if err != nil {
				var deviceErr *AudioDeviceError
				if errors.As(err, &deviceErr) || errors.Is(err, ErrNoAudioInput) {
					o.degradeVoice(ctx, err)
					return nil
				}
				logger.Warn("dictation recognition stopped", "error", err)
				break
			}

			o.emit(events.NewTranscriptionFinal(event.Text, false))
			o.router.Route(ctx, event.Text)
		}
		if !sleepContext(ctx, listenerRestartDelay) {
			break
		}
	}
	return nil
}

func (o *Orchestrator) degradeVoice(ctx context.Context, err error) {
	if !o.voiceDegraded.CompareAndSwap(false, true) {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error("voice input disabled for the session", "error", err)
	o.acknowledge(ctx, voiceUnavailableMessage)
}

// handleTurn runs one conversation turn and speaks the reply while it is
// still being generated. It returns once playback is over.
func (o *Orchestrator) handleTurn(ctx context.Context, text string) {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	signal := o.cancellation.begin()
	history := o.recentHistory()

	speechCtx, stopSpeech := signal.Bind(ctx)
	defer stopSpeech()

	spoken := newTextBuffer()
	speechDone := make(chan SynthesisResult, 1)
	go func() { speechDone <- o.synthesis.Speak(speechCtx, spoken.Chunks) }()

	var final TurnEvent
	for event := range o.turns.runTurn(ctx, text, history) {
		switch event.Kind {
		case TurnEventTextDelta:
			spoken.AddChunk(event.Text)
			o.emit(events.NewTextDelta(event.TurnID, event.Text))
		case TurnEventToolStarted:
			o.emit(events.NewToolCallStarted(event.Tool.ID, event.Tool.Name, event.Tool.Arguments))
		case TurnEventToolFinished:
			if event.Tool.Err != nil {
				o.emit(events.NewToolCallFailed(event.Tool.ID, event.Tool.Name, event.Tool.Err.Error()))
			} else {
				o.emit(events.NewToolCallCompleted(event.Tool.ID, event.Tool.Name, event.Tool.Result))
			}
		case TurnEventStatusChanged:
			o.emit(events.NewTurnStatusChanged(event.TurnID, event.Status.String(), ""))
		case TurnEventFinished:
			final = event
		}
	}

	if final.Status == TurnFailed {
		spoken.Clear()
		stopSpeech()
	}
	spoken.TextComplete()
	result := <-speechDone

	logger.Debug("turn finished", "turn", final.TurnID, "status", final.Status.String(), "speech", result.String())
	o.emit(events.NewTurnStatusChanged(final.TurnID, final.Status.String(), final.Message))

	switch final.Status {
	case TurnCompleted:
		o.remember(ctx, final.Turn)
	case TurnFailed:
		if final.Turn != nil && final.Turn.Err != nil {
			logger.Warn("turn failed", "turn", final.TurnID, "error", final.Turn.Err)
		}
		if !signal.Raised() {
			o.speak(ctx, final.Message)
		}
	}
}

func (o *Orchestrator) recentHistory() []ConversationTurn {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()

	window := o.config.MaxContextTurns
	if window <= 0 || len(o.history) == 0 {
		return nil
	}
	start := max(len(o.history)-window, 0)
	return slices.Clone(o.history[start:])
}

func (o *Orchestrator) remember(ctx context.Context, turn *ConversationTurn) {
	if turn == nil {
		return
	}
	completed := *turn
	completed.History = nil

	o.historyMu.Lock()
	o.history = append(o.history, completed)
	o.historyMu.Unlock()

	if o.memory == nil {
		return
	}
	if err := o.memory.AddHistory(ctx, formatHistoryEntry(completed)); err != nil {
		logger.Warn("failed to record turn in memory", "turn", completed.ID, "error", err)
	}
}

// hydrateHistory picks the conversation up where the previous session left
// it. Entries that do not parse as an exchange are skipped.
func (o *Orchestrator) hydrateHistory(ctx context.Context) {
	if o.memory == nil || o.config.MaxContextTurns <= 0 {
		return
	}
	entries, err := o.memory.RecentHistory(ctx, o.config.MaxContextTurns*2)
	if err != nil {
		logger.Warn("failed to load saved conversation", "error", err)
		return
	}

	restored := make([]ConversationTurn, 0, len(entries))
	for _, entry := range entries {
		userInput, output, ok := parseHistoryEntry(entry)
		if !ok {
			continue
		}
		restored = append(restored, ConversationTurn{
			ID:             uuid.NewString(),
			UserInput:      userInput,
			StreamedOutput: output,
			Status:         TurnCompleted,
		})
	}

	o.historyMu.Lock()
	o.history = append(restored, o.history...)
	o.historyMu.Unlock()
	if len(restored) > 0 {
		logger.Info("restored saved conversation", "turns", len(restored))
	}
}

const (
	historyUserPrefix      = "User: "
	historyAssistantMarker = "\nAssistant: "
)

func formatHistoryEntry(turn ConversationTurn) string {
	return historyUserPrefix + turn.UserInput + historyAssistantMarker + turn.StreamedOutput
}

func parseHistoryEntry(entry string) (userInput, output string, ok bool) {
	rest, ok := strings.CutPrefix(entry, historyUserPrefix)
	if !ok {
		return "", "", false
	}
	userInput, output, ok = strings.Cut(rest, historyAssistantMarker)
	if !ok || strings.TrimSpace(userInput) == "" {
		return "", "", false
	}
	return userInput, output, true
}

// acknowledge reports a local reply and speaks it.
func (o *Orchestrator) acknowledge(ctx context.Context, text string) {
	o.emit(events.NewAcknowledgement(text))
	o.speak(ctx, text)
}

// speak plays text so an interrupt phrase can cut it short. Inside a turn
// it shares the turn's signal, otherwise it gets a signal of its own and
// holds off the next turn until it is over.
func (o *Orchestrator) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}

	var signal *CancellationSignal
	if o.turnMu.TryLock() {
		defer o.turnMu.Unlock()
		signal = o.cancellation.begin()
	} else if active := o.cancellation.active(); !active.Raised() {
		signal = active
	}

	if signal != nil {
		var cancel context.CancelFunc
		ctx, cancel = signal.Bind(ctx)
		defer cancel()
	}
	o.synthesis.Speak(ctx, single(text))
}

// interrupt raises the active cancellation signal. An empty phrase means
// the cancellation did not come from speech.
func (o *Orchestrator) interrupt(phrase string) {
	if phrase != "" {
		o.lastInterrupt.Store(time.Now().UnixNano())
	}
	if !o.cancellation.raise() {
		return
	}

	source := "speech"
	if phrase == "" {
		source = "manual"
	}
	if interruptionCounter != nil {
		interruptionCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", source)))
	}
	logger.Info("turn interrupted", "phrase", phrase, "source", source)
	o.emit(events.NewInterruption(phrase))
}

// isInterruptEcho reports whether text is an interrupt phrase the dictation
// stream heard while speech was playing or right after an interruption.
func (o *Orchestrator) isInterruptEcho(text string) bool {
	if !o.interrupts.IsInterruptPhrase(text) {
		return false
	}
	if o.synthesis.IsSpeaking() {
		return true
	}
	last := o.lastInterrupt.Load()
	return last != 0 && time.Since(time.Unix(0, last)) <= interruptEchoWindow
}

func (o *Orchestrator) quit() {
	logger.Info("quit requested")
	o.quitRequested.Store(true)
	o.cancellation.raise()
	o.sessionMu.Lock()
	stop := o.stopSession
	o.sessionMu.Unlock()
	if stop != nil {
		stop()
	}
}

// QuitRequested reports whether the user ended the session with a quit
// word.
func (o *Orchestrator) QuitRequested() bool { return o.quitRequested.Load() }

// emit delivers event to every registered callback. Callbacks run on the
// goroutine that produced the event and must be safe for concurrent use.
func (o *Orchestrator) emit(event events.Event) {
	for _, callback := range o.eventCallbacks {
		callback(event)
	}
	if emitter := o.emitter.Load(); emitter != nil {
		(*emitter)(event)
	}
}
