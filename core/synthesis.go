package orchestration

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/ema-desk/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type SynthesisResult int

const (
	SynthesisCompleted SynthesisResult = iota
	SynthesisCancelled
)

func (r SynthesisResult) String() string {
	switch r {
	case SynthesisCompleted:
		return "completed"
	case SynthesisCancelled:
		return "cancelled"
	}
	return "unknown"
}

// SynthesisPipeline speaks text while it is still being generated. Text is
// cut into sentences, a worker synthesizes them in order and a playback
// worker plays one chunk after another.
type SynthesisPipeline struct {
	synthesizer Synthesizer
	output      AudioOutput

	enabled atomic.Bool
	active  atomic.Int32
	marks   atomic.Int64

	onSpeakingChanged func(bool)
}

func NewSynthesisPipeline(synthesizer Synthesizer, output AudioOutput, enabled bool) *SynthesisPipeline {
	p := &SynthesisPipeline{synthesizer: synthesizer, output: output}
	p.enabled.Store(enabled)
	return p
}

// OnSpeakingChanged registers fn to be told when audible output starts and
// stops. It must be set before the first Speak.
func (p *SynthesisPipeline) OnSpeakingChanged(fn func(bool)) {
	p.onSpeakingChanged = fn
}

func (p *SynthesisPipeline) SetEnabled(enabled bool) { p.enabled.Store(enabled) }
func (p *SynthesisPipeline) Enabled() bool           { return p.enabled.Load() }
func (p *SynthesisPipeline) IsSpeaking() bool        { return p.active.Load() > 0 }

func (p *SynthesisPipeline) canSpeak() bool {
	return p != nil && p.synthesizer != nil && p.output != nil && p.enabled.Load()
}

// Speak consumes chunks and plays them. Cancelling ctx drops what has not
// been played yet and stops playback before the next chunk would start.
func (p *SynthesisPipeline) Speak(ctx context.Context, chunks iter.Seq[string]) SynthesisResult {
	if !p.canSpeak() {
		for range chunks {
			if ctx.Err() != nil {
				break
			}
		}
		if ctx.Err() != nil {
			return SynthesisCancelled
		}
		return SynthesisCompleted
	}

	parentCtx := ctx
	ctx, span := tracer.Start(ctx, "speak")
	defer span.End()

	p.setSpeaking(true)
	defer p.setSpeaking(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := newTextBuffer()
	playbackQueue := make(chan playbackItem, 64)

	stopWatching := context.AfterFunc(ctx, queue.Clear)
	defer stopWatching()

	var workerErr error
	workerErrMu := sync.Mutex{}
	run := func(name string, f func(context.Context) error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				workerErrMu.Lock()
				workerErr = errors.Join(workerErr, fmt.Errorf("%s worker panicked: %v", name, recovered))
				workerErrMu.Unlock()
				cancel()
			}
		}()

		if err := f(ctx); err != nil {
			workerErrMu.Lock()
			workerErr = errors.Join(workerErr, fmt.Errorf("%s worker failed: %w", name, err))
			workerErrMu.Unlock()
			cancel()
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(3)
	go func() {
		defer wg.Done()
		run("text segmentation", func(ctx context.Context) error {
			return p.segmentText(ctx, chunks, queue)
		})
	}()
	go func() {
		defer wg.Done()
		run("speech synthesis", func(ctx context.Context) error {
			defer close(playbackQueue)
			return p.synthesize(ctx, queue, playbackQueue)
		})
	}()
	go func() {
		defer wg.Done()
		run("playback", func(ctx context.Context) error {
			return p.play(ctx, playbackQueue)
		})
	}()
	wg.Wait()

	if workerErr != nil {
		span.RecordError(workerErr)
		span.SetStatus(codes.Error, workerErr.Error())
		logger.Warn("speech output degraded", "error", workerErr)
	}

	if parentCtx.Err() != nil {
		p.clear()
		span.SetAttributes(attribute.String("synthesis.result", SynthesisCancelled.String()))
		return SynthesisCancelled
	}
	if workerErr != nil {
		p.clear()
	}

	span.SetAttributes(attribute.String("synthesis.result", SynthesisCompleted.String()))
	return SynthesisCompleted
}

func (p *SynthesisPipeline) segmentText(ctx context.Context, chunks iter.Seq[string], queue *textBuffer) error {
	defer queue.TextComplete()

	segmenter := newSentenceSegmenter(maxSpokenChunkLength)
	for chunk := range chunks {
		if ctx.Err() != nil {
			return nil
		}
		for _, sentence := range segmenter.Push(chunk) {
			queue.AddChunk(sentence)
		}
	}
	for _, sentence := range segmenter.Flush() {
		queue.AddChunk(sentence)
	}
	return nil
}

type playbackItem struct {
	audio []byte
	// endOfChunk is set on the item closing the audio of text
	endOfChunk bool
	text       string
}

func (p *SynthesisPipeline) synthesize(ctx context.Context, queue *textBuffer, playbackQueue chan<- playbackItem) error {
	span := trace.SpanFromContext(ctx)

	send := func(item playbackItem) bool {
		select {
		case playbackQueue <- item:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for text := range queue.Chunks {
		if ctx.Err() != nil {
			return nil
		}

		err := p.synthesizer.Synthesize(ctx, text, func(audio []byte) {
			send(playbackItem{audio: audio})
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, texttospeech.ErrCleared) {
				return nil
			}
			err = fmt.Errorf("failed to synthesize %q: %w", text, err)
			span.RecordError(err)
			logger.Warn("skipping chunk that could not be synthesized", "error", err)
			continue
		}

		if !send(playbackItem{endOfChunk: true, text: text}) {
			return nil
		}
	}
	return nil
}

func (p *SynthesisPipeline) play(ctx context.Context, playbackQueue <-chan playbackItem) error {
	span := trace.SpanFromContext(ctx)

	for item := range playbackQueue {
		if ctx.Err() != nil {
			continue
		}

		if !item.endOfChunk {
			if err := p.output.SendAudio(item.audio); err != nil {
				return fmt.Errorf("failed to send audio to output: %w", err)
			}
			continue
		}

		mark := "chunk-" + strconv.FormatInt(p.marks.Add(1), 10)
		played := make(chan struct{})
		var once sync.Once
		if err := p.output.Mark(mark, func(string) { once.Do(func() { close(played) }) }); err != nil {
			return fmt.Errorf("failed to mark audio output: %w", err)
		}
		select {
		case <-played:
			span.AddEvent("chunk played", trace.WithAttributes(attribute.String("mark", mark)))
		case <-ctx.Done():
		}
	}
	return nil
}

func (p *SynthesisPipeline) clear() {
	if err := p.synthesizer.Clear(); err != nil {
		logger.Warn("failed to clear synthesizer", "error", err)
	}
	p.output.ClearBuffer()
}

func (p *SynthesisPipeline) setSpeaking(speaking bool) {
	var changed bool
	if speaking {
		changed = p.active.Add(1) == 1
	} else {
		changed = p.active.Add(-1) == 0
	}
	if changed && p.onSpeakingChanged != nil {
		p.onSpeakingChanged(speaking)
	}
}
