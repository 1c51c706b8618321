package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const listenerRestartDelay = time.Second

// InterruptListener watches its own transcript stream for interrupt
// phrases. When speakingOnly is set it only listens while the synthesis
// pipeline is playing, otherwise for the whole session.
type InterruptListener struct {
	source       *TranscriptSource
	phrases      []string
	speakingOnly bool
	onInterrupt  func(phrase string)

	mu      sync.Mutex
	baseCtx context.Context
	stop    context.CancelFunc
	buffer  strings.Builder
	failed  bool
}

func NewInterruptListener(source *TranscriptSource, phrases []string, speakingOnly bool, onInterrupt func(phrase string)) *InterruptListener {
	normalized := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		if phrase = strings.ToLower(strings.TrimSpace(phrase)); phrase != "" {
			normalized = append(normalized, phrase)
		}
	}
	return &InterruptListener{
		source:       source,
		phrases:      normalized,
		speakingOnly: speakingOnly,
		onInterrupt:  onInterrupt,
	}
}

// Run blocks for the session.
func (l *InterruptListener) Run(ctx context.Context) error {
	if l.source == nil || len(l.phrases) == 0 {
		<-ctx.Done()
		return nil
	}

	l.mu.Lock()
	l.baseCtx = ctx
	l.mu.Unlock()

	if !l.speakingOnly {
		for ctx.Err() == nil && !l.hasFailed() {
			l.listen(ctx)
			select {
			case <-ctx.Done():
			case <-time.After(listenerRestartDelay):
			}
		}
		<-ctx.Done()
		return nil
	}

	<-ctx.Done()
	l.SetSpeaking(false)
	return nil
}

// SetSpeaking attaches the listener to the broker while speech is playing
// and detaches it afterwards. It is a no-op unless speakingOnly is set.
func (l *InterruptListener) SetSpeaking(speaking bool) {
	if !l.speakingOnly {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !speaking {
		l.buffer.Reset()
		if l.stop != nil {
			l.stop()
			l.stop = nil
		}
		return
	}

	if l.stop != nil || l.baseCtx == nil || l.baseCtx.Err() != nil || l.failed {
		return
	}
	ctx, stop := context.WithCancel(l.baseCtx)
	l.stop = stop
	go l.listen(ctx)
}

func (l *InterruptListener) listen(ctx context.Context) {
	for event, err := range l.source.Events(ctx) {
		if err != nil {
			var deviceErr *AudioDeviceError
			if errors.As(err, &deviceErr) || errors.Is(err, ErrNoAudioInput) {
				l.mu.Lock()
				l.failed = true
				l.mu.Unlock()
			}
			logger.Warn("interrupt listener stopped", "error", err)
			return
		}
		if !event.IsFinal {
			continue
		}
		if phrase, ok := l.observe(event.Text); ok {
			logger.Info("interrupt phrase heard", "phrase", phrase)
			if l.onInterrupt != nil {
				l.onInterrupt(phrase)
			}
		}
	}
}

func (l *InterruptListener) hasFailed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

// observe adds a final transcript to the match buffer and checks it. The
// buffer is cleared on a match.
func (l *InterruptListener) observe(text string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buffer.Len() > 0 {
		l.buffer.WriteByte(' ')
	}
	l.buffer.WriteString(strings.ToLower(text))

	phrase, ok := l.Match(l.buffer.String())
	if ok {
		l.buffer.Reset()
	} else if l.buffer.Len() > maxSpokenChunkLength {
		l.buffer.Reset()
	}
	return phrase, ok
}

// Match returns the first configured phrase contained in text.
func (l *InterruptListener) Match(text string) (string, bool) {
	text = strings.ToLower(text)
	for _, phrase := range l.phrases {
		if strings.Contains(text, phrase) {
			return phrase, true
		}
	}
	return "", false
}

// IsInterruptPhrase reports whether text is nothing but an interrupt phrase.
func (l *InterruptListener) IsInterruptPhrase(text string) bool {
	text = normalizeUtterance(text)
	for _, phrase := range l.phrases {
		if text == phrase {
			return true
		}
	}
	return false
}
