package orchestration

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/koscakluka/ema-desk/core/speechtotext"
)

type TranscriptEvent struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
}

// TranscriptSource runs its own recognition pass over a broker
// subscription. Every call to Events opens a fresh subscription, so the
// source can be restarted after it ends.
type TranscriptSource struct {
	name       string
	broker     *AudioBroker
	recognizer Recognizer
}

func NewTranscriptSource(name string, broker *AudioBroker, recognizer Recognizer) *TranscriptSource {
	return &TranscriptSource{name: name, broker: broker, recognizer: recognizer}
}

// Events yields finalized transcripts until ctx is done, the consumer
// stops, or recognition ends. A terminal error is yielded last.
func (s *TranscriptSource) Events(ctx context.Context) iter.Seq2[TranscriptEvent, error] {
	return func(yield func(TranscriptEvent, error) bool) {
		if s.recognizer == nil {
			return
		}

		sub, err := s.broker.Subscribe(ctx)
		if err != nil {
			yield(TranscriptEvent{}, err)
			return
		}
		defer sub.Close()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		transcripts := make(chan TranscriptEvent, 8)
		recognitionDone := make(chan error, 1)
		go func() {
			recognitionDone <- s.recognizer.Transcribe(ctx, sub.Frames(),
				speechtotext.WithEncodingInfo(s.broker.EncodingInfo()),
				speechtotext.WithTranscriptionCallback(func(transcript string) {
					transcript = strings.TrimSpace(transcript)
					if transcript == "" {
						return
					}
					event := TranscriptEvent{Text: transcript, IsFinal: true, Timestamp: time.Now()}
					select {
					case transcripts <- event:
					case <-ctx.Done():
					}
				}),
			)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-transcripts:
				logger.Debug("final transcript", "source", s.name, "text", event.Text)
				if !yield(event, nil) {
					return
				}
			case err := <-recognitionDone:
				for drained := false; !drained; {
					select {
					case event := <-transcripts:
						if !yield(event, nil) {
							return
						}
					default:
						drained = true
					}
				}
				if err == nil {
					err = sub.Err()
				}
				if err != nil && ctx.Err() == nil {
					yield(TranscriptEvent{}, err)
				}
				return
			}
		}
	}
}
