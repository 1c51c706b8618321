package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-desk/core/audio"
	"github.com/koscakluka/ema-desk/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en-US"
)

var ErrMissingAPIKey = errors.New("deepgram api key not found")

// TranscriptionClient opens one streaming recognition session per
// Transcribe call, so independent consumers of the same microphone each get
// their own pass over the audio.
type TranscriptionClient struct {
	apiKey    string
	model     string
	language  string
	listenURL string
	dialer    *websocket.Dialer
}

type ClientOption func(*TranscriptionClient)

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithLanguage(language string) ClientOption {
	return func(c *TranscriptionClient) {
		if language != "" {
			c.language = language
		}
	}
}

// WithListenURL points the client at a different websocket endpoint.
func WithListenURL(listenURL string) ClientOption {
	return func(c *TranscriptionClient) { c.listenURL = listenURL }
}

func NewTranscriptionClient(apiKey string, opts ...ClientOption) *TranscriptionClient {
	c := &TranscriptionClient{
		apiKey:    apiKey,
		model:     defaultModel,
		language:  defaultLanguage,
		listenURL: defaultListenURL,
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe streams frames to the recognizer and reports results through
// the configured callbacks. It blocks until frames is exhausted or the
// connection fails.
func (c *TranscriptionClient) Transcribe(ctx context.Context, frames iter.Seq[[]byte], opts ...speechtotext.TranscriptionOption) (err error) {
	ctx, span := tracer.Start(ctx, "transcribe stream")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	options := speechtotext.TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}

	encoding, err := listenEncodingFor(options.EncodingInfo)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("stt.model", c.model),
		attribute.Int("stt.sample_rate", encoding.sampleRate),
	)

	conn, err := c.connectWebsocket(ctx, connectionOptions{
		encoding: encoding,

		detectSpeechStart: options.SpeechStartedCallback != nil,
		enhanceSpeechEndingDetection: options.TranscriptionCallback != nil ||
			options.SpeechEndedCallback != nil,
		interimResults: options.InterimTranscriptionCallback != nil,
	})
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}
	defer conn.Close()

	s := &session{conn: conn, options: options}
	s.lastMsgTs.Store(time.Now().UnixNano())

	silenceCtx, silenceCancel := context.WithCancel(ctx)
	defer silenceCancel()
	go s.generateSilence(silenceCtx, options.EncodingInfo)

	readerDone := make(chan error, 1)
	go func() { readerDone <- s.readAndProcessMessages() }()

	for frame := range frames {
		if err := s.sendAudio(frame); err != nil {
			return err
		}
		select {
		case err := <-readerDone:
			if err != nil {
				return err
			}
			return nil
		default:
		}
	}

	silenceCancel()
	if err := s.closeStream(); err != nil {
		logger.Warn("failed to close deepgram stream", "error", err)
	}

	select {
	case err := <-readerDone:
		return err
	case <-time.After(2 * time.Second):
		return nil
	}
}

type connectionOptions struct {
	encoding listenEncoding

	detectSpeechStart            bool
	enhanceSpeechEndingDetection bool
	interimResults               bool
}

func (c *TranscriptionClient) connectWebsocket(ctx context.Context, options connectionOptions) (*websocket.Conn, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	listenUrl, err := url.Parse(c.listenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenUrl.Query()
	options.encoding.apply(queryParams)
	queryParams.Set("model", c.model)
	queryParams.Set("language", c.language)
	queryParams.Set("smart_format", "true")
	if options.enhanceSpeechEndingDetection || options.interimResults {
		queryParams.Set("interim_results", "true")
	}
	if options.enhanceSpeechEndingDetection {
		queryParams.Set("utterance_end_ms", "1000")
	}
	queryParams.Set("endpointing", "300")
	if options.detectSpeechStart || options.enhanceSpeechEndingDetection {
		queryParams.Set("vad_events", "true")
	}

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := c.dialer.DialContext(ctx, listenUrl.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

type session struct {
	conn    *websocket.Conn
	connMu  sync.Mutex
	options speechtotext.TranscriptionOptions

	lastMsgTs atomic.Int64

	// only touched by the reader goroutine
	accumulatedTranscript string
	unendedSegment        bool
}

type controlMessage struct {
	Type string `json:"type"`
}

func (s *session) sendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.lastMsgTs.Store(time.Now().UnixNano())
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *session) sendSilence(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *session) sendKeepAlive() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteJSON(controlMessage{Type: "KeepAlive"}); err != nil {
		logger.Warn("failed to write keep alive to deepgram", "error", err)
	}
}

func (s *session) closeStream() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

func (s *session) sinceLastMessage() time.Duration {
	return time.Since(time.Unix(0, s.lastMsgTs.Load()))
}

func (s *session) readAndProcessMessages() error {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("failed to read deepgram websocket message: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg)
		}
	}
}

func (s *session) processMessage(msg []byte) {
	var parsedMsg controlMessage
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram results", "error", err)
			return
		}

		transcript := ""
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		}

		if msgResp.IsFinal {
			if len(transcript) > 0 {
				s.unendedSegment = true
				s.accumulatedTranscript += " " + transcript
				if s.options.PartialTranscriptionCallback != nil {
					s.options.PartialTranscriptionCallback(transcript)
				}
			}
			if msgResp.SpeechFinal {
				s.onSpeechEnded()
			}
		} else if len(transcript) > 0 && s.options.InterimTranscriptionCallback != nil {
			s.options.InterimTranscriptionCallback(strings.TrimSpace(s.accumulatedTranscript + " " + transcript))
		}

	case api.TypeUtteranceEndResponse:
		if s.unendedSegment {
			s.onSpeechEnded()
		}

	case api.TypeSpeechStartedResponse:
		s.unendedSegment = true
		if s.options.SpeechStartedCallback != nil {
			s.options.SpeechStartedCallback()
		}
	}
}

func (s *session) onSpeechEnded() {
	s.unendedSegment = false
	fullTranscript := strings.TrimSpace(s.accumulatedTranscript)
	s.accumulatedTranscript = ""
	if s.options.TranscriptionCallback != nil && len(fullTranscript) > 0 {
		s.options.TranscriptionCallback(fullTranscript)
	}
	if s.options.SpeechEndedCallback != nil {
		s.options.SpeechEndedCallback()
	}
}

// generateSilence keeps the endpointing alive while the microphone is
// quiet: first by streaming silence so the last utterance gets finalized,
// then by sending periodic KeepAlive messages.
func (s *session) generateSilence(ctx context.Context, encoding audio.EncodingInfo) {
	type silenceGeneratorState string
	const (
		silenceGeneratorStateWaiting   silenceGeneratorState = "waiting"
		silenceGeneratorStateSilence   silenceGeneratorState = "silence"
		silenceGeneratorStateKeepAlive silenceGeneratorState = "keepAlive"
	)

	const tick = 50 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	chunk := encoding.Silence(tick)

	state := silenceGeneratorStateWaiting
	var firstSilenceTime, lastKeepAliveTime time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch state {
			case silenceGeneratorStateWaiting:
				if s.sinceLastMessage() > tick {
					state = silenceGeneratorStateSilence
					firstSilenceTime = time.Now()
				}

			case silenceGeneratorStateSilence:
				if s.sinceLastMessage() < tick {
					state = silenceGeneratorStateWaiting
					continue
				}
				if time.Since(firstSilenceTime) >= time.Second {
					state = silenceGeneratorStateKeepAlive
					lastKeepAliveTime = time.Now()
					continue
				}

				if err := s.sendSilence(chunk); err != nil {
					logger.Warn("failed to send silence", "error", err)
				}

			case silenceGeneratorStateKeepAlive:
				if s.sinceLastMessage() < tick {
					state = silenceGeneratorStateWaiting
					continue
				}

				if time.Since(lastKeepAliveTime) >= 5*time.Second {
					lastKeepAliveTime = time.Now()
					s.sendKeepAlive()
				}
			}
		}
	}
}
