package deepgram

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-desk/core/audio"
	"github.com/koscakluka/ema-desk/core/texttospeech"
)

const defaultSpeakURL = "wss://api.deepgram.com/v1/speak"

var ErrMissingAPIKey = errors.New("deepgram api key not found")

// TextToSpeechClient keeps one websocket to the speak endpoint open and
// synthesizes one chunk of text at a time over it.
type TextToSpeechClient struct {
	apiKey   string
	voice    Voice
	speakURL string
	dialer   *websocket.Dialer
	options  texttospeech.TextToSpeechOptions

	// serializes Synthesize calls
	mu sync.Mutex

	connMu sync.Mutex
	conn   *websocket.Conn

	requestMu sync.Mutex
	request   *pendingRequest
}

type pendingRequest struct {
	onAudio func([]byte)
	done    chan error
}

type ClientOption func(*TextToSpeechClient)

func WithSpeakURL(speakURL string) ClientOption {
	return func(c *TextToSpeechClient) { c.speakURL = speakURL }
}

func WithSynthesisOptions(opts ...texttospeech.TextToSpeechOption) ClientOption {
	return func(c *TextToSpeechClient) {
		for _, opt := range opts {
			opt(&c.options)
		}
	}
}

func NewTextToSpeechClient(apiKey string, voice Voice, opts ...ClientOption) (*TextToSpeechClient, error) {
	if voice == "" {
		voice = defaultVoice
	}
	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice %q", voice)
	}

	client := &TextToSpeechClient{
		apiKey:   apiKey,
		voice:    voice,
		speakURL: defaultSpeakURL,
		dialer:   websocket.DefaultDialer,
		options: texttospeech.TextToSpeechOptions{
			EncodingInfo: audio.GetDefaultEncodingInfo(),
		},
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice Voice) error {
	if !slices.Contains(GetAvailableVoices(), voice) {
		return fmt.Errorf("invalid voice %q", voice)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = voice
	c.dropConnection(nil)
	return nil
}

func (c *TextToSpeechClient) EncodingInfo() audio.EncodingInfo {
	return c.options.EncodingInfo
}

// Close asks the server to finish the stream and closes the websocket.
func (c *TextToSpeechClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteJSON(closeMsg)
	if closeErr := c.conn.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	c.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}
