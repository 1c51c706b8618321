package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-desk/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Synthesize sends text to the engine and streams the produced audio to
// onAudio. It returns once the engine confirms the text has been flushed,
// or with [texttospeech.ErrCleared] if Clear dropped it first.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string, onAudio func([]byte)) (err error) {
	ctx, span := tracer.Start(ctx, "synthesize text")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("tts.voice", string(c.voice)),
		attribute.Int("tts.text_length", len(text)),
	)

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}

	req := &pendingRequest{onAudio: onAudio, done: make(chan error, 1)}
	c.setRequest(req)
	defer c.setRequest(nil)

	if err := c.sendWebsocketMessage(conn, speakMsg{Type: "Speak", Text: text}); err != nil {
		c.dropConnection(conn)
		return err
	}
	if err := c.sendWebsocketMessage(conn, flushMsg); err != nil {
		c.dropConnection(conn)
		return err
	}

	select {
	case <-ctx.Done():
		if err := c.Clear(); err != nil {
			logger.Warn("failed to clear deepgram buffer", "error", err)
		}
		return ctx.Err()
	case err := <-req.done:
		return err
	}
}

// Clear drops any text and audio the engine has not delivered yet.
func (c *TextToSpeechClient) Clear() error {
	c.finishRequest(texttospeech.ErrCleared)

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}

	return c.sendWebsocketMessage(conn, clearMsg)
}

func (c *TextToSpeechClient) connection(ctx context.Context) (*websocket.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := c.connectWebsocket(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	c.conn = conn
	go c.readAndProcessMessages(conn)

	return conn, nil
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context) (*websocket.Conn, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	speakURL, err := url.Parse(c.speakURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}
	urlValues := speakURL.Query()
	urlValues.Set("encoding", c.options.EncodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(c.options.EncodingInfo.SampleRate))
	urlValues.Set("model", string(c.voice))
	urlValues.Set("container", "none")
	speakURL.RawQuery = urlValues.Encode()

	conn, _, err := c.dialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

// dropConnection forgets conn so the next request dials again. A nil conn
// drops whatever connection is current.
func (c *TextToSpeechClient) dropConnection(conn *websocket.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil || (conn != nil && c.conn != conn) {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
}

func (c *TextToSpeechClient) readAndProcessMessages(conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("deepgram websocket read error", "error", err)
			}
			c.dropConnection(conn)
			c.finishRequest(fmt.Errorf("speech synthesis connection lost: %w", err))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) == 0 {
				continue
			}
			c.requestMu.Lock()
			req := c.request
			c.requestMu.Unlock()
			if req != nil && req.onAudio != nil {
				req.onAudio(msg)
			}
		case websocket.TextMessage:
			var parsedMsg websocketMessage
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Warn("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				c.finishRequest(nil)
			case "Cleared":
				c.finishRequest(texttospeech.ErrCleared)
			case "Warning", "Error":
				logger.Warn("deepgram reported a problem", "message", string(msg))
			}
		}
	}
}

func (c *TextToSpeechClient) setRequest(req *pendingRequest) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()
	c.request = req
}

func (c *TextToSpeechClient) finishRequest(err error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()
	if c.request == nil {
		return
	}
	select {
	case c.request.done <- err:
	default:
	}
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func (c *TextToSpeechClient) sendWebsocketMessage(conn *websocket.Conn, msg any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != conn || conn == nil {
		return fmt.Errorf("websocket connection closed")
	}

	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
