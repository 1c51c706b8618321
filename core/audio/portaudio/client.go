package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-desk/core/audio"
)

const DefaultBufferSize = 1024

// Client is a capture-only PortAudio input. Use it as the broker input
// on hosts where miniaudio cannot open the default microphone.
type Client struct {
	bufferSize int
	sampleRate int
	stream     *portaudio.Stream
	in         []int16

	mu sync.Mutex
}

func NewClient(sampleRate, bufferSize int) (*Client, error) {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), bufferSize, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		sampleRate: sampleRate,
		stream:     stream,
		in:         in,
	}, nil
}

// Capture reads from the default input until ctx is done. A read failure
// is returned so the caller can treat the device as gone.
func (c *Client) Capture(ctx context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}
	defer c.stream.Stop()

	audioBuffer := bytes.Buffer{}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.stream.Read(); err != nil {
			return fmt.Errorf("failed to read from portaudio stream: %w", err)
		}

		audioBuffer.Reset()
		if err := binary.Write(&audioBuffer, binary.LittleEndian, c.in); err != nil {
			return fmt.Errorf("failed to encode captured audio: %w", err)
		}
		onAudio(audioBuffer.Bytes())
	}
}

func (c *Client) Close() {
	c.stream.Close()
	portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: c.sampleRate,
		Format:     audio.EncodingLinear16,
	}
}
