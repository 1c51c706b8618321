package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-desk/core/audio"
)

// Client owns one malgo context with a capture and a playback device. It
// serves as the microphone for the audio broker and as the speaker for the
// synthesis pipeline.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo
	playbackClient
	captureClient
}

func NewClient(sampleRate int) (*Client, error) {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encoding:     audio.EncodingInfo{SampleRate: sampleRate, Format: audio.EncodingLinear16},
	}

	if err := client.playbackClient.Init(audioCtx, uint32(sampleRate)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := client.captureClient.Init(audioCtx, uint32(sampleRate)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

// Capture records from the default microphone until ctx is done. Losing
// the device ends the capture with ErrCaptureLost.
func (c *Client) Capture(ctx context.Context, onAudio func(audio []byte)) error {
	lost, err := c.captureClient.Start(onAudio)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return c.captureClient.Stop()
	case <-lost:
		_ = c.captureClient.Stop()
		return ErrCaptureLost
	}
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}
