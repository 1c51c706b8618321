package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	queue playbackQueue

	mu sync.Mutex
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, sampleRate uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	c.config.Periods = 4

	c.audioContext = audioContext

	var err error
	if c.device, err = malgo.InitDevice(
		c.audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return err
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}

	c.queue.clear()
	return nil
}

func (c *playbackClient) SendAudio(audio []byte) error {
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		return fmt.Errorf("device not started")
	}

	c.queue.push(audio)
	return nil
}

// ClearBuffer drops unplayed audio. Pending marks fire immediately so
// nothing waiting on them is left hanging.
func (c *playbackClient) ClearBuffer() {
	c.queue.clear()
}

// Mark registers callback to be called once all audio queued so far has
// been handed to the device.
func (c *playbackClient) Mark(mark string, callback func(string)) error {
	c.queue.mark(mark, callback)
	return nil
}

func (c *playbackClient) AwaitMark(ctx context.Context) error {
	done := make(chan struct{})
	c.queue.mark("", func(string) { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	c.device.Uninit()
	c.device = nil

	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame
		c.queue.drain(pOutput[:min(need, len(pOutput))])
	}
}

type playbackMark struct {
	name     string
	position int
	callback func(string)
}

type playbackQueue struct {
	audio []byte
	marks []playbackMark
	mu    sync.Mutex
}

func (q *playbackQueue) push(audio []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.audio = append(q.audio, audio...)
}

func (q *playbackQueue) mark(name string, callback func(string)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.marks = append(q.marks, playbackMark{
		name:     name,
		position: len(q.audio),
		callback: callback,
	})
}

func (q *playbackQueue) clear() {
	q.mu.Lock()
	toCall := q.marks
	q.audio = nil
	q.marks = nil
	q.mu.Unlock()

	fireMarks(toCall)
}

// drain copies as much queued audio as fits into out, zero-filling the rest,
// and fires every mark whose position has been reached.
func (q *playbackQueue) drain(out []byte) {
	q.mu.Lock()
	n := copy(out, q.audio)
	clear(out[n:])
	q.audio = q.audio[n:]

	passed := 0
	for i := range q.marks {
		if q.marks[i].position <= n {
			passed++
			continue
		}
		q.marks[i].position -= n
	}
	toCall := q.marks[:passed:passed]
	q.marks = q.marks[passed:]
	q.mu.Unlock()

	fireMarks(toCall)
}

func fireMarks(marks []playbackMark) {
	if len(marks) == 0 {
		return
	}
	go func() {
		for _, mark := range marks {
			if mark.callback != nil {
				mark.callback(mark.name)
			}
		}
	}()
}
