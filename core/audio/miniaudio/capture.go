package miniaudio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// ErrCaptureLost is returned by Capture when the microphone stops without
// being asked to, usually because it was unplugged.
var ErrCaptureLost = errors.New("capture device stopped unexpectedly")

// captureClient opens a fresh capture device for every capture session so
// a device that went away can be picked up again by the next session.
type captureClient struct {
	audioContext *malgo.AllocatedContext
	config       malgo.DeviceConfig
	frameBytes   int

	mu     sync.Mutex
	device *malgo.Device
	// set while a requested stop is in progress, any other device stop
	// means the device was lost
	stopping atomic.Bool
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, sampleRate uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sampleRate == 0 {
		return fmt.Errorf("capture sample rate is required")
	}

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = sampleRate
	c.config.Capture.Format = malgo.FormatS16
	c.config.Capture.Channels = 1
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = sampleRate / 50 // 20ms frames
	c.config.Periods = 3

	c.frameBytes = malgo.SampleSizeInBytes(malgo.FormatS16)
	c.audioContext = audioContext
	return nil
}

// Start opens the device and delivers every captured period to onAudio. The
// returned channel is closed if the device is lost.
func (c *captureClient) Start(onAudio func(audio []byte)) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.audioContext == nil {
		return nil, fmt.Errorf("capture not initialized")
	} else if c.device != nil {
		return nil, fmt.Errorf("capture already started")
	}

	lost := make(chan struct{})
	var lostOnce sync.Once
	c.stopping.Store(false)

	frameBytes := c.frameBytes
	device, err := malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * frameBytes
			if n == 0 || len(input) < n {
				return
			}
			onAudio(input[:n])
		},
		Stop: func() {
			if c.stopping.Load() {
				return
			}
			logger.Warn("capture device stopped unexpectedly")
			lostOnce.Do(func() { close(lost) })
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	c.device = device
	return lost, nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}

	c.stopping.Store(true)
	var err error
	if c.device.IsStarted() {
		if stopErr := c.device.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop capture device: %w", stopErr)
		}
	}
	c.device.Uninit()
	c.device = nil
	return err
}

func (c *captureClient) Uninit() error {
	return c.Stop()
}
