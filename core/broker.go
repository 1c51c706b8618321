package orchestration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/koscakluka/ema-desk/core/audio"
)

const defaultSubscriberQueueSize = 50

var (
	ErrNoAudioInput  = errors.New("no audio input configured")
	ErrBrokerClosed  = errors.New("audio broker closed")
	errCaptureExited = errors.New("audio capture stopped unexpectedly")
)

// AudioDeviceError means the capture device failed. The broker stays
// disabled for the rest of the session once it happens.
type AudioDeviceError struct {
	Err error
}

func (e *AudioDeviceError) Error() string {
	return fmt.Sprintf("audio device failed: %v", e.Err)
}

func (e *AudioDeviceError) Unwrap() error { return e.Err }

// AudioBroker owns the capture device and copies every captured frame to
// each subscriber. The device is started with the first subscription and
// stays open until Close.
type AudioBroker struct {
	input     AudioInput
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	started     bool
	err         error
}

type BrokerOption func(*AudioBroker)

// WithSubscriberQueueSize sets how many frames a subscriber may fall behind
// before its oldest frames are dropped.
func WithSubscriberQueueSize(size int) BrokerOption {
	return func(b *AudioBroker) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

func NewAudioBroker(input AudioInput, opts ...BrokerOption) *AudioBroker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &AudioBroker{
		input:       input,
		queueSize:   defaultSubscriberQueueSize,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe joins the fan-out. The subscription ends when ctx is done, when
// Close is called on it, or when the device fails.
func (b *AudioBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	if b == nil || b.input == nil {
		return nil, ErrNoAudioInput
	}

	b.mu.Lock()
	if b.err != nil {
		err := b.err
		b.mu.Unlock()
		return nil, err
	}

	sub := &Subscription{
		broker: b,
		frames: make(chan []byte, b.queueSize),
		closed: make(chan struct{}),
	}
	b.subscribers[sub] = struct{}{}
	if !b.started {
		b.started = true
		go b.capture()
	}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closed:
		}
	}()

	return sub, nil
}

func (b *AudioBroker) capture() {
	err := b.input.Capture(b.ctx, b.publish)
	if b.ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errCaptureExited
	}
	b.fail(&AudioDeviceError{Err: err})
}

func (b *AudioBroker) publish(frame []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		sub.push(bytes.Clone(frame))
	}
}

func (b *AudioBroker) fail(err error) {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return
	}
	b.err = err
	subscribers := b.subscribers
	b.subscribers = make(map[*Subscription]struct{})
	b.mu.Unlock()

	logger.Error("audio broker disabled", "error", err)
	for sub := range subscribers {
		sub.end(err)
	}
}

func (b *AudioBroker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
}

// Err returns the error that disabled the broker, if any.
func (b *AudioBroker) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.err
}

func (b *AudioBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *AudioBroker) EncodingInfo() audio.EncodingInfo {
	if b == nil || b.input == nil {
		return audio.GetDefaultEncodingInfo()
	}
	return b.input.EncodingInfo()
}

// Close stops the capture device and ends every subscription.
func (b *AudioBroker) Close() {
	b.cancel()

	b.mu.Lock()
	if b.err == nil {
		b.err = ErrBrokerClosed
	}
	subscribers := b.subscribers
	b.subscribers = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for sub := range subscribers {
		sub.end(nil)
	}
}

type Subscription struct {
	broker *AudioBroker
	frames chan []byte

	pushMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

// push enqueues frame, dropping the oldest queued frame when full.
func (s *Subscription) push(frame []byte) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	for {
		select {
		case s.frames <- frame:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

// Frames yields captured frames until the subscription ends. Each frame is
// a private copy.
func (s *Subscription) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			select {
			case <-s.closed:
				return
			case frame := <-s.frames:
				if !yield(frame) {
					return
				}
			}
		}
	}
}

// Err reports why the subscription ended if the device failed.
func (s *Subscription) Err() error {
	select {
	case <-s.closed:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) Done() <-chan struct{} { return s.closed }

func (s *Subscription) Close() {
	s.end(nil)
	s.broker.remove(s)
}

func (s *Subscription) end(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.closed)
	})
}
