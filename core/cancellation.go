package orchestration

import (
	"context"
	"sync/atomic"
)

// CancellationSignal is raised once to stop a turn and its synthesis run.
// Raising it again has no effect.
type CancellationSignal struct {
	raised atomic.Bool
	done   chan struct{}
}

func NewCancellationSignal() *CancellationSignal {
	return &CancellationSignal{done: make(chan struct{})}
}

// Raise reports whether this call was the one that raised the signal.
func (s *CancellationSignal) Raise() bool {
	if s == nil || !s.raised.CompareAndSwap(false, true) {
		return false
	}
	close(s.done)
	return true
}

func (s *CancellationSignal) Raised() bool {
	return s != nil && s.raised.Load()
}

func (s *CancellationSignal) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}

// Bind returns a context that is cancelled when either ctx is done or the
// signal is raised.
func (s *CancellationSignal) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if s == nil {
		return ctx, cancel
	}
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// cancellationSlot holds the signal of the active turn. Starting a turn
// swaps in a fresh signal.
type cancellationSlot struct {
	current atomic.Pointer[CancellationSignal]
}

func (s *cancellationSlot) begin() *CancellationSignal {
	signal := NewCancellationSignal()
	s.current.Store(signal)
	return signal
}

func (s *cancellationSlot) active() *CancellationSignal {
	return s.current.Load()
}

func (s *cancellationSlot) raise() bool {
	return s.current.Load().Raise()
}
