package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/koscakluka/ema-desk/core/tools"
	"github.com/koscakluka/ema-desk/core/tools/keyboard"
)

const (
	ackDictationEnabled     = "Voice typing enabled."
	ackDictationDisabled    = "Voice typing disabled."
	ackDictationUnavailable = "Voice typing is unavailable right now."
)

var ErrDictationUnavailable = errors.New("voice typing is disabled in the configuration")

type DictationMode int32

const (
	DictationIdle DictationMode = iota
	DictationDictating
)

func (m DictationMode) String() string {
	switch m {
	case DictationIdle:
		return "idle"
	case DictationDictating:
		return "dictating"
	}
	return "unknown"
}

// DictationState is shared by everything that needs to know whether speech
// is being typed. Only the router changes it.
type DictationState struct {
	mode atomic.Int32
}

func (s *DictationState) Mode() DictationMode { return DictationMode(s.mode.Load()) }

func (s *DictationState) transition(from, to DictationMode) bool {
	return s.mode.CompareAndSwap(int32(from), int32(to))
}

type RouteOutcome int

const (
	RouteIgnored RouteOutcome = iota
	RouteNavigation
	RouteModeTrigger
	RouteDictation
	RouteTurn
	RouteQuit
)

func (o RouteOutcome) String() string {
	switch o {
	case RouteIgnored:
		return "ignored"
	case RouteNavigation:
		return "navigation"
	case RouteModeTrigger:
		return "mode_trigger"
	case RouteDictation:
		return "dictation"
	case RouteTurn:
		return "turn"
	case RouteQuit:
		return "quit"
	}
	return "unknown"
}

// DictationRouter decides where each finalized utterance goes: key presses,
// a dictation mode change, literal typing or a new conversation turn.
type DictationRouter struct {
	state    *DictationState
	registry *tools.Registry
	enabled  bool

	startTurn    func(ctx context.Context, text string)
	acknowledge  func(ctx context.Context, text string)
	modeChanged  func(DictationMode)
	quit         func()
	ignoreAsEcho func(text string) bool
}

type routerHooks struct {
	startTurn    func(ctx context.Context, text string)
	acknowledge  func(ctx context.Context, text string)
	modeChanged  func(DictationMode)
	quit         func()
	ignoreAsEcho func(text string) bool
}

func newDictationRouter(state *DictationState, registry *tools.Registry, enabled bool, hooks routerHooks) *DictationRouter {
	r := &DictationRouter{
		state:        state,
		registry:     registry,
		enabled:      enabled,
		startTurn:    hooks.startTurn,
		acknowledge:  hooks.acknowledge,
		modeChanged:  hooks.modeChanged,
		quit:         hooks.quit,
		ignoreAsEcho: hooks.ignoreAsEcho,
	}
	if r.startTurn == nil {
		r.startTurn = func(context.Context, string) {}
	}
	if r.acknowledge == nil {
		r.acknowledge = func(context.Context, string) {}
	}
	if r.modeChanged == nil {
		r.modeChanged = func(DictationMode) {}
	}
	if r.quit == nil {
		r.quit = func() {}
	}
	return r
}

func (r *DictationRouter) Mode() DictationMode { return r.state.Mode() }

// Route handles one finalized utterance.
func (r *DictationRouter) Route(ctx context.Context, text string) RouteOutcome {
	ctx, span := tracer.Start(ctx, "route utterance")
	defer span.End()

	text = strings.TrimSpace(text)
	normalized := normalizeUtterance(text)
	if normalized == "" {
		return RouteIgnored
	}

	if phrase, keys, ok := matchNavigation(normalized); ok {
		logger.Info("navigation command", "phrase", phrase, "keys", keys, "mode", r.Mode().String())
		if err := r.callTool(ctx, keyboard.PressKeysTool, keyboard.PressKeysArgs{Keys: keys}); err != nil {
			logger.Warn("navigation command failed", "phrase", phrase, "error", err)
		}
		return RouteNavigation
	}

	switch trigger, phrase := matchTrigger(normalized); trigger {
	case startTrigger:
		changed, err := r.Enable()
		switch {
		case errors.Is(err, ErrDictationUnavailable):
			r.acknowledge(ctx, ackDictationUnavailable)
			return RouteModeTrigger
		case changed:
			r.acknowledge(ctx, ackDictationEnabled)
		}
		if remainder := textAfterPhrase(text, phrase); remainder != "" {
			r.typeText(ctx, remainder)
		}
		return RouteModeTrigger

	case stopTrigger:
		if r.Disable() {
			r.acknowledge(ctx, ackDictationDisabled)
		}
		return RouteModeTrigger
	}

	// an interrupt phrase heard while speech plays belongs to the interrupt
	// listener, in both modes
	if r.ignoreAsEcho != nil && r.ignoreAsEcho(text) {
		logger.Debug("dropping interrupt phrase echo", "text", text)
		return RouteIgnored
	}

	if r.Mode() == DictationDictating {
		r.typeText(ctx, text)
		return RouteDictation
	}

	if isQuitWord(normalized) {
		r.quit()
		return RouteQuit
	}

	r.startTurn(ctx, text)
	return RouteTurn
}

// Enable switches to dictation. It reports whether the mode changed.
func (r *DictationRouter) Enable() (bool, error) {
	if !r.enabled {
		return false, ErrDictationUnavailable
	}
	if !r.state.transition(DictationIdle, DictationDictating) {
		return false, nil
	}
	logger.Info("dictation mode changed", "mode", DictationDictating.String())
	r.modeChanged(DictationDictating)
	return true, nil
}

// Disable leaves dictation. It reports whether the mode changed.
func (r *DictationRouter) Disable() bool {
	if !r.state.transition(DictationDictating, DictationIdle) {
		return false
	}
	logger.Info("dictation mode changed", "mode", DictationIdle.String())
	r.modeChanged(DictationIdle)
	return true
}

func (r *DictationRouter) typeText(ctx context.Context, text string) {
	if err := r.callTool(ctx, keyboard.TypeTextTool, keyboard.TypeTextArgs{Text: text}); err != nil {
		logger.Warn("dictation typing failed", "error", err)
	}
}

func (r *DictationRouter) callTool(ctx context.Context, name string, args any) error {
	if r.registry == nil {
		return fmt.Errorf("%w: %s", tools.ErrToolNotFound, name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode %s arguments: %w", name, err)
	}
	_, err = r.registry.Call(ctx, name, raw)
	return err
}
