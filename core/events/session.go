package events

const (
	// KindInterruption identifies a spoken interruption.
	KindInterruption Kind = "interruption.heard"
	// KindSessionEnded identifies the end of the session.
	KindSessionEnded Kind = "session.ended"
)

// Interruption reports the phrase that cancelled the active turn.
type Interruption struct {
	Base
	Phrase string
}

func NewInterruption(phrase string) Interruption {
	return Interruption{Base: NewBase(KindInterruption), Phrase: phrase}
}

type SessionEnded struct {
	Base
	Reason string
}

func NewSessionEnded(reason string) SessionEnded {
	return SessionEnded{Base: NewBase(KindSessionEnded), Reason: reason}
}
