package events

const (
	// KindDictationModeChanged identifies a voice typing mode switch.
	KindDictationModeChanged Kind = "dictation.mode_changed"
	// KindAcknowledgement identifies a local reply.
	KindAcknowledgement Kind = "dictation.acknowledgement"
)

type DictationModeChanged struct {
	Base
	Mode string
}

func NewDictationModeChanged(mode string) DictationModeChanged {
	return DictationModeChanged{Base: NewBase(KindDictationModeChanged), Mode: mode}
}

// Acknowledgement is a short reply produced without the model.
type Acknowledgement struct {
	Base
	Text string
}

func NewAcknowledgement(text string) Acknowledgement {
	return Acknowledgement{Base: NewBase(KindAcknowledgement), Text: text}
}
