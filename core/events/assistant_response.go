package events

// KindTextDelta identifies a streamed reply segment.
const KindTextDelta Kind = "assistant_response.text_delta"

// TextDelta is an append-only piece of the reply of turn TurnID.
type TextDelta struct {
	Base
	TurnID string
	Text   string
}

// NewTextDelta creates a text delta event.
func NewTextDelta(turnID, text string) TextDelta {
	return TextDelta{Base: NewBase(KindTextDelta), TurnID: turnID, Text: text}
}
