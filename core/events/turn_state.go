package events

// KindTurnStatusChanged identifies a turn status transition.
const KindTurnStatusChanged Kind = "turn_state.status_changed"

// TurnStatusChanged reports the new status of turn TurnID. Message is set
// for a failed turn and is safe to show to the user.
type TurnStatusChanged struct {
	Base
	TurnID  string
	Status  string
	Message string
}

// NewTurnStatusChanged creates a turn status event.
func NewTurnStatusChanged(turnID, status, message string) TurnStatusChanged {
	return TurnStatusChanged{Base: NewBase(KindTurnStatusChanged), TurnID: turnID, Status: status, Message: message}
}

// IsTerminal reports whether the turn is over.
func (e TurnStatusChanged) IsTerminal() bool {
	switch e.Status {
	case "completed", "cancelled", "failed":
		return true
	}
	return false
}
