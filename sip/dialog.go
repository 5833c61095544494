package sip

// DialogState is the RFC 3261 dialog lifecycle state.
type DialogState int32

const (
	// Dialog sent/received a provisional response carrying a remote tag
	DialogStateEarly DialogState = iota
	// Dialog received 200 response
	DialogStateEstablished
	// Dialog received ACK
	DialogStateConfirmed
	// Dialog received BYE
	DialogStateEnded
)

func (s DialogState) String() string {
	switch s {
	case DialogStateEarly:
		return "Early"
	case DialogStateEstablished:
		return "Established"
	case DialogStateConfirmed:
		return "Confirmed"
	case DialogStateEnded:
		return "Ended"
	default:
		return "Unknown"
	}
}

// Dialog is a lightweight dialog-state event published for observers
// (see ServerDialog.OnDialog); it is distinct from the root package's
// Dialog coordinator type.
type Dialog struct {
	ID    string
	State DialogState
}

// StateString returns the human-readable name of d.State, for logging call
// sites that don't want to import DialogState just to print it.
func (d Dialog) StateString() string {
	return d.State.String()
}
