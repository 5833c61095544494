package media

import "github.com/looplab/fsm"

// Transmitter lifecycle states (spec §4.7): a Leg starts Idle, becomes
// Starting while its sockets and goroutines come up, Active once packets
// are flowing, and Stopping while torn down before returning to Idle.
const (
	TransmitterIdle     = "idle"
	TransmitterStarting = "starting"
	TransmitterActive   = "active"
	TransmitterStopping = "stopping"
)

type transmitterFSM struct {
	*fsm.FSM
}

// newTransmitterFSM wraps looplab/fsm with the Idle->Starting->Active and
// Stopping->Idle transitions a Leg drives through Start/Stop.
func newTransmitterFSM() *transmitterFSM {
	return &transmitterFSM{fsm.NewFSM(
		TransmitterIdle,
		fsm.Events{
			{Name: "start", Src: []string{TransmitterIdle}, Dst: TransmitterStarting},
			{Name: "activate", Src: []string{TransmitterStarting}, Dst: TransmitterActive},
			{Name: "stop", Src: []string{TransmitterActive, TransmitterStarting}, Dst: TransmitterStopping},
			{Name: "stopped", Src: []string{TransmitterStopping}, Dst: TransmitterIdle},
		}, nil,
	)}
}
