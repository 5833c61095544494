package voipcore

import (
	"fmt"
	"sync"

	"github.com/looplab/fsm"
	"github.com/pion/sdp/v3"

	"github.com/voipstack/corevoip/sdpneg"
)

// Offer/answer states (spec §4.4/§9): a dialog starts with no media
// negotiated, moves to one of the two "offer outstanding" states while
// exactly one offer is in flight, and settles on Negotiated once the
// matching answer has been applied. Renegotiating covers a later
// re-INVITE/UPDATE cycle from an already-Negotiated dialog.
const (
	OAIdle                 = "idle"
	OALocalOfferSent       = "local_offer_sent"
	OARemoteOfferReceived  = "remote_offer_received"
	OANegotiated           = "negotiated"
	OARenegotiatingLocal   = "renegotiating_local"
	OARenegotiatingRemote  = "renegotiating_remote"
)

// OfferAnswer drives one dialog's SDP offer/answer state machine. Only one
// offer may be outstanding at a time per RFC 3264 §5; callers attempting a
// second offer while one is already pending get ErrOfferAlreadyPending.
// The SDP answer is applied automatically as soon as it's available (on
// the inbound 2xx for an offer we sent, or when building our own 2xx for
// an offer we received) rather than needing a separate commit call.
type OfferAnswer struct {
	mu sync.Mutex

	machine *fsm.FSM

	localCaps  []sdpneg.CodecCapability
	alloc      sdpneg.PortAllocator
	originAddr string

	pending    *sdpneg.PendingOffer
	negotiated []sdpneg.NegotiatedMedia
}

var ErrOfferAlreadyPending = fmt.Errorf("voipcore: an offer is already outstanding on this dialog")

// NewOfferAnswer constructs the offer/answer machine for one dialog's
// media, preconfigured with the local codec set and port allocator it will
// negotiate against.
func NewOfferAnswer(localCaps []sdpneg.CodecCapability, alloc sdpneg.PortAllocator, originAddr string) *OfferAnswer {
	return &OfferAnswer{
		localCaps:  localCaps,
		alloc:      alloc,
		originAddr: originAddr,
		machine: fsm.NewFSM(
			OAIdle,
			fsm.Events{
				{Name: "send_offer", Src: []string{OAIdle}, Dst: OALocalOfferSent},
				{Name: "apply_answer", Src: []string{OALocalOfferSent, OARenegotiatingLocal}, Dst: OANegotiated},
				{Name: "receive_offer", Src: []string{OAIdle}, Dst: OARemoteOfferReceived},
				{Name: "answer_sent", Src: []string{OARemoteOfferReceived, OARenegotiatingRemote}, Dst: OANegotiated},
				{Name: "renegotiate_local", Src: []string{OANegotiated}, Dst: OARenegotiatingLocal},
				{Name: "renegotiate_remote", Src: []string{OANegotiated}, Dst: OARenegotiatingRemote},
			}, nil,
		),
	}
}

// State returns the machine's current offer/answer state.
func (oa *OfferAnswer) State() string {
	oa.mu.Lock()
	defer oa.mu.Unlock()
	return oa.machine.Current()
}

// Negotiated returns the last successfully negotiated media, or nil if
// negotiation hasn't completed yet.
func (oa *OfferAnswer) Negotiated() []sdpneg.NegotiatedMedia {
	oa.mu.Lock()
	defer oa.mu.Unlock()
	return oa.negotiated
}

// Allocator returns the port allocator this machine negotiates against, so
// a caller can release a port a renegotiation round allocated but ended up
// not using (e.g. updating an already-open leg in place instead of
// (re)opening it on the newly allocated port).
func (oa *OfferAnswer) Allocator() sdpneg.PortAllocator {
	return oa.alloc
}

// BeginLocalOffer builds an outbound SDP offer (for an initial INVITE or a
// later re-INVITE/UPDATE) and moves the machine into the matching
// offer-outstanding state. It fails if an offer is already outstanding.
func (oa *OfferAnswer) BeginLocalOffer() (*sdp.SessionDescription, error) {
	oa.mu.Lock()
	defer oa.mu.Unlock()

	event := "send_offer"
	if oa.machine.Current() == OANegotiated {
		event = "renegotiate_local"
	}
	if err := oa.machine.Event(event); err != nil {
		return nil, ErrOfferAlreadyPending
	}

	offer, pending, err := sdpneg.BuildOffer(oa.originAddr, oa.localCaps, oa.alloc)
	if err != nil {
		return nil, err
	}
	oa.pending = pending
	return offer, nil
}

// ApplyRemoteAnswer applies an inbound answer to the offer BeginLocalOffer
// most recently built, settling the machine into Negotiated.
func (oa *OfferAnswer) ApplyRemoteAnswer(answer *sdp.SessionDescription) ([]sdpneg.NegotiatedMedia, error) {
	oa.mu.Lock()
	defer oa.mu.Unlock()

	if err := oa.machine.Event("apply_answer"); err != nil {
		return nil, fmt.Errorf("voipcore: no outstanding local offer to answer: %w", err)
	}

	results, err := sdpneg.ApplyAnswer(oa.pending, answer, oa.alloc)
	if err != nil {
		return nil, err
	}
	oa.negotiated = results
	oa.pending = nil
	return results, nil
}

// ReceiveRemoteOffer negotiates an inbound offer and returns the answer to
// include in the response that accepts it (typically the 2xx final
// response, applying the negotiated media at the same moment that answer
// is sent, rather than waiting for a separate ACK-triggered step).
func (oa *OfferAnswer) ReceiveRemoteOffer(offer *sdp.SessionDescription) (*sdp.SessionDescription, []sdpneg.NegotiatedMedia, error) {
	oa.mu.Lock()
	defer oa.mu.Unlock()

	event := "receive_offer"
	if oa.machine.Current() == OANegotiated {
		event = "renegotiate_remote"
	}
	if err := oa.machine.Event(event); err != nil {
		return nil, nil, ErrOfferAlreadyPending
	}

	answer, results, err := sdpneg.Negotiate(offer, oa.localCaps, oa.originAddr, oa.alloc)
	if err != nil {
		// Roll back to the prior state: a failed negotiation leaves no
		// offer outstanding, and the caller still owes the peer some
		// final response (typically 488 Not Acceptable Here).
		oa.machine.SetState(oa.priorAnswerState())
		return nil, nil, err
	}

	if err := oa.machine.Event("answer_sent"); err != nil {
		return nil, nil, err
	}
	oa.negotiated = results
	return answer, results, nil
}

func (oa *OfferAnswer) priorAnswerState() string {
	if len(oa.negotiated) > 0 {
		return OANegotiated
	}
	return OAIdle
}
