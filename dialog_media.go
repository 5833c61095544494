package voipcore

import (
	"fmt"

	"github.com/pion/sdp/v3"

	"github.com/voipstack/corevoip/media"
	"github.com/voipstack/corevoip/sdpneg"
)

// mediaSessionKey is the key a dialog's bound MediaSession is stored under
// via Dialog.Store/Load, keeping MediaSession out of the Dialog struct
// itself since not every dialog carries media (e.g. MESSAGE-only UAs).
const mediaSessionKey = "media_session"

// MediaSession binds one dialog's offer/answer negotiation to the RTP leg
// it controls once negotiated. A dialog acquires one before sending or
// accepting an offer, and releases it (via Close) when the dialog ends.
type MediaSession struct {
	oa         *OfferAnswer
	controller *media.Controller
	legID      string
	clockRate  int

	// onStarted, if set, is called after a negotiated leg's audio
	// transmitter has been moved to Active (spec §4.7's
	// Idle->Starting->Active transition, which requires the remote
	// address/port a completed negotiation supplies).
	onStarted func(legID string)
}

// NewMediaSession prepares a dialog's media session. legID should uniquely
// identify the dialog (its eventual Dialog.ID) so the same id can be reused
// to open the RTP leg once negotiation settles the remote address/port.
func NewMediaSession(controller *media.Controller, legID string, localCaps []sdpneg.CodecCapability, alloc sdpneg.PortAllocator, originAddr string, clockRate int) *MediaSession {
	return &MediaSession{
		oa:         NewOfferAnswer(localCaps, alloc, originAddr),
		controller: controller,
		legID:      legID,
		clockRate:  clockRate,
	}
}

// OnMediaStarted registers a callback fired once this session's RTP leg
// becomes active. Intended for wiring the "media.started" event bus topic
// (spec §4.8); at most one callback is kept.
func (ms *MediaSession) OnMediaStarted(f func(legID string)) {
	ms.onStarted = f
}

// AttachMediaSession stores ms on d so later stages of the same dialog
// (ACK handling, BYE, re-INVITE) can retrieve it with DialogMediaSession.
func AttachMediaSession(d *Dialog, ms *MediaSession) {
	d.Store(mediaSessionKey, ms)
}

// DialogMediaSession retrieves the MediaSession previously attached to d,
// if any.
func DialogMediaSession(d *Dialog) (*MediaSession, bool) {
	v, ok := d.Load(mediaSessionKey)
	if !ok {
		return nil, false
	}
	ms, ok := v.(*MediaSession)
	return ms, ok
}

// BuildLocalOfferSDP builds a local SDP offer and serializes it for use as
// an INVITE (or re-INVITE) body.
func (ms *MediaSession) BuildLocalOfferSDP() ([]byte, error) {
	offer, err := ms.oa.BeginLocalOffer()
	if err != nil {
		return nil, err
	}
	return offer.Marshal()
}

// ApplyRemoteAnswerSDP parses body as the answer to the offer most recently
// built by BuildLocalOfferSDP, then opens the RTP leg for the negotiated
// media once the peer's address and port are known.
func (ms *MediaSession) ApplyRemoteAnswerSDP(body []byte) ([]sdpneg.NegotiatedMedia, error) {
	var answer sdp.SessionDescription
	if err := answer.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("voipcore: parsing SDP answer: %w", err)
	}
	results, err := ms.oa.ApplyRemoteAnswer(&answer)
	if err != nil {
		return nil, err
	}
	if err := ms.openNegotiatedLeg(results); err != nil {
		return nil, err
	}
	return results, nil
}

// NegotiateRemoteOfferSDP parses an inbound offer, negotiates it against
// this session's local capabilities, opens the RTP leg for the result, and
// returns the answer SDP to place in the accepting response's body.
func (ms *MediaSession) NegotiateRemoteOfferSDP(body []byte) ([]byte, []sdpneg.NegotiatedMedia, error) {
	var offer sdp.SessionDescription
	if err := offer.Unmarshal(body); err != nil {
		return nil, nil, fmt.Errorf("voipcore: parsing SDP offer: %w", err)
	}
	answer, results, err := ms.oa.ReceiveRemoteOffer(&offer)
	if err != nil {
		return nil, nil, err
	}
	if err := ms.openNegotiatedLeg(results); err != nil {
		return nil, nil, err
	}
	answerBody, err := answer.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("voipcore: marshaling SDP answer: %w", err)
	}
	return answerBody, results, nil
}

// openNegotiatedLeg (re)applies the first accepted media line's negotiated
// endpoint and direction. Non-rejected media only (LocalPort != 0); a
// rejected-all negotiation leaves no leg open. If a leg is already open for
// this dialog (a re-INVITE renegotiating an established call), its remote
// endpoint and direction are updated in place via Controller.Update instead
// of tearing down and rebinding sockets: spec scenario 6 requires a hold
// re-INVITE to stop outbound audio within one packetization interval, which
// direction-gating on the existing leg satisfies far more promptly than a
// Close+Open socket rebind would.
func (ms *MediaSession) openNegotiatedLeg(results []sdpneg.NegotiatedMedia) error {
	for _, m := range results {
		if m.LocalPort == 0 {
			continue
		}

		if _, ok := ms.controller.Leg(ms.legID); ok {
			// A re-INVITE's negotiation round allocates a fresh local port
			// for this media line same as a first negotiation would; since
			// the existing leg's socket is kept instead of being rebound to
			// it, release it back to the pool rather than leaking it.
			ms.oa.Allocator().Release(m.LocalPort)
			ms.controller.Update(ms.legID, m.RemoteAddr, m.RemotePort, m.Direction)
			return nil
		}

		leg, err := ms.controller.Open(ms.legID, m.LocalPort, m.RemoteAddr, m.RemotePort, ms.clockRate, m.RTCPMux, m.Direction)
		if err != nil {
			return err
		}
		if err := leg.Start(); err != nil {
			return fmt.Errorf("voipcore: starting rtp leg: %w", err)
		}
		if ms.onStarted != nil {
			ms.onStarted(ms.legID)
		}
		return nil
	}
	return nil
}

// Leg returns the RTP leg bound to this session's negotiated media, if one
// has been opened yet.
func (ms *MediaSession) Leg() (*media.Leg, bool) {
	return ms.controller.Leg(ms.legID)
}

// State returns the underlying offer/answer machine's current state.
func (ms *MediaSession) State() string {
	return ms.oa.State()
}

// Close stops the RTP leg and returns the leg's port to the pool. Ports
// reserved for an offer that was never answered are not released here.
func (ms *MediaSession) Close() {
	ms.controller.Close(ms.legID)
}
