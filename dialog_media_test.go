package voipcore

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/voipstack/corevoip/media"
	"github.com/voipstack/corevoip/sdpneg"
)

func newMediaSessionForTest(t *testing.T, legID string) (*MediaSession, *media.Controller, *media.PortPool) {
	t.Helper()
	pool := media.NewPortPool(22000, 22100)
	ctl := media.NewController(pool, zerolog.Nop())
	alloc := media.NewSDPAllocator(pool, "198.51.100.1")
	ms := NewMediaSession(ctl, legID, []sdpneg.CodecCapability{oaPCMU}, alloc, "198.51.100.1", 8000)
	return ms, ctl, pool
}

// A re-INVITE renegotiating an already-open leg must update it in place
// (same *media.Leg instance, new remote endpoint/direction applied) rather
// than tearing the socket down and reopening it, and must release the
// surplus port the renegotiation round allocates rather than leak it.
func TestOpenNegotiatedLegReusesLegAndReleasesSurplusPortOnRenegotiation(t *testing.T) {
	ms, ctl, pool := newMediaSessionForTest(t, "call-reinvite-1")
	defer ms.Close()

	_, _, err := ms.NegotiateRemoteOfferSDP(mustMarshalSDP(t, remoteOfferPCMU()))
	require.NoError(t, err)

	leg, ok := ctl.Leg("call-reinvite-1")
	require.True(t, ok)
	require.Equal(t, sdpneg.DirectionSendRecv, leg.Direction())

	before := pool.Available()

	// the remote offers "sendonly" (it will only send, not receive), so the
	// negotiated local direction answers "recvonly": this leg must stop
	// sending immediately.
	holdOffer := remoteOfferPCMU()
	holdOffer.MediaDescriptions[0].Attributes = []sdp.Attribute{
		{Key: "rtpmap", Value: "0 PCMU/8000"},
		sdp.NewPropertyAttribute("sendonly"),
	}
	_, _, err = ms.NegotiateRemoteOfferSDP(mustMarshalSDP(t, holdOffer))
	require.NoError(t, err)

	sameLeg, ok := ctl.Leg("call-reinvite-1")
	require.True(t, ok)
	require.Same(t, leg, sameLeg)
	require.Equal(t, sdpneg.DirectionRecvOnly, sameLeg.Direction())
	require.False(t, sameLeg.CanSend())

	// the renegotiation round allocated and then released a port for the
	// reused media line; pool availability must be unchanged.
	require.Equal(t, before, pool.Available())
}

func mustMarshalSDP(t *testing.T, sd *sdp.SessionDescription) []byte {
	t.Helper()
	body, err := sd.Marshal()
	require.NoError(t, err)
	return body
}
