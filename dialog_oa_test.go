package voipcore

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"

	"github.com/voipstack/corevoip/sdpneg"
)

type oaFakeAllocator struct{ next int }

func (f *oaFakeAllocator) Allocate() (sdpneg.Allocation, error) {
	f.next += 2
	return sdpneg.Allocation{Address: "127.0.0.1", RTPPort: 20000 + f.next}, nil
}

func (f *oaFakeAllocator) Release(int) {}

var oaPCMU = sdpneg.CodecCapability{PayloadType: 0, Name: "PCMU", ClockRate: 8000}

func remoteOfferPCMU() *sdp.SessionDescription {
	return &sdp.SessionDescription{
		Origin: sdp.Origin{UnicastAddress: "192.0.2.10"},
		ConnectionInformation: &sdp.ConnectionInformation{
			Address: &sdp.Address{Address: "192.0.2.10"},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: 30000},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"0"},
				},
				ConnectionInformation: &sdp.ConnectionInformation{
					Address: &sdp.Address{Address: "192.0.2.10"},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "0 PCMU/8000"},
					sdp.NewPropertyAttribute("sendrecv"),
				},
			},
		},
	}
}

func remoteAnswerPCMU(port int) *sdp.SessionDescription {
	ans := remoteOfferPCMU()
	ans.MediaDescriptions[0].MediaName.Port = sdp.RangedPort{Value: port}
	return ans
}

func TestOfferAnswerLocalOfferThenAnswer(t *testing.T) {
	oa := NewOfferAnswer([]sdpneg.CodecCapability{oaPCMU}, &oaFakeAllocator{}, "198.51.100.1")
	require.Equal(t, OAIdle, oa.State())

	offer, err := oa.BeginLocalOffer()
	require.NoError(t, err)
	require.Equal(t, OALocalOfferSent, oa.State())
	require.NotNil(t, offer)

	results, err := oa.ApplyRemoteAnswer(remoteAnswerPCMU(40000))
	require.NoError(t, err)
	require.Equal(t, OANegotiated, oa.State())
	require.Len(t, results, 1)
	require.Equal(t, 40000, results[0].RemotePort)
	require.Equal(t, results, oa.Negotiated())
}

func TestOfferAnswerSecondLocalOfferRejectedWhilePending(t *testing.T) {
	oa := NewOfferAnswer([]sdpneg.CodecCapability{oaPCMU}, &oaFakeAllocator{}, "198.51.100.1")

	_, err := oa.BeginLocalOffer()
	require.NoError(t, err)

	_, err = oa.BeginLocalOffer()
	require.ErrorIs(t, err, ErrOfferAlreadyPending)
}

func TestOfferAnswerReceiveRemoteOfferProducesAnswer(t *testing.T) {
	oa := NewOfferAnswer([]sdpneg.CodecCapability{oaPCMU}, &oaFakeAllocator{}, "198.51.100.1")

	answer, results, err := oa.ReceiveRemoteOffer(remoteOfferPCMU())
	require.NoError(t, err)
	require.Equal(t, OANegotiated, oa.State())
	require.NotNil(t, answer)
	require.Len(t, results, 1)
}

func TestOfferAnswerReceiveRemoteOfferFailureRollsBackState(t *testing.T) {
	oa := NewOfferAnswer([]sdpneg.CodecCapability{oaPCMU}, &oaFakeAllocator{}, "198.51.100.1")

	unsupported := remoteOfferPCMU()
	unsupported.MediaDescriptions[0].MediaName.Formats = []string{"97"}
	unsupported.MediaDescriptions[0].Attributes = []sdp.Attribute{{Key: "rtpmap", Value: "97 H264/90000"}}

	_, _, err := oa.ReceiveRemoteOffer(unsupported)
	require.Error(t, err)
	require.Equal(t, OAIdle, oa.State())

	// a later, acceptable offer still succeeds since the machine rolled back
	_, _, err = oa.ReceiveRemoteOffer(remoteOfferPCMU())
	require.NoError(t, err)
	require.Equal(t, OANegotiated, oa.State())
}

func TestOfferAnswerRenegotiateLocalAfterNegotiated(t *testing.T) {
	oa := NewOfferAnswer([]sdpneg.CodecCapability{oaPCMU}, &oaFakeAllocator{}, "198.51.100.1")
	_, _, err := oa.ReceiveRemoteOffer(remoteOfferPCMU())
	require.NoError(t, err)
	require.Equal(t, OANegotiated, oa.State())

	_, err = oa.BeginLocalOffer()
	require.NoError(t, err)
	require.Equal(t, OARenegotiatingLocal, oa.State())

	results, err := oa.ApplyRemoteAnswer(remoteAnswerPCMU(40002))
	require.NoError(t, err)
	require.Equal(t, OANegotiated, oa.State())
	require.Equal(t, 40002, results[0].RemotePort)
}

func TestOfferAnswerRenegotiateRemoteAfterNegotiated(t *testing.T) {
	oa := NewOfferAnswer([]sdpneg.CodecCapability{oaPCMU}, &oaFakeAllocator{}, "198.51.100.1")
	_, err := oa.BeginLocalOffer()
	require.NoError(t, err)
	_, err = oa.ApplyRemoteAnswer(remoteAnswerPCMU(40000))
	require.NoError(t, err)
	require.Equal(t, OANegotiated, oa.State())

	_, _, err = oa.ReceiveRemoteOffer(remoteOfferPCMU())
	require.NoError(t, err)
	require.Equal(t, OANegotiated, oa.State())
}

func TestOfferAnswerApplyAnswerWithoutPendingOfferFails(t *testing.T) {
	oa := NewOfferAnswer([]sdpneg.CodecCapability{oaPCMU}, &oaFakeAllocator{}, "198.51.100.1")
	_, err := oa.ApplyRemoteAnswer(remoteAnswerPCMU(40000))
	require.Error(t, err)
	require.Equal(t, OAIdle, oa.State())
}
