package media

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/voipstack/corevoip/sdpneg"
)

func newLoopbackController(t *testing.T) (*Controller, int) {
	t.Helper()
	pool := NewPortPool(21000, 21100)
	ctl := NewController(pool, zerolog.Nop())
	rtpPort, _, err := pool.Allocate()
	require.NoError(t, err)
	pool.Release(rtpPort)
	return ctl, rtpPort
}

func TestLegSendHonorsNegotiatedDirection(t *testing.T) {
	ctl, port := newLoopbackController(t)
	leg, err := ctl.Open("call-1", port, "127.0.0.1", port+10, 8000, false, sdpneg.DirectionRecvOnly)
	require.NoError(t, err)
	defer ctl.Close("call-1")

	require.False(t, leg.CanSend())
	require.NoError(t, leg.Send(0, []byte("a"), 160, true))
	require.EqualValues(t, 1, leg.FramesDroppedNoDest())

	leg.SetDirection(sdpneg.DirectionSendRecv)
	require.True(t, leg.CanSend())
	require.NoError(t, leg.Send(0, []byte("b"), 160, true))
	require.EqualValues(t, 1, leg.FramesDroppedNoDest())
}

func TestControllerUpdateAppliesDirectionInPlaceWithoutReopening(t *testing.T) {
	ctl, port := newLoopbackController(t)
	leg, err := ctl.Open("call-2", port, "127.0.0.1", port+10, 8000, false, sdpneg.DirectionSendRecv)
	require.NoError(t, err)
	defer ctl.Close("call-2")

	updated, ok := ctl.Update("call-2", "127.0.0.1", port+20, sdpneg.DirectionRecvOnly)
	require.True(t, ok)
	require.Same(t, leg, updated)
	require.False(t, leg.CanSend())

	same, ok := ctl.Leg("call-2")
	require.True(t, ok)
	require.Same(t, leg, same)
}

func TestControllerUpdateUnknownLegReturnsFalse(t *testing.T) {
	ctl, _ := newLoopbackController(t)
	_, ok := ctl.Update("does-not-exist", "127.0.0.1", 5000, sdpneg.DirectionSendRecv)
	require.False(t, ok)
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(pcm []int16) ([]byte, uint32, error) {
	return []byte{0x00}, uint32(len(pcm)), nil
}

func TestLegTransmitterDropsBeforeActiveAndHonorsDirection(t *testing.T) {
	ctl, port := newLoopbackController(t)
	leg, err := ctl.Open("call-3", port, "127.0.0.1", port+10, 8000, false, sdpneg.DirectionRecvOnly)
	require.NoError(t, err)
	defer ctl.Close("call-3")

	frames := make(chan struct{}, 4)
	source := func() ([]int16, bool) {
		select {
		case frames <- struct{}{}:
		default:
		}
		return make([]int16, 160), true
	}
	leg.AttachTransmitter(fakeEncoder{}, source, 0, 160, 5*time.Millisecond)

	require.NoError(t, leg.Start())
	defer leg.Stop()

	require.Eventually(t, func() bool {
		return leg.FramesDroppedNoDest() > 0
	}, time.Second, 5*time.Millisecond, "recvonly leg should count dropped transmit ticks")
}
