package media

import (
	"fmt"

	"github.com/voipstack/corevoip/sdpneg"
)

// SDPAllocator adapts a PortPool (and the local advertised address) to
// sdpneg.PortAllocator, keeping sdpneg itself free of any socket
// dependency while letting the dialog coordinator negotiate directly
// against real, reservable ports.
type SDPAllocator struct {
	pool      *PortPool
	localAddr string
}

func NewSDPAllocator(pool *PortPool, localAddr string) *SDPAllocator {
	return &SDPAllocator{pool: pool, localAddr: localAddr}
}

func (a *SDPAllocator) Allocate() (sdpneg.Allocation, error) {
	rtpPort, _, err := a.pool.Allocate()
	if err != nil {
		return sdpneg.Allocation{}, fmt.Errorf("media: sdp allocation: %w", err)
	}
	return sdpneg.Allocation{Address: a.localAddr, RTPPort: rtpPort}, nil
}

func (a *SDPAllocator) Release(rtpPort int) {
	a.pool.Release(rtpPort)
}
