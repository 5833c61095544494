package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortPoolAllocatesEvenOddPairs(t *testing.T) {
	p := NewPortPool(20000, 20010)
	rtpPort, rtcpPort, err := p.Allocate()
	require.NoError(t, err)
	require.Zero(t, rtpPort%2)
	require.Equal(t, rtpPort+1, rtcpPort)
}

func TestPortPoolRejectsDuplicateAllocation(t *testing.T) {
	p := NewPortPool(20000, 20004) // two pairs: 20000, 20002
	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		port, _, err := p.Allocate()
		require.NoError(t, err)
		require.False(t, seen[port])
		seen[port] = true
	}
	_, _, err := p.Allocate()
	require.Error(t, err)
}

func TestPortPoolReleaseMakesPortReusable(t *testing.T) {
	p := NewPortPool(20000, 20002) // single pair
	port, _, err := p.Allocate()
	require.NoError(t, err)
	require.Zero(t, p.Available())

	p.Release(port)
	require.Equal(t, 1, p.Available())

	port2, _, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, port, port2)
}

func TestPortPoolRoundsMinPortUpToEven(t *testing.T) {
	p := NewPortPool(20001, 20005)
	port, _, err := p.Allocate()
	require.NoError(t, err)
	require.Zero(t, port%2)
	require.GreaterOrEqual(t, port, 20002)
}

func TestSDPAllocatorAdaptsPool(t *testing.T) {
	pool := NewPortPool(20000, 20004)
	alloc := NewSDPAllocator(pool, "203.0.113.9")

	a, err := alloc.Allocate()
	require.NoError(t, err)
	require.Equal(t, "203.0.113.9", a.Address)

	alloc.Release(a.RTPPort)
	require.Equal(t, 2, pool.Available())
}
