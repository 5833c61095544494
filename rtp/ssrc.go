package rtp

import (
	"crypto/rand"
	"encoding/binary"
)

// generateSSRC produces a random 32-bit synchronization source identifier
// per RFC 3550 §8.1. SSRC 0 is reserved and never returned.
func generateSSRC() uint32 {
	for {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			// crypto/rand failure is unrecoverable; fall back to a
			// non-zero value built from whatever bytes were read rather
			// than panic mid-call.
			return uint32(binary.LittleEndian.Uint32(b[:])) | 1
		}
		ssrc := binary.BigEndian.Uint32(b[:])
		if ssrc != 0 {
			return ssrc
		}
	}
}

// randomUint16 produces a random initial sequence number or similar field
// per RFC 3550 §5.1 ("SHOULD be random").
func randomUint16() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint16(b[:])
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint32(b[:])
}

// CollisionResolver tracks the set of SSRCs this endpoint has used on a
// session and hands back a fresh, non-colliding SSRC when an inbound
// packet's SSRC collides with our own sending SSRC (spec scenario 5 / RFC
// 3550 §8.2).
type CollisionResolver struct {
	used map[uint32]struct{}
}

func NewCollisionResolver(initial uint32) *CollisionResolver {
	return &CollisionResolver{used: map[uint32]struct{}{initial: {}}}
}

// Resolve returns a new SSRC distinct from every SSRC previously handed out
// by this resolver and from remoteSSRC, to be adopted by the local sender
// after it detects a collision with remoteSSRC.
func (c *CollisionResolver) Resolve(remoteSSRC uint32) uint32 {
	for {
		candidate := generateSSRC()
		if candidate == remoteSSRC {
			continue
		}
		if _, taken := c.used[candidate]; taken {
			continue
		}
		c.used[candidate] = struct{}{}
		return candidate
	}
}
