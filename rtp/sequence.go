package rtp

// maxSequenceGap bounds how far a single packet's sequence number may jump
// from the last one seen before it's treated as a stream restart rather
// than bulk packet loss (spec §4.6/§9: "sequence gaps beyond a threshold
// trigger a reset of expected-seq", the common case being a codec change
// or a restarted sender picking a fresh initial sequence number). RFC 3550
// Appendix A.1's own MAX_DROPOUT is 3000; a gap larger than that is
// implausible as ordinary loss on a conversational audio stream.
const maxSequenceGap = 3000

// SequenceTracker maintains an RFC 3550 Appendix A.1 style extended
// sequence number (cycle count in the upper 16 bits) for one inbound RTP
// source, used for both loss accounting and jitter buffer ordering.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	received    uint64
	lost        uint64
}

// Update records seq as the next received sequence number and returns the
// 32-bit extended sequence number along with packets newly detected as
// lost since the previous call (0 for reordered/duplicate arrivals).
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	if s.initialized {
		udiff := seq - s.lastSeq
		diff := int(int16(udiff))
		gap := diff
		if gap < 0 {
			gap = -gap
		}
		if gap > maxSequenceGap {
			// A hop this large isn't ordinary reordering or loss; treat it
			// as a new stream (codec change, sender restart) and resync
			// expected-seq from this packet instead of booking thousands
			// of phantom lost packets.
			s.Reset()
		}
	}

	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	udiff := seq - s.lastSeq
	diff := int16(udiff)

	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}

	// Rollover is detected by the wraparound-adjacent window, not merely a
	// forward jump, so a reordered packet just before 65535->0 doesn't
	// falsely advance the cycle count.
	if s.lastSeq > 0xF000 && seq < 0x1000 {
		s.cycles++
	}

	s.lastSeq = seq
	return (s.cycles << 16) | uint32(seq), lost
}

// Extended returns the current extended sequence number without consuming
// an update, matching the "LastSequenceNumber" field RTCP reports need.
func (s *SequenceTracker) Extended() uint32 {
	return (s.cycles << 16) | uint32(s.lastSeq)
}

// Stats returns cumulative received/lost counters since construction or
// the last Reset.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

// LossFraction returns the fraction of packets lost since the last call,
// given the interval's expected and lost packet counts. Callers pass the delta
// since the previous RTCP report per RFC 3550 §6.4.1.
func LossFraction(expected, lost int64) uint8 {
	if expected <= 0 || lost <= 0 {
		return 0
	}
	frac := float64(lost) / float64(expected)
	if frac > 1 {
		frac = 1
	}
	return uint8(frac * 256)
}

// Reset clears all tracking state, used when a new SSRC replaces this
// tracker's source (collision resolution or stream restart).
func (s *SequenceTracker) Reset() {
	*s = SequenceTracker{}
}
