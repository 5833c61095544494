package rtp

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pion/rtp"
)

const (
	// minJitterDelay and maxJitterDelay bound the adaptive playout delay
	// (spec §9 Open Question decision): a conversational call never
	// tolerates less than one packet's worth of reordering slack, nor more
	// than 200ms before the delay itself becomes the dominant latency
	// source.
	minJitterDelay = 20 * time.Millisecond
	maxJitterDelay = 200 * time.Millisecond

	// initialJitterDelay is the starting playout delay before any
	// adaptation has occurred, matching common softphone defaults.
	initialJitterDelay = 60 * time.Millisecond

	// adaptationTimeConstant is the EMA time constant for delay adaptation:
	// roughly one update per packet arrival, decided to settle over about
	// one second of steady traffic rather than reacting to every single
	// packet's instantaneous jitter.
	adaptationTimeConstant = 1 * time.Second

	maxBufferedPackets = 200
)

// jitterEntry is one buffered packet ordered by RTP timestamp for playout.
type jitterEntry struct {
	packet  *rtp.Packet
	arrival time.Time
	index   int
}

type jitterHeap []*jitterEntry

func (h jitterHeap) Len() int { return len(h) }
func (h jitterHeap) Less(i, j int) bool {
	return h[i].packet.Timestamp < h[j].packet.Timestamp
}
func (h jitterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *jitterHeap) Push(x any) {
	e := x.(*jitterEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *jitterHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// JitterBuffer reorders inbound RTP packets by timestamp and smooths
// arrival-time variance behind an adaptively sized playout delay (spec §4.6
// / §9). It is safe for one writer (Put) and one reader (Pop) to operate
// concurrently.
type JitterBuffer struct {
	mu sync.Mutex

	heap      jitterHeap
	clockRate uint32
	bufCap    int

	minDelay time.Duration
	maxDelay time.Duration

	currentDelay time.Duration
	targetDelay  time.Duration

	lastSeq     uint16
	initialized bool

	packetsReceived uint64
	packetsDropped  uint64
	packetsLate     uint64
}

// NewJitterBuffer constructs a JitterBuffer for a stream at clockRate Hz,
// holding at most bufCap packets before the oldest is evicted, with the
// default 60ms initial / 20-200ms adaptive delay bounds (spec §4.6/§9).
func NewJitterBuffer(clockRate uint32, bufCap int) *JitterBuffer {
	return NewJitterBufferWithBounds(clockRate, bufCap, initialJitterDelay, minJitterDelay, maxJitterDelay)
}

// NewJitterBufferWithBounds is NewJitterBuffer with the initial playout
// delay and adaptation bounds overridden, wiring the jitter_buffer_initial_ms
// / jitter_buffer_max_ms configuration options (spec §6) through to the
// adaptation curve decided in the §9 Open Question. minDelay/maxDelay <= 0
// fall back to the package defaults.
func NewJitterBufferWithBounds(clockRate uint32, bufCap int, initial, minDelay, maxDelay time.Duration) *JitterBuffer {
	if bufCap <= 0 || bufCap > maxBufferedPackets {
		bufCap = maxBufferedPackets
	}
	if minDelay <= 0 {
		minDelay = minJitterDelay
	}
	if maxDelay <= 0 {
		maxDelay = maxJitterDelay
	}
	if initial <= 0 {
		initial = initialJitterDelay
	}
	if initial < minDelay {
		initial = minDelay
	}
	if initial > maxDelay {
		initial = maxDelay
	}
	jb := &JitterBuffer{
		clockRate:    clockRate,
		bufCap:       bufCap,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		currentDelay: initial,
		targetDelay:  initial,
	}
	heap.Init(&jb.heap)
	return jb
}

// Put inserts a received packet into the buffer and re-evaluates the
// target playout delay from current fill level.
func (jb *JitterBuffer) Put(pkt *rtp.Packet) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	jb.packetsReceived++

	if !jb.initialized {
		jb.initialized = true
		jb.lastSeq = pkt.SequenceNumber
	} else if seqLess(pkt.SequenceNumber, jb.lastSeq) {
		jb.packetsLate++
	} else {
		jb.lastSeq = pkt.SequenceNumber
	}

	if len(jb.heap) >= jb.bufCap {
		heap.Pop(&jb.heap)
		jb.packetsDropped++
	}

	heap.Push(&jb.heap, &jitterEntry{packet: pkt, arrival: time.Now()})
	jb.adapt()
}

// Pop returns the earliest (lowest-timestamp) buffered packet whose
// playout delay has elapsed, or ok=false if the buffer is empty or the
// head packet isn't due yet.
func (jb *JitterBuffer) Pop(now time.Time) (pkt *rtp.Packet, ok bool) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if len(jb.heap) == 0 {
		return nil, false
	}

	head := jb.heap[0]
	if now.Sub(head.arrival) < jb.currentDelay {
		return nil, false
	}

	entry := heap.Pop(&jb.heap).(*jitterEntry)
	return entry.packet, true
}

// Delay returns the current adapted playout delay.
func (jb *JitterBuffer) Delay() time.Duration {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.currentDelay
}

// Stats returns cumulative received/dropped/late counts for monitoring.
func (jb *JitterBuffer) Stats() (received, dropped, late uint64) {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.packetsReceived, jb.packetsDropped, jb.packetsLate
}

// adapt nudges targetDelay toward a fill level of half the buffer capacity
// and smooths currentDelay toward targetDelay with an exponential moving
// average. Caller holds jb.mu.
func (jb *JitterBuffer) adapt() {
	fill := len(jb.heap)
	target := jb.bufCap / 2

	switch {
	case fill > target+target/2:
		jb.targetDelay -= 2 * time.Millisecond
	case fill < target/2:
		jb.targetDelay += 2 * time.Millisecond
	}

	if jb.targetDelay < jb.minDelay {
		jb.targetDelay = jb.minDelay
	}
	if jb.targetDelay > jb.maxDelay {
		jb.targetDelay = jb.maxDelay
	}

	// EMA step sized so that, at one update per average packet interval,
	// the delay converges to target over adaptationTimeConstant.
	packetInterval := 20 * time.Millisecond
	if jb.clockRate > 0 {
		packetInterval = time.Second / 50
	}
	alpha := float64(packetInterval) / float64(adaptationTimeConstant)
	diff := jb.targetDelay - jb.currentDelay
	jb.currentDelay += time.Duration(float64(diff) * alpha)
}

func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}
