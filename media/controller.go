package media

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/voipstack/corevoip/rtp"
	"github.com/voipstack/corevoip/sdpneg"
)

// Encoder/Decoder are deliberately left as black boxes per the codec
// Non-goals: the media engine packetizes and jitter-buffers, but what goes
// into or comes out of a payload is the caller's concern. AttachTransmitter
// is what actually drives an Encoder: it pulls a frame every packetization
// interval and hands it to Send.
type Encoder interface {
	Encode(pcm []int16) (payload []byte, samples uint32, err error)
}

type Decoder interface {
	Decode(payload []byte) (pcm []int16, err error)
}

// FrameSource supplies one packetization interval's worth of linear PCM to
// a Leg's transmitter loop. ok=false means no frame is available this tick
// (e.g. a muted source, or silence suppression) and nothing is sent.
type FrameSource func() (pcm []int16, ok bool)

// Stats is a point-in-time snapshot of one Leg's quality metrics, exposed
// both directly and through Prometheus gauges.
type Stats struct {
	PacketsSent         uint32
	PacketsReceived     uint64
	PacketsLost         uint64
	JitterMillis        float64
	RTTMillis           float64
	MOSEstimate         float64
	FramesDroppedNoDest uint64
}

// Leg is one bound audio path: a UDP socket pair (RTP+RTCP), the protocol
// session tracking it, and the jitter buffer smoothing inbound playout.
// Created by Controller.Open and driven by dialog_oa.go once negotiation
// completes.
type Leg struct {
	id string

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	// mu guards remoteAddr/remoteRTCPAddr/direction, which Controller.Update
	// mutates in place when a re-INVITE renegotiates this leg without
	// tearing down its sockets.
	mu             sync.RWMutex
	remoteAddr     *net.UDPAddr
	remoteRTCPAddr *net.UDPAddr
	direction      sdpneg.Direction

	session *rtp.Session
	jitter  *rtp.JitterBuffer

	clockRate int
	rtcpMux   bool

	fsm *transmitterFSM

	// encoder/source/payloadType/samplesPerFrame/packetInterval are set by
	// AttachTransmitter; a Leg with no encoder attached never runs a
	// transmit loop (e.g. a recvonly leg with nothing local to send).
	encoder         Encoder
	source          FrameSource
	payloadType     uint8
	samplesPerFrame uint32
	packetInterval  time.Duration

	framesDroppedNoDest atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}

	log zerolog.Logger
}

// Controller owns the PortPool and every active Leg for a running process,
// and is the single place that touches real sockets.
type Controller struct {
	mu   sync.Mutex
	pool *PortPool
	legs map[string]*Leg
	log  zerolog.Logger

	// jitterInitial/Min/MaxDelay wire the jitter_buffer_initial_ms /
	// jitter_buffer_max_ms configuration options (spec §6) into every Leg
	// this Controller opens. Zero means "use rtp package defaults".
	jitterInitialDelay time.Duration
	jitterMaxDelay     time.Duration

	metrics *prometheusMetrics
}

// ControllerOption configures a Controller at construction time, the
// functional-options convention used throughout this module.
type ControllerOption func(*Controller)

// WithJitterBounds overrides the initial and maximum adaptive playout delay
// every Leg this Controller opens uses, per spec §6's jitter_buffer_initial_ms
// and jitter_buffer_max_ms. The minimum bound (20ms) is left at the rtp
// package default since spec §6 does not name a configuration knob for it.
func WithJitterBounds(initial, max time.Duration) ControllerOption {
	return func(c *Controller) {
		c.jitterInitialDelay = initial
		c.jitterMaxDelay = max
	}
}

func NewController(pool *PortPool, logger zerolog.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		pool:    pool,
		legs:    make(map[string]*Leg),
		log:     logger.With().Str("caller", "media.Controller").Logger(),
		metrics: newPrometheusMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open binds a UDP socket pair at localPort (RTP) / localPort+1 (RTCP,
// skipped when rtcpMux is true) and constructs the rtp.Session and
// JitterBuffer backing it. id is normally the owning Dialog's media-session
// key. direction is the negotiated media direction (sdpneg.Direction) this
// leg should honor in Send; a renegotiated direction on the same dialog is
// applied in place later via Update, not by reopening the leg.
func (c *Controller) Open(id string, localPort int, remoteAddr string, remotePort int, clockRate int, rtcpMux bool, direction sdpneg.Direction) (*Leg, error) {
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("media: bind rtp socket: %w", err)
	}

	var rtcpConn *net.UDPConn
	if !rtcpMux {
		rtcpConn, err = net.ListenUDP("udp", &net.UDPAddr{Port: localPort + 1})
		if err != nil {
			rtpConn.Close()
			return nil, fmt.Errorf("media: bind rtcp socket: %w", err)
		}
	}

	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", remoteAddr, remotePort))
	if err != nil {
		rtpConn.Close()
		if rtcpConn != nil {
			rtcpConn.Close()
		}
		return nil, fmt.Errorf("media: resolve remote address: %w", err)
	}
	remoteRTCP := &net.UDPAddr{IP: remote.IP, Port: remote.Port + 1}
	if rtcpMux {
		remoteRTCP = remote
	}

	leg := &Leg{
		id:             id,
		rtpConn:        rtpConn,
		rtcpConn:       rtcpConn,
		remoteAddr:     remote,
		remoteRTCPAddr: remoteRTCP,
		direction:      direction,
		clockRate:      clockRate,
		rtcpMux:        rtcpMux,
		stopCh:         make(chan struct{}),
		log:            c.log.With().Str("leg", id).Logger(),
		fsm:            newTransmitterFSM(),
	}
	leg.session = rtp.NewSession(&udpLegConn{leg: leg}, uint32(clockRate))
	leg.jitter = rtp.NewJitterBufferWithBounds(uint32(clockRate), 50, c.jitterInitialDelay, 0, c.jitterMaxDelay)

	c.mu.Lock()
	c.legs[id] = leg
	c.mu.Unlock()

	return leg, nil
}

// Update applies a renegotiated remote endpoint and direction to an already
// open leg in place, without rebinding sockets or restarting its read/RTCP
// loops. Used for in-dialog re-INVITEs (spec scenario 6: a hold re-INVITE
// must stop outbound audio within one packetization interval, which a
// Close+Open socket rebind cannot guarantee as promptly as gating Send via
// direction). Returns ok=false if no leg is open under id.
func (c *Controller) Update(id string, remoteAddr string, remotePort int, direction sdpneg.Direction) (*Leg, bool) {
	c.mu.Lock()
	leg, ok := c.legs[id]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", remoteAddr, remotePort))
	if err != nil {
		return leg, false
	}
	remoteRTCP := &net.UDPAddr{IP: remote.IP, Port: remote.Port + 1}
	if leg.rtcpMux {
		remoteRTCP = remote
	}

	leg.mu.Lock()
	leg.remoteAddr = remote
	leg.remoteRTCPAddr = remoteRTCP
	leg.direction = direction
	leg.mu.Unlock()
	return leg, true
}

// Close releases a Leg's sockets and port-pool reservation.
func (c *Controller) Close(id string) {
	c.mu.Lock()
	leg, ok := c.legs[id]
	if ok {
		delete(c.legs, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	leg.stopOnce.Do(func() { close(leg.stopCh) })
	leg.rtpConn.Close()
	if leg.rtcpConn != nil {
		leg.rtcpConn.Close()
	}
	c.pool.Release(leg.rtpConn.LocalAddr().(*net.UDPAddr).Port)
}

// Registry returns the Prometheus registry this Controller's media metrics
// are registered against, for mounting under promhttp.HandlerFor.
func (c *Controller) Registry() *prometheus.Registry {
	return c.metrics.registry
}

// Leg looks up a currently open leg by id.
func (c *Controller) Leg(id string) (*Leg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	leg, ok := c.legs[id]
	return leg, ok
}

// udpLegConn adapts a Leg's bound RTP socket to rtp.Conn, always writing to
// the negotiated remote endpoint.
type udpLegConn struct {
	leg *Leg
}

func (c *udpLegConn) WriteTo(b []byte) (int, error) {
	return c.leg.rtpConn.WriteToUDP(b, c.leg.remoteRTPAddr())
}

// remoteRTPAddr returns the leg's current negotiated remote RTP endpoint,
// safe to call concurrently with Controller.Update.
func (l *Leg) remoteRTPAddr() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remoteAddr
}

func (l *Leg) remoteRTCPTarget() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remoteRTCPAddr
}

// SetDirection updates this leg's negotiated media direction in place,
// e.g. from Controller.Update after a re-INVITE renegotiation.
func (l *Leg) SetDirection(d sdpneg.Direction) {
	l.mu.Lock()
	l.direction = d
	l.mu.Unlock()
}

// Direction returns this leg's current negotiated media direction.
func (l *Leg) Direction() sdpneg.Direction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.direction
}

// CanSend reports whether the negotiated direction permits this leg to
// transmit RTP. recvonly and inactive media lines must not send.
func (l *Leg) CanSend() bool {
	switch l.Direction() {
	case sdpneg.DirectionRecvOnly, sdpneg.DirectionInactive:
		return false
	default:
		return true
	}
}

// AttachTransmitter wires a pull-driven audio transmitter (spec §4.7) onto
// this leg: once Start is called, a ticker fires every packetInterval,
// pulls a frame from source, encodes it with enc, and sends it as payloadType
// with samplesPerFrame advancing the RTP timestamp. Must be called before
// Start; a leg with no transmitter attached only receives.
func (l *Leg) AttachTransmitter(enc Encoder, source FrameSource, payloadType uint8, samplesPerFrame uint32, packetInterval time.Duration) {
	l.encoder = enc
	l.source = source
	l.payloadType = payloadType
	l.samplesPerFrame = samplesPerFrame
	l.packetInterval = packetInterval
}

// Start transitions the leg's transmitter into Active and launches its
// read loops, plus the transmit loop if AttachTransmitter was called.
// Start is idempotent; calling it while already active is a no-op.
func (l *Leg) Start() error {
	if l.State() == TransmitterActive {
		return nil
	}
	if err := l.fsm.Event("start"); err != nil {
		return err
	}
	go l.readRTPLoop()
	go l.readRTCPLoop()
	go l.rtcpTicker()
	if l.encoder != nil && l.source != nil {
		go l.txLoop()
	}
	return l.fsm.Event("activate")
}

// txLoop pulls one frame per packetInterval from the attached FrameSource,
// encodes it, and sends it. Ticks that arrive before the leg reaches Active
// (spec §4.7's Idle->Starting->Active transition needs the negotiated
// remote endpoint first) or while the negotiated direction forbids sending
// are counted as NoDestination drops rather than transmitted.
func (l *Leg) txLoop() {
	ticker := time.NewTicker(l.packetInterval)
	defer ticker.Stop()

	marker := true
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
		}

		if l.State() != TransmitterActive {
			l.framesDroppedNoDest.Add(1)
			continue
		}
		if !l.CanSend() {
			l.framesDroppedNoDest.Add(1)
			continue
		}

		pcm, ok := l.source()
		if !ok {
			continue
		}
		payload, samples, err := l.encoder.Encode(pcm)
		if err != nil {
			l.log.Debug().Err(err).Msg("drop frame: encode error")
			continue
		}
		if samples == 0 {
			samples = l.samplesPerFrame
		}
		if err := l.Send(l.payloadType, payload, samples, marker); err != nil {
			l.log.Debug().Err(err).Msg("drop frame: send error")
			continue
		}
		marker = false
	}
}

// Stop transitions the transmitter back to Idle and tears down its read
// loops via stopCh.
func (l *Leg) Stop() error {
	if err := l.fsm.Event("stop"); err != nil {
		return err
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
	return l.fsm.Event("stopped")
}

// State returns the transmitter's current lifecycle state.
func (l *Leg) State() string {
	return l.fsm.Current()
}

func (l *Leg) readRTPLoop() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}
		l.rtpConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := l.rtpConn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if l.rtcpMux && isRTCPPacketType(buf[:n]) {
			l.ingestRTCP(buf[:n])
			continue
		}
		pkt, _, collided, oldSSRC, err := l.session.ReadPacket(buf[:n])
		if err != nil {
			l.log.Debug().Err(err).Msg("drop malformed rtp packet")
			continue
		}
		if collided {
			l.log.Warn().Uint32("old_ssrc", oldSSRC).Msg("ssrc collision detected, adopted new local ssrc")
			l.sendGoodbye(oldSSRC)
		}
		l.jitter.Put(pkt)
	}
}

func (l *Leg) readRTCPLoop() {
	conn := l.rtcpConn
	if l.rtcpMux {
		return
	}
	buf := make([]byte, 1500)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		l.ingestRTCP(buf[:n])
	}
}

func (l *Leg) ingestRTCP(buf []byte) {
	packets, err := decodeRTCP(buf)
	if err != nil {
		l.log.Debug().Err(err).Msg("drop malformed rtcp packet")
		return
	}
	for _, pkt := range packets {
		l.session.IngestReport(pkt)
	}
}

func (l *Leg) rtcpTicker() {
	for {
		interval := l.session.RTCPInterval()
		select {
		case <-l.stopCh:
			return
		case <-time.After(interval):
		}
		report := l.session.BuildReport()
		buf, err := encodeRTCP(report)
		if err != nil {
			continue
		}
		if l.rtcpMux {
			l.rtpConn.WriteToUDP(buf, l.remoteRTPAddr())
		} else {
			l.rtcpConn.WriteToUDP(buf, l.remoteRTCPTarget())
		}
	}
}

// sendGoodbye announces the retirement of a local SSRC abandoned after a
// collision (spec scenario 5): "the session chooses a new SSRC and emits
// an RTCP BYE with the old one."
func (l *Leg) sendGoodbye(oldSSRC uint32) {
	buf, err := encodeRTCP(l.session.BuildGoodbye(oldSSRC))
	if err != nil {
		l.log.Debug().Err(err).Msg("encode ssrc collision goodbye")
		return
	}
	if l.rtcpMux {
		l.rtpConn.WriteToUDP(buf, l.remoteRTPAddr())
	} else {
		l.rtcpConn.WriteToUDP(buf, l.remoteRTCPTarget())
	}
}

// Pop returns the next playout-ready decoded packet from the jitter
// buffer, or ok=false if none is due yet.
func (l *Leg) Pop() (payload []byte, payloadType uint8, ok bool) {
	pkt, ok := l.jitter.Pop(time.Now())
	if !ok {
		return nil, 0, false
	}
	return pkt.Payload, pkt.PayloadType, true
}

// Send packetizes and writes one payload on this leg's RTP session, gated
// by the negotiated direction: a recvonly/inactive leg drops the frame and
// counts it as a NoDestination drop instead of transmitting (spec scenario
// 6's re-INVITE hold: the UAS must stop sending within one packetization
// interval of the new direction taking effect).
func (l *Leg) Send(payloadType uint8, payload []byte, samples uint32, marker bool) error {
	if !l.CanSend() {
		l.framesDroppedNoDest.Add(1)
		return nil
	}
	return l.session.WritePayload(payloadType, payload, samples, marker)
}

// FramesDroppedNoDest returns the count of transmit ticks this leg dropped
// because no usable destination existed yet (not yet Active) or the
// negotiated direction forbade sending.
func (l *Leg) FramesDroppedNoDest() uint64 {
	return l.framesDroppedNoDest.Load()
}

// SnapshotStats computes a Stats snapshot and reflects it into the
// controller's Prometheus gauges, matching the naming the example pack
// uses for RTP quality metrics.
func (c *Controller) SnapshotStats(l *Leg) Stats {
	rtt := l.session.LastRTT()

	stats := Stats{
		PacketsSent:         l.session.SendSnapshot().PacketsSent,
		RTTMillis:           float64(rtt.Milliseconds()),
		FramesDroppedNoDest: l.FramesDroppedNoDest(),
	}
	for _, rs := range l.session.Receivers() {
		received, lost := rs.Seq.Stats()
		stats.PacketsReceived += received
		stats.PacketsLost += lost
		stats.JitterMillis = float64(rs.Jitter()) / float64(l.clockRate) * 1000
	}
	stats.MOSEstimate = estimateMOS(stats.PacketsLost, stats.PacketsReceived, stats.JitterMillis)

	c.metrics.observe(l.id, stats)
	return stats
}

// estimateMOS derives a rough E-model MOS-LQE (ITU-T G.107 simplified)
// from loss fraction and jitter, matching the rough R-factor heuristic
// used for quality alarms rather than certified measurement.
func estimateMOS(lost, received uint64, jitterMs float64) float64 {
	total := lost + received
	if total == 0 {
		return 4.5
	}
	lossPct := float64(lost) / float64(total) * 100

	r := 93.2 - lossPct*2.5 - jitterMs*0.1
	if r < 0 {
		r = 0
	}
	if r > 100 {
		r = 100
	}
	mos := 1 + 0.035*r + r*(r-60)*(100-r)*7e-6
	if mos < 1 {
		mos = 1
	}
	if mos > 4.5 {
		mos = 4.5
	}
	return mos
}
