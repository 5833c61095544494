// Package rtp implements the RTP/RTCP transport session (spec §4.6):
// packetization of encoded audio, send/receive sequence and timestamp
// state, jitter buffering, and periodic RTCP sender/receiver reports. It
// wraps github.com/pion/rtp and github.com/pion/rtcp for wire encoding and
// leaves socket I/O to the media package, mirroring the split between
// "RTP session" (protocol state) and "transport" (sockets) used throughout
// the example pack.
package rtp

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Conn is the minimal socket abstraction a Session needs: send raw bytes to
// the bound remote endpoint, and nothing else. media.Controller supplies
// this from a connected UDP socket; tests supply an in-memory fake.
type Conn interface {
	WriteTo(b []byte) (int, error)
}

// SendStats mirrors the counters an outbound RTCP sender report publishes.
type SendStats struct {
	SSRC         uint32
	PacketsSent  uint32
	OctetsSent   uint32
	LastSeq      uint16
	LastTS       uint32
	lastSendTime time.Time
}

// ReceiveStats mirrors one inbound source's RFC 3550 Appendix A.8 state,
// used both for jitter buffer ordering and RTCP receiver report generation.
type ReceiveStats struct {
	SSRC uint32
	Seq  SequenceTracker

	sampleRate          uint32
	lastArrival         time.Time
	lastRTPTimestamp    uint32
	jitter              float64 // RFC 3550 §6.4.1 interarrival jitter estimate, in timestamp units
	lastSenderReportNTP uint64
	lastSenderReportAt  time.Time

	intervalFirstSeq  int64
	intervalTotalPkts uint32
}

// Jitter returns the current interarrival jitter estimate in RTP timestamp
// units (RFC 3550 §6.4.1), suitable for direct use in a ReceptionReport.
func (r *ReceiveStats) Jitter() uint32 {
	return uint32(r.jitter)
}

// Session is one RTP/RTCP media stream: one SSRC sent, and state tracked
// per distinct SSRC received (normally one, except during a collision
// handover). Packetization is pull/push based; Session does not own a
// goroutine or socket, matching the codec-is-pure-and-reentrant posture
// extended to the transport layer.
type Session struct {
	mu sync.Mutex

	conn      Conn
	clockRate uint32

	send    SendStats
	sendSeq uint16
	sendTS  uint32

	receivers map[uint32]*ReceiveStats
	resolver  *CollisionResolver

	rtcpIntervalBase time.Duration
	lastRTT          time.Duration
}

// Option configures a Session at construction.
type Option func(*Session)

// WithRTCPInterval overrides the average RTCP reporting interval (RFC 3550
// §6.2 default is 5s; RTCPInterval jitters it ±50% per report).
func WithRTCPInterval(d time.Duration) Option {
	return func(s *Session) { s.rtcpIntervalBase = d }
}

// WithInitialSSRC fixes the outbound SSRC instead of generating one
// randomly; used by tests needing deterministic output.
func WithInitialSSRC(ssrc uint32) Option {
	return func(s *Session) { s.send.SSRC = ssrc }
}

// NewSession constructs a Session bound to conn, sending at clockRate Hz.
func NewSession(conn Conn, clockRate uint32, opts ...Option) *Session {
	s := &Session{
		conn:             conn,
		clockRate:        clockRate,
		receivers:        make(map[uint32]*ReceiveStats),
		rtcpIntervalBase: 5 * time.Second,
		sendSeq:          randomUint16(),
		sendTS:           randomUint32(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.send.SSRC == 0 {
		s.send.SSRC = generateSSRC()
	}
	s.resolver = NewCollisionResolver(s.send.SSRC)
	return s
}

// RTCPInterval returns the jittered interval to wait before the next RTCP
// report, per RFC 3550 §6.3.1's recommendation of ±50% randomization to
// avoid synchronized report storms across a session's participants.
func (s *Session) RTCPInterval() time.Duration {
	base := s.rtcpIntervalBase
	jitter := time.Duration(int64(randomUint32()%100)-50) * base / 100
	return base + jitter
}

// SSRC returns this session's current outbound SSRC.
func (s *Session) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send.SSRC
}

// WritePayload packetizes payload as one RTP packet and sends it. marker
// indicates the RTP marker bit (set on the first packet of a talkspurt).
// samples advances the outbound timestamp by that many clock ticks.
func (s *Session) WritePayload(payloadType uint8, payload []byte, samples uint32, marker bool) error {
	s.mu.Lock()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: s.sendSeq,
			Timestamp:      s.sendTS,
			SSRC:           s.send.SSRC,
			Marker:         marker,
		},
		Payload: payload,
	}
	s.sendSeq++
	s.sendTS += samples

	s.send.PacketsSent++
	s.send.OctetsSent += uint32(len(payload))
	s.send.LastSeq = pkt.SequenceNumber
	s.send.LastTS = pkt.Timestamp
	s.send.lastSendTime = time.Now()
	s.mu.Unlock()

	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtp: marshal packet: %w", err)
	}
	_, err = s.conn.WriteTo(buf)
	return err
}

// ReadPacket decodes an inbound RTP datagram and updates per-SSRC receive
// state. It returns the decoded packet and the ReceiveStats snapshot for
// its source, along with collided=true and oldSSRC set to this session's
// previous send SSRC if the packet's SSRC matched it (RFC 3550 §8.2
// collision) and a new one was adopted. The caller (media.Leg) is
// responsible for announcing oldSSRC's retirement with an RTCP BYE (spec
// scenario 5).
func (s *Session) ReadPacket(buf []byte) (pkt *rtp.Packet, stats ReceiveStats, collided bool, oldSSRC uint32, err error) {
	pkt = &rtp.Packet{}
	if err = pkt.Unmarshal(buf); err != nil {
		return nil, ReceiveStats{}, false, 0, fmt.Errorf("rtp: unmarshal packet: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pkt.SSRC == s.send.SSRC {
		oldSSRC = s.send.SSRC
		s.send.SSRC = s.resolver.Resolve(pkt.SSRC)
		collided = true
	}

	rs, ok := s.receivers[pkt.SSRC]
	if !ok {
		rs = &ReceiveStats{SSRC: pkt.SSRC, sampleRate: s.clockRate}
		s.receivers[pkt.SSRC] = rs
	}
	s.updateReceiveStats(rs, pkt)

	return pkt, *rs, collided, oldSSRC, nil
}

func (s *Session) updateReceiveStats(rs *ReceiveStats, pkt *rtp.Packet) {
	now := time.Now()

	if !rs.Seq.initialized {
		rs.Seq.Update(pkt.SequenceNumber)
		rs.intervalFirstSeq = int64(rs.Seq.Extended())
	} else {
		// RFC 3550 §6.4.1 interarrival jitter: D is the difference of
		// relative transit times between this packet and the previous one.
		sampleRate := rs.sampleRate
		if sampleRate == 0 {
			sampleRate = s.clockRate
		}
		sij := float64(pkt.Timestamp - rs.lastRTPTimestamp)
		rij := now.Sub(rs.lastArrival).Seconds() * float64(sampleRate)
		d := rij - sij
		if d < 0 {
			d = -d
		}
		rs.jitter += (d - rs.jitter) / 16
		rs.Seq.Update(pkt.SequenceNumber)
	}

	rs.intervalTotalPkts++
	rs.lastArrival = now
	rs.lastRTPTimestamp = pkt.Timestamp
}

// Receivers returns a snapshot of every currently tracked inbound SSRC's
// stats, used by the RTCP scheduler to build one ReceptionReport per
// source.
func (s *Session) Receivers() []ReceiveStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReceiveStats, 0, len(s.receivers))
	for _, rs := range s.receivers {
		out = append(out, *rs)
	}
	return out
}

// SendSnapshot returns a copy of the current outbound stats for RTCP
// sender report generation.
func (s *Session) SendSnapshot() SendStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send
}

// NoteSenderReport records the NTP timestamp of an inbound sender report
// for a given SSRC, feeding the DLSR field of the next receiver report.
func (s *Session) NoteSenderReport(ssrc uint32, ntp uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.receivers[ssrc]
	if !ok {
		rs = &ReceiveStats{SSRC: ssrc, sampleRate: s.clockRate}
		s.receivers[ssrc] = rs
	}
	rs.lastSenderReportNTP = ntp
	rs.lastSenderReportAt = at
}
