package rtp

import (
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// NTPTimestamp converts a wall-clock time to a 64-bit NTP timestamp (32-bit
// seconds since 1900, 32-bit fraction), as used in RTCP sender reports.
func NTPTimestamp(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(float64(t.Nanosecond()) * (1 << 32) / 1e9)
	return secs<<32 | frac
}

// BuildReport constructs the RTCP packet this session should send next: a
// SenderReport when this endpoint has sent any RTP (carrying reception
// reports for every tracked remote source), or a bare ReceiverReport when
// it has only received (e.g. a recvonly media line).
func (s *Session) BuildReport() rtcp.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports := make([]rtcp.ReceptionReport, 0, len(s.receivers))
	now := time.Now()
	for _, rs := range s.receivers {
		reports = append(reports, s.receptionReport(rs, now))
	}

	if s.send.PacketsSent == 0 {
		return &rtcp.ReceiverReport{
			SSRC:    s.send.SSRC,
			Reports: reports,
		}
	}

	elapsed := now.Sub(s.send.lastSendTime).Seconds()
	rtpTimeOffset := uint32(elapsed * float64(s.clockRate))

	return &rtcp.SenderReport{
		SSRC:        s.send.SSRC,
		NTPTime:     NTPTimestamp(now),
		RTPTime:     s.send.LastTS + rtpTimeOffset,
		PacketCount: s.send.PacketsSent,
		OctetCount:  s.send.OctetsSent,
		Reports:     reports,
	}
}

// receptionReport builds one RFC 3550 §6.4.1 reception report block for a
// tracked remote source, then resets its per-interval counters for the
// next reporting period. Caller holds s.mu.
func (s *Session) receptionReport(rs *ReceiveStats, now time.Time) rtcp.ReceptionReport {
	_, totalLost := rs.Seq.Stats()

	extendedNow := int64(rs.Seq.Extended())
	intervalExpected := extendedNow - rs.intervalFirstSeq
	intervalLost := intervalExpected - int64(rs.intervalTotalPkts)
	if intervalLost < 0 {
		intervalLost = 0
	}

	var delay uint32
	if !rs.lastSenderReportAt.IsZero() {
		delay = uint32(now.Sub(rs.lastSenderReportAt).Seconds() * 65536)
	}

	report := rtcp.ReceptionReport{
		SSRC:               rs.SSRC,
		FractionLost:       LossFraction(intervalExpected, intervalLost),
		TotalLost:          uint32(totalLost),
		LastSequenceNumber: rs.Seq.Extended(),
		Jitter:             rs.Jitter(),
		LastSenderReport:   uint32(rs.lastSenderReportNTP >> 16),
		Delay:              delay,
	}

	rs.intervalFirstSeq = extendedNow
	rs.intervalTotalPkts = 0
	return report
}

// BuildGoodbye constructs an RTCP BYE announcing the retirement of ssrc,
// sent when this session abandons an SSRC after a collision (RFC 3550
// §6.3.7/§8.2, spec scenario 5).
func (s *Session) BuildGoodbye(ssrc uint32) rtcp.Packet {
	return &rtcp.Goodbye{Sources: []uint32{ssrc}}
}

// IngestReport applies an inbound RTCP sender or receiver report to this
// session's state: sender reports refresh the last-SR timestamp used for
// RTT computation, and receiver reports report the peer's view of our
// outbound stream (exposed via LastRTT).
func (s *Session) IngestReport(pkt rtcp.Packet) {
	now := time.Now()
	switch p := pkt.(type) {
	case *rtcp.SenderReport:
		s.NoteSenderReport(p.SSRC, p.NTPTime, now)
		for _, rr := range p.Reports {
			s.applyReceptionReport(rr, now)
		}
	case *rtcp.ReceiverReport:
		for _, rr := range p.Reports {
			s.applyReceptionReport(rr, now)
		}
	}
}

func (s *Session) applyReceptionReport(rr rtcp.ReceptionReport, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rr.SSRC != s.send.SSRC {
		return
	}
	if rr.LastSenderReport != 0 {
		s.lastRTT, _ = calcRTT(now, rr.LastSenderReport, rr.Delay)
	}
}

// LastRTT returns the most recently computed round-trip time derived from
// a peer's receiver report LSR/DLSR fields (RFC 3550 §6.4.1), or zero if
// none has been received yet.
func (s *Session) LastRTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRTT
}

// calcRTT derives round-trip time from the NTP "middle 32 bits" carried in
// LSR (last sender report) and DLSR (delay since last sender report), per
// RFC 3550 §6.4.1.
func calcRTT(now time.Time, lastSR uint32, delaySR uint32) (rtt time.Duration, skewed bool) {
	now32 := uint32(NTPTimestamp(now) >> 16)

	rtt32 := now32 - lastSR - delaySR
	skewed = now32-delaySR < lastSR

	secs := rtt32 & 0xFFFF0000 >> 16
	fracs := float64(rtt32&0x0000FFFF) / 65536
	rtt = time.Duration(secs)*time.Second + time.Duration(fracs*float64(time.Second))
	return
}
