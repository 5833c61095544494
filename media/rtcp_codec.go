package media

import "github.com/pion/rtcp"

// decodeRTCP parses a (possibly compound) RTCP datagram into its packets.
func decodeRTCP(buf []byte) ([]rtcp.Packet, error) {
	return rtcp.Unmarshal(buf)
}

// encodeRTCP serializes a single RTCP packet for transmission.
func encodeRTCP(pkt rtcp.Packet) ([]byte, error) {
	return pkt.Marshal()
}

// isRTCPPacketType distinguishes RTCP from RTP on a rtcp-mux'd socket by
// the payload type byte's well-known RTCP range, 64-95 (RFC 5761 §4: chosen
// because it does not overlap the dynamic RTP payload type range in common
// use, and SR/RR/SDES/BYE/APP packet types 200-204 fall inside it).
func isRTCPPacketType(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	pt := buf[1] & 0x7f
	return pt >= 64 && pt <= 95
}
