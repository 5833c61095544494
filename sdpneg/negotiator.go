// Package sdpneg implements the offer/answer SDP negotiator (spec §4.5,
// RFC 3264). It is pure: no I/O, no sockets, no goroutines. It consumes and
// produces *sdp.SessionDescription values from github.com/pion/sdp/v3 and
// leaves socket allocation to an injected PortAllocator, matching the
// codec-module split in spec §4.2 ("SDP parsing is a distinct sub-module").
package sdpneg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// Direction mirrors spec §3's SDP media direction enum.
type Direction int

const (
	DirectionSendRecv Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionInactive
)

func (d Direction) String() string {
	switch d {
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

// answer computes the direction this side should advertise in response to
// the offerer's direction: sendrecv<->sendrecv, sendonly->recvonly,
// recvonly->sendonly, inactive->inactive.
func (d Direction) answer() Direction {
	switch d {
	case DirectionSendOnly:
		return DirectionRecvOnly
	case DirectionRecvOnly:
		return DirectionSendOnly
	default:
		return d
	}
}

// CodecCapability describes one locally supported codec, keyed by RTP
// payload type per RFC 3551.
type CodecCapability struct {
	PayloadType int
	Name        string // e.g. "PCMU", "PCMA", "opus", "telephone-event"
	ClockRate   int
	Channels    int    // 0/1 omits the rtpmap channel count (mono)
	Fmtp        string // raw fmtp value, e.g. "101 0-15"; empty to omit
}

func (c CodecCapability) rtpmap() string {
	if c.Channels > 1 {
		return fmt.Sprintf("%d %s/%d/%d", c.PayloadType, c.Name, c.ClockRate, c.Channels)
	}
	return fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
}

// Allocation is the local transport endpoint a PortAllocator hands back for
// one negotiated (or offered) media line.
type Allocation struct {
	Address string // local connection address advertised in the answer/offer
	RTPPort int    // even port per spec §4.5
}

// PortAllocator supplies local RTP/RTCP port pairs for media lines. Release
// is called when a media line is rejected (port=0) or when the negotiation
// that reserved it is abandoned. Implemented by media.Controller's PortPool
// in this module; kept as an interface here to preserve sdpneg's no-I/O
// purity and let negotiation be unit tested without real sockets.
type PortAllocator interface {
	Allocate() (Allocation, error)
	Release(rtpPort int)
}

// ErrNoCodecIntersection is returned by Negotiate when none of the offered
// payload types/clock-rates match localCaps for a given media line. Per RFC
// 3264 this does not fail the whole negotiation; the caller answers that
// media line with port=0 (see Negotiate's per-line handling) and this error
// is only returned when every offered media line failed to intersect.
var ErrNoCodecIntersection = errors.New("sdpneg: no codec intersection with offer")

// PendingOffer is the negotiation state a dialog carries between sending
// (or receiving) an offer and applying the matching answer. Its lifetime
// matches the per-dialog offer/answer state machine in spec §4.4/§9: the
// coordinator attaches one of these to a Dialog on LocalOfferSent and
// consumes it on entering Negotiated.
type PendingOffer struct {
	Offer       *sdp.SessionDescription
	Allocations []Allocation // one per media line, parallel to Offer.MediaDescriptions
}

// NegotiatedMedia is the result of negotiation or answer application for one
// media line: the chosen codec, local/remote endpoints, and direction this
// side should use.
type NegotiatedMedia struct {
	MediaKind    string
	LocalAddr    string
	LocalPort    int // 0 means this media line was rejected
	RemoteAddr   string
	RemotePort   int
	PayloadType  int
	Direction    Direction
	RTCPMux      bool
}

// BuildOffer constructs an outbound SDP offer for localCaps, allocating one
// media line's worth of ports per capability group (all audio codecs share
// one m=audio line, formats listed in localCaps order, matching the
// offerer's-preference-order invariant in spec §4.5). originAddr is used
// both as o= unicast-address and c= connection-address.
func BuildOffer(originAddr string, localCaps []CodecCapability, alloc PortAllocator) (*sdp.SessionDescription, *PendingOffer, error) {
	if len(localCaps) == 0 {
		return nil, nil, errors.New("sdpneg: BuildOffer requires at least one codec capability")
	}

	allocation, err := alloc.Allocate()
	if err != nil {
		return nil, nil, fmt.Errorf("sdpneg: allocate offer port: %w", err)
	}

	sess := newSessionSkeleton(originAddr)
	mediaDesc := buildMediaDescription(allocation, localCaps, DirectionSendRecv, false)
	sess.MediaDescriptions = []*sdp.MediaDescription{mediaDesc}

	pending := &PendingOffer{Offer: sess, Allocations: []Allocation{allocation}}
	return sess, pending, nil
}

// Negotiate computes the offer/answer intersection for an inbound offer
// (spec §4.5): payload-type/clock-rate intersection preserving the
// offerer's preference order, one answer media line per offered line,
// port=0 for unsupported media, and direction negotiated per the table in
// Direction.answer. alloc is consulted once per accepted media line.
func Negotiate(offer *sdp.SessionDescription, localCaps []CodecCapability, originAddr string, alloc PortAllocator) (*sdp.SessionDescription, []NegotiatedMedia, error) {
	if offer == nil {
		return nil, nil, errors.New("sdpneg: nil offer")
	}

	answer := newSessionSkeleton(originAddr)
	answer.MediaDescriptions = make([]*sdp.MediaDescription, 0, len(offer.MediaDescriptions))

	results := make([]NegotiatedMedia, 0, len(offer.MediaDescriptions))
	matchedAny := false

	for _, offeredMedia := range offer.MediaDescriptions {
		chosen, offerDir, ok := intersect(offeredMedia, localCaps)
		if !ok {
			// RFC 3264: unsupported offered media yields port=0, not a
			// hard negotiation failure.
			answer.MediaDescriptions = append(answer.MediaDescriptions, rejectMediaLine(offeredMedia))
			results = append(results, NegotiatedMedia{
				MediaKind: offeredMedia.MediaName.Media,
				LocalPort: 0,
			})
			continue
		}
		matchedAny = true

		allocation, err := alloc.Allocate()
		if err != nil {
			return nil, nil, fmt.Errorf("sdpneg: allocate answer port: %w", err)
		}

		answerDir := offerDir.answer()
		mediaDesc := buildMediaDescription(allocation, []CodecCapability{chosen}, answerDir, hasRTCPMux(offeredMedia))
		answer.MediaDescriptions = append(answer.MediaDescriptions, mediaDesc)

		remoteAddr := connectionAddress(offer, offeredMedia)
		results = append(results, NegotiatedMedia{
			MediaKind:   offeredMedia.MediaName.Media,
			LocalAddr:   allocation.Address,
			LocalPort:   allocation.RTPPort,
			RemoteAddr:  remoteAddr,
			RemotePort:  offeredMedia.MediaName.Port.Value,
			PayloadType: chosen.PayloadType,
			Direction:   answerDir,
			RTCPMux:     hasRTCPMux(offeredMedia),
		})
	}

	if !matchedAny {
		return nil, nil, ErrNoCodecIntersection
	}

	return answer, results, nil
}

// ApplyAnswer extracts the chosen payload type and remote endpoint from an
// answer matching a PendingOffer built by BuildOffer, and releases any
// allocated ports the answer rejected (port=0).
func ApplyAnswer(pending *PendingOffer, answer *sdp.SessionDescription, alloc PortAllocator) ([]NegotiatedMedia, error) {
	if pending == nil {
		return nil, errors.New("sdpneg: ApplyAnswer called with no pending offer")
	}
	if answer == nil {
		return nil, errors.New("sdpneg: nil answer")
	}
	if len(answer.MediaDescriptions) != len(pending.Offer.MediaDescriptions) {
		return nil, fmt.Errorf("sdpneg: answer has %d media lines, offer had %d",
			len(answer.MediaDescriptions), len(pending.Offer.MediaDescriptions))
	}

	results := make([]NegotiatedMedia, 0, len(answer.MediaDescriptions))
	for i, answeredMedia := range answer.MediaDescriptions {
		offeredAllocation := pending.Allocations[i]
		rejected := answeredMedia.MediaName.Port.Value == 0

		if rejected {
			alloc.Release(offeredAllocation.RTPPort)
			results = append(results, NegotiatedMedia{
				MediaKind: answeredMedia.MediaName.Media,
				LocalPort: 0,
			})
			continue
		}

		pt, err := firstFormatPT(answeredMedia)
		if err != nil {
			return nil, err
		}

		remoteAddr := connectionAddress(answer, answeredMedia)
		results = append(results, NegotiatedMedia{
			MediaKind:   answeredMedia.MediaName.Media,
			LocalAddr:   offeredAllocation.Address,
			LocalPort:   offeredAllocation.RTPPort,
			RemoteAddr:  remoteAddr,
			RemotePort:  answeredMedia.MediaName.Port.Value,
			PayloadType: pt,
			Direction:   parseDirection(answeredMedia).answer(),
			RTCPMux:     hasRTCPMux(answeredMedia),
		})
	}

	return results, nil
}

func newSessionSkeleton(addr string) *sdp.SessionDescription {
	now := uint64(time.Now().Unix())
	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "corevoip",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}
}

func buildMediaDescription(allocation Allocation, codecs []CodecCapability, dir Direction, rtcpMux bool) *sdp.MediaDescription {
	formats := make([]string, 0, len(codecs))
	attrs := make([]sdp.Attribute, 0, len(codecs)*2+2)

	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(c.PayloadType))
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: strings.TrimPrefix(c.rtpmap(), strconv.Itoa(c.PayloadType)+" ")})
		if c.Fmtp != "" {
			attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: c.Fmtp})
		}
	}
	attrs = append(attrs, sdp.NewPropertyAttribute(dir.String()))
	if rtcpMux {
		attrs = append(attrs, sdp.NewPropertyAttribute("rtcp-mux"))
	}

	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: allocation.RTPPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: allocation.Address},
		},
		Attributes: attrs,
	}
}

// rejectMediaLine answers an unsupported offered media line with port=0
// per RFC 3264, preserving its kind and formats so the answer stays
// structurally well-formed.
func rejectMediaLine(offered *sdp.MediaDescription) *sdp.MediaDescription {
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   offered.MediaName.Media,
			Port:    sdp.RangedPort{Value: 0},
			Protos:  offered.MediaName.Protos,
			Formats: offered.MediaName.Formats,
		},
	}
}

// intersect finds the highest-preference offered codec (in the offerer's
// own order) that also appears in localCaps with a matching clock rate.
func intersect(offeredMedia *sdp.MediaDescription, localCaps []CodecCapability) (CodecCapability, Direction, bool) {
	rtpmaps := parseRtpmaps(offeredMedia)

	for _, format := range offeredMedia.MediaName.Formats {
		pt, err := strconv.Atoi(format)
		if err != nil {
			continue
		}
		for _, cap := range localCaps {
			if cap.PayloadType != pt {
				continue
			}
			if rtpmap, ok := rtpmaps[pt]; ok {
				name, clock, ok := parseRtpmap(rtpmap)
				if ok && (!strings.EqualFold(name, cap.Name) || clock != cap.ClockRate) {
					continue
				}
			}
			return cap, parseDirection(offeredMedia), true
		}
	}
	return CodecCapability{}, DirectionSendRecv, false
}

func parseRtpmaps(md *sdp.MediaDescription) map[int]string {
	out := make(map[int]string)
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		parts := strings.SplitN(attr.Value, " ", 2)
		if len(parts) != 2 {
			continue
		}
		pt, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		out[pt] = parts[1]
	}
	return out
}

func parseRtpmap(rtpmap string) (name string, clockRate int, ok bool) {
	parts := strings.Split(rtpmap, "/")
	if len(parts) < 2 {
		return "", 0, false
	}
	clock, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, false
	}
	return parts[0], clock, true
}

func parseDirection(md *sdp.MediaDescription) Direction {
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "sendonly":
			return DirectionSendOnly
		case "recvonly":
			return DirectionRecvOnly
		case "inactive":
			return DirectionInactive
		case "sendrecv":
			return DirectionSendRecv
		}
	}
	return DirectionSendRecv
}

func hasRTCPMux(md *sdp.MediaDescription) bool {
	for _, attr := range md.Attributes {
		if attr.Key == "rtcp-mux" {
			return true
		}
	}
	return false
}

func connectionAddress(session *sdp.SessionDescription, md *sdp.MediaDescription) string {
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		return md.ConnectionInformation.Address.Address
	}
	if session.ConnectionInformation != nil && session.ConnectionInformation.Address != nil {
		return session.ConnectionInformation.Address.Address
	}
	return ""
}

func firstFormatPT(md *sdp.MediaDescription) (int, error) {
	if len(md.MediaName.Formats) == 0 {
		return 0, errors.New("sdpneg: answer media line has no formats")
	}
	pt, err := strconv.Atoi(md.MediaName.Formats[0])
	if err != nil {
		return 0, fmt.Errorf("sdpneg: invalid payload type %q: %w", md.MediaName.Formats[0], err)
	}
	return pt, nil
}
