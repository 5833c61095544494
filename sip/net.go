package sip

import (
	"errors"
	"net"
)

// Default ports per RFC 3261 §19.1.2, used whenever a Via/Contact/Request-URI
// omits an explicit port.
const (
	DefaultUdpPort = 5060
	DefaultTcpPort = 5060
	DefaultTlsPort = 5061
	DefaultWsPort  = 80
	DefaultWssPort = 443
)

// DefaultPort returns the default port for a transport name, used whenever a
// Via/Contact/Request-URI host carries no explicit port.
func DefaultPort(transport string) int {
	switch NetworkToLower(transport) {
	case "tls":
		return DefaultTlsPort
	case "wss":
		return DefaultWssPort
	case "ws":
		return DefaultWsPort
	case "tcp":
		return DefaultTcpPort
	default:
		return DefaultUdpPort
	}
}

// NetworkToLower is faster than strings.ToLower for converting UDP, TCP
// and the rest of our small transport name set to their lowercase form.
func NetworkToLower(network string) string {
	switch network {
	case "UDP":
		return "udp"
	case "TCP":
		return "tcp"
	case "TLS":
		return "tls"
	case "WS":
		return "ws"
	case "WSS":
		return "wss"
	default:
		return ASCIIToLower(network)
	}
}

// IsReliable reports whether a transport preserves message boundaries and
// delivery order end-to-end, which governs whether the transaction layer
// arms unreliable-only retransmission timers (A/E) or leaves retransmission
// to the transport (RFC 3261 §17.1.1.2, §17.1.2.2).
func IsReliable(network string) bool {
	switch NetworkToLower(network) {
	case "udp":
		return false
	default:
		return true
	}
}

// ResolveSelfIP picks the IP a freshly constructed UserAgent advertises in
// its own Via/Contact headers when none is configured explicitly: the first
// address of the first up, non-loopback interface.
func ResolveSelfIP() (net.IP, error) {
	ip, _, err := ResolveInterfacesIP("ip4", nil)
	if err != nil {
		return nil, errors.Join(errors.New("sip: could not resolve a local IP to listen on"), err)
	}
	return ip, nil
}
