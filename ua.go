package voipcore

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"time"

	"github.com/voipstack/corevoip/sip"
	"github.com/voipstack/corevoip/transaction"
	"github.com/voipstack/corevoip/transport"
)

type UserAgent struct {
	name     string
	hostname string
	ip       net.IP
	host     string
	port     int

	dnsResolver   *net.Resolver
	tlsConfig     *tls.Config
	txOpts        []transaction.LayerOption
	mtuThreshold  int
	tp            *transport.Layer
	tx            *transaction.Layer
}

// WithSIPTimerT1 retunes the base RFC 3261 retransmission interval
// (sip_timer_t1_ms, spec §6) for this UserAgent's transaction layer, instead
// of mutating the package-level transaction.T1 var shared by every Layer in
// the process.
func WithSIPTimerT1(d time.Duration) UserAgentOption {
	return func(s *UserAgent) error {
		s.txOpts = append(s.txOpts, transaction.WithT1(d))
		return nil
	}
}

// WithMTUThreshold overrides the RFC 3261 §18.1.1 UDP->TCP promotion
// threshold (in bytes) used by this UserAgent's transport layer.
func WithMTUThreshold(bytes int) UserAgentOption {
	return func(s *UserAgent) error {
		s.mtuThreshold = bytes
		return nil
	}
}

type UserAgentOption func(s *UserAgent) error

func WithUserAgent(ua string) UserAgentOption {
	return func(s *UserAgent) error {
		s.name = ua
		return nil
	}
}

func WithIP(ip string) UserAgentOption {
	return func(s *UserAgent) error {
		host, _, err := net.SplitHostPort(ip)
		if err != nil {
			return err
		}
		addr, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return err
		}
		return s.setIP(addr.IP)
	}
}

func WithDNSResolver(r *net.Resolver) UserAgentOption {
	return func(s *UserAgent) error {
		s.dnsResolver = r
		return nil
	}
}

// WithUserAgentHostname sets the hostname placed in the From header URI of
// requests this UA originates. Without it the From URI host falls back to
// the routing host/IP used on Via (see clientRequestCreateVia).
func WithUserAgentHostname(hostname string) UserAgentOption {
	return func(s *UserAgent) error {
		s.hostname = hostname
		return nil
	}
}

// WithUserAgenTLSConfig sets the tls.Config used for outbound TLS/WSS
// connections and TLS listeners started from this UA.
func WithUserAgenTLSConfig(conf *tls.Config) UserAgentOption {
	return func(s *UserAgent) error {
		s.tlsConfig = conf
		return nil
	}
}

func WithUDPDNSResolver(dns string) ServerOption {
	return func(s *Server) error {
		s.dnsResolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, "udp", dns)
			},
		}
		return nil
	}
}

func NewUA(options ...UserAgentOption) (*UserAgent, error) {
	s := &UserAgent{}

	for _, o := range options {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	if s.ip == nil {
		v, err := sip.ResolveSelfIP()
		if err != nil {
			return nil, err
		}
		if err := s.setIP(v); err != nil {
			return nil, err
		}
	}

	var tpOpts []transport.LayerOption
	if s.mtuThreshold > 0 {
		tpOpts = append(tpOpts, transport.WithMTUThreshold(s.mtuThreshold))
	}
	s.tp = transport.NewLayer(s.dnsResolver, sip.NewParser(), s.tlsConfig, tpOpts...)
	s.tx = transaction.NewLayer(s.tp, s.txOpts...)
	return s, nil
}

// Listen adds listener for serve
func (ua *UserAgent) setIP(ip net.IP) (err error) {
	ua.ip = ip
	ua.host = strings.Split(ip.String(), ":")[0]
	return err
}
