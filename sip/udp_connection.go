package sip

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
)

// UDPMTUSize is the datagram size above which a message should be promoted
// to a reliable-stream transport (RFC 3261 §18.1.1); also used here as a
// sender-side sanity bound.
const UDPMTUSize = 1500

var ErrUDPMTUCongestion = errors.New("sip: message size larger than UDP MTU")

// UDPConnection is a minimal sip.Connection over a UDP socket, used directly
// by callers (tests, simple UAS setups) that want to drive a ServerTx/ClientTx
// without going through the full transport.Layer connection pool.
type UDPConnection struct {
	// PacketConn is used when this connection fans in/out to multiple peers
	// (a bound listener). Conn is used instead for an already-dialed,
	// single-peer socket. Exactly one should be set.
	PacketConn net.PacketConn
	Conn       net.Conn

	// Listener marks a PacketConn owned by a Transport listener, so Close
	// does not tear down the shared socket underneath other connections.
	Listener bool

	mu       sync.RWMutex
	refcount int
}

func (c *UDPConnection) LocalAddr() net.Addr {
	if c.Conn != nil {
		return c.Conn.LocalAddr()
	}
	return c.PacketConn.LocalAddr()
}

func (c *UDPConnection) RemoteAddr() net.Addr {
	if c.Conn != nil {
		return c.Conn.RemoteAddr()
	}
	return nil
}

func (c *UDPConnection) Ref(i int) int {
	c.mu.Lock()
	c.refcount += i
	ref := c.refcount
	c.mu.Unlock()
	return ref
}

func (c *UDPConnection) TryClose() (int, error) {
	c.mu.Lock()
	c.refcount--
	ref := c.refcount
	c.mu.Unlock()

	if c.Listener || ref > 0 {
		return ref, nil
	}
	if ref < 0 {
		return 0, nil
	}
	return ref, c.Close()
}

func (c *UDPConnection) Close() error {
	if c.Conn != nil {
		return c.Conn.Close()
	}
	if c.Listener {
		return nil
	}
	return c.PacketConn.Close()
}

func (c *UDPConnection) WriteMsg(msg Message) error {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	msg.StringWrite(buf)
	data := buf.Bytes()

	if len(data) > UDPMTUSize-200 {
		return ErrUDPMTUCongestion
	}

	if SIPDebug {
		logSIPWrite("UDP", c.LocalAddr().String(), msg.Destination(), data)
	}

	if c.Conn != nil {
		_, err := c.Conn.Write(data)
		return err
	}

	dst := msg.Destination()
	host, port, err := ParseAddr(dst)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return fmt.Errorf("sip: resolving %q: %w", host, err)
		}
		ip = resolved.IP
	}
	if port == 0 {
		port = DefaultUdpPort
	}

	_, err = c.PacketConn.WriteTo(data, &net.UDPAddr{IP: ip, Port: port})
	return err
}
