package wifi

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// SocketPool creates TCP sockets with the source address bound to the radio's
// IPv4 address. The egress interface is still chosen by the routing table.
type SocketPool struct {
	iface  string
	local  netip.Addr
	dialer net.Dialer
}

func NewSocketPool(iface string, local netip.Addr) *SocketPool {
	return &SocketPool{
		iface: iface,
		local: local,
		dialer: net.Dialer{
			LocalAddr: &net.TCPAddr{IP: local.AsSlice()},
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// DialContext matches the signature of http.Transport.DialContext.
func (p *SocketPool) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4":
	default:
		return nil, fmt.Errorf("socket pool %s: unsupported network %q", p.iface, network)
	}
	conn, err := p.dialer.DialContext(ctx, "tcp4", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s via %s: %w", address, p.iface, err)
	}
	return conn, nil
}

func (p *SocketPool) LocalAddr() netip.Addr { return p.local }

func (p *SocketPool) Interface() string { return p.iface }
