package wifi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// InterfaceConnector skips association and waits for an already managed
// interface (wired, container veth, loopback) to carry an IPv4 address.
type InterfaceConnector struct {
	Name         string
	PollInterval time.Duration

	logger *slog.Logger
	lookup func(name string) ([]net.Addr, error)
}

func NewInterfaceConnector(name string, logger *slog.Logger) *InterfaceConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &InterfaceConnector{
		Name:         name,
		PollInterval: 250 * time.Millisecond,
		logger:       logger,
		lookup:       interfaceAddrs,
	}
}

func (c *InterfaceConnector) Connect(ctx context.Context, creds Credentials) (*Connection, error) {
	if creds.SSID != "" {
		c.logger.Warn("wifi: credentials ignored by interface backend", "interface", c.Name, "ssid", creds.SSID)
	}

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		addr, err := c.firstIPv4()
		if err == nil {
			return newConnection(c.Name, addr)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for ipv4 on %s: %w: %w", c.Name, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func (c *InterfaceConnector) firstIPv4() (netip.Addr, error) {
	addrs, err := c.lookup(c.Name)
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if ValidIPv4(addr) {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%s: %w", c.Name, ErrNoIPv4)
}

func interfaceAddrs(name string) ([]net.Addr, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	if ifi.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("interface %s is down", name)
	}
	return ifi.Addrs()
}
