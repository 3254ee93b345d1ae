// Package wifi associates the device with a network and hands out a socket
// factory bound to the address it obtained.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"cloudpico-publisher/internal/config"
)

var (
	ErrNoIPv4           = errors.New("no ipv4 address")
	ErrMissingSSID      = errors.New("ssid is required")
	ErrActivationFailed = errors.New("connection activation failed")
)

type Credentials struct {
	SSID       string
	Passphrase string
}

// Connection is held for the lifetime of the process; there is no teardown.
type Connection struct {
	Interface string
	IPv4      netip.Addr
	Pool      *SocketPool
}

// Connector blocks until the device has an IPv4 address or fails.
type Connector interface {
	Connect(ctx context.Context, creds Credentials) (*Connection, error)
}

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// ValidIPv4 reports whether a is a usable unicast IPv4 address. Link-local
// addresses (169.254/16) mean DHCP failed and do not count.
func ValidIPv4(a netip.Addr) bool {
	return a.IsValid() && a.Is4() &&
		!a.IsUnspecified() &&
		!a.IsMulticast() &&
		!a.IsLinkLocalUnicast() &&
		a != limitedBroadcast
}

func newConnection(iface string, addr netip.Addr) (*Connection, error) {
	if !ValidIPv4(addr) {
		return nil, fmt.Errorf("%s: %w (got %v)", iface, ErrNoIPv4, addr)
	}
	return &Connection{
		Interface: iface,
		IPv4:      addr,
		Pool:      NewSocketPool(iface, addr),
	}, nil
}

// NewConnector picks the backend named by cfg.WiFiBackend.
func NewConnector(cfg config.Config, logger *slog.Logger) (Connector, error) {
	switch cfg.WiFiBackend {
	case config.BackendNetworkManager:
		return NewNetworkManager(cfg.WiFiInterface, logger), nil
	case config.BackendInterface:
		return NewInterfaceConnector(cfg.WiFiInterface, logger), nil
	default:
		return nil, fmt.Errorf("unknown wifi backend %q", cfg.WiFiBackend)
	}
}
