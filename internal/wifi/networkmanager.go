package wifi

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	nmDest           = "org.freedesktop.NetworkManager"
	nmPath           = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface          = "org.freedesktop.NetworkManager"
	nmActiveIface    = "org.freedesktop.NetworkManager.Connection.Active"
	nmIP4ConfigIface = "org.freedesktop.NetworkManager.IP4Config"
)

// NMActiveConnectionState values.
const (
	activeStateActivating   uint32 = 1
	activeStateActivated    uint32 = 2
	activeStateDeactivating uint32 = 3
	activeStateDeactivated  uint32 = 4
)

type busConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// NetworkManager associates with an access point by asking NetworkManager
// over the system bus to add and activate a connection profile.
type NetworkManager struct {
	Interface    string
	PollInterval time.Duration

	logger *slog.Logger
	dial   func(ctx context.Context) (busConn, error)
}

func NewNetworkManager(iface string, logger *slog.Logger) *NetworkManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &NetworkManager{
		Interface:    iface,
		PollInterval: 250 * time.Millisecond,
		logger:       logger,
		dial: func(ctx context.Context) (busConn, error) {
			return dbus.ConnectSystemBus(dbus.WithContext(ctx))
		},
	}
}

func (nm *NetworkManager) Connect(ctx context.Context, creds Credentials) (*Connection, error) {
	if creds.SSID == "" {
		return nil, ErrMissingSSID
	}

	bus, err := nm.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			nm.logger.Debug("wifi: close system bus", "error", err)
		}
	}()

	root := bus.Object(nmDest, nmPath)

	var device dbus.ObjectPath
	if err := root.CallWithContext(ctx, nmIface+".GetDeviceByIpIface", 0, nm.Interface).Store(&device); err != nil {
		return nil, fmt.Errorf("find device %s: %w", nm.Interface, err)
	}

	var (
		settings, active dbus.ObjectPath
		result           map[string]dbus.Variant
	)
	err = root.CallWithContext(ctx, nmIface+".AddAndActivateConnection2", 0,
		connectionProfile(creds), device, dbus.ObjectPath("/"), activationOptions(),
	).Store(&settings, &active, &result)
	if err != nil {
		return nil, fmt.Errorf("activate %q on %s: %w", creds.SSID, nm.Interface, err)
	}
	nm.logger.Debug("wifi: activation requested",
		"interface", nm.Interface,
		"device", device,
		"active", active,
	)

	addr, err := nm.waitForIPv4(ctx, bus, active)
	if err != nil {
		return nil, err
	}
	return newConnection(nm.Interface, addr)
}

func (nm *NetworkManager) waitForIPv4(ctx context.Context, bus busConn, active dbus.ObjectPath) (netip.Addr, error) {
	obj := bus.Object(nmDest, active)

	ticker := time.NewTicker(nm.PollInterval)
	defer ticker.Stop()

	for {
		state, err := uint32Property(obj, nmActiveIface+".State")
		if err != nil {
			return netip.Addr{}, fmt.Errorf("active connection state: %w", err)
		}

		switch state {
		case activeStateDeactivating, activeStateDeactivated:
			return netip.Addr{}, fmt.Errorf("%s: %w (state %d)", nm.Interface, ErrActivationFailed, state)
		case activeStateActivated:
			addr, err := nm.ipv4(bus, obj)
			if err == nil {
				return addr, nil
			}
			nm.logger.Debug("wifi: activated, waiting for address", "error", err)
		}

		select {
		case <-ctx.Done():
			return netip.Addr{}, fmt.Errorf("wait for activation on %s: %w", nm.Interface, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (nm *NetworkManager) ipv4(bus busConn, active dbus.BusObject) (netip.Addr, error) {
	v, err := active.GetProperty(nmActiveIface + ".Ip4Config")
	if err != nil {
		return netip.Addr{}, err
	}
	path, ok := v.Value().(dbus.ObjectPath)
	if !ok || path == "/" || !path.IsValid() {
		return netip.Addr{}, ErrNoIPv4
	}

	data, err := bus.Object(nmDest, path).GetProperty(nmIP4ConfigIface + ".AddressData")
	if err != nil {
		return netip.Addr{}, err
	}
	entries, ok := data.Value().([]map[string]dbus.Variant)
	if !ok {
		return netip.Addr{}, fmt.Errorf("unexpected AddressData signature %s", data.Signature())
	}
	for _, e := range entries {
		s, ok := e["address"].Value().(string)
		if !ok {
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err == nil && ValidIPv4(addr) {
			return addr, nil
		}
	}
	return netip.Addr{}, ErrNoIPv4
}

// activationOptions keeps the profile in memory only. NetworkManager drops it
// when the connection goes down, so restarts do not accumulate saved profiles.
func activationOptions() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"persist": dbus.MakeVariant("volatile"),
	}
}

func connectionProfile(creds Credentials) map[string]map[string]dbus.Variant {
	profile := map[string]map[string]dbus.Variant{
		"connection": {
			"id":   dbus.MakeVariant(creds.SSID),
			"type": dbus.MakeVariant("802-11-wireless"),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(creds.SSID)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"ipv4": {
			"method": dbus.MakeVariant("auto"),
		},
		"ipv6": {
			"method": dbus.MakeVariant("ignore"),
		},
	}
	if creds.Passphrase != "" {
		profile["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(creds.Passphrase),
		}
	}
	return profile
}

func uint32Property(obj dbus.BusObject, name string) (uint32, error) {
	v, err := obj.GetProperty(name)
	if err != nil {
		return 0, err
	}
	n, ok := v.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected signature %s", name, v.Signature())
	}
	return n, nil
}
