package tunnel

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/go-i2p/meshlink/lib/config"
	"go4.org/netipx"
)

// Device defaults.
const (
	DefaultName = "meshlink-tun"
	DefaultMTU  = 1420
)

// Spec describes the device to create or adopt.
type Spec struct {
	Name      string
	VirtualIP netip.Addr
	Netmask   netip.Addr
	Gateway   netip.Addr
	// Network is VirtualIP masked by Netmask
	Network netip.Prefix
	// ExternalRoutes are point-to-network destinations routed into the device
	ExternalRoutes []netip.Prefix
	MTU            int
}

// SpecFor builds the device spec for an assigned address.
func SpecFor(virtualIP, netmask, gateway netip.Addr, cfg *config.Config) (Spec, error) {
	if !virtualIP.Is4() {
		return Spec{}, fmt.Errorf("virtual IP %s: must be IPv4", virtualIP)
	}
	if !netmask.Is4() {
		return Spec{}, fmt.Errorf("netmask %s: must be IPv4", netmask)
	}
	network, ok := netipx.FromStdIPNet(&net.IPNet{
		IP:   virtualIP.AsSlice(),
		Mask: net.IPMask(netmask.AsSlice()),
	})
	if !ok {
		return Spec{}, fmt.Errorf("netmask %s: not a contiguous mask", netmask)
	}

	s := Spec{
		Name:      DefaultName,
		VirtualIP: virtualIP,
		Netmask:   netmask,
		Gateway:   gateway,
		Network:   network.Masked(),
		MTU:       DefaultMTU,
	}
	if cfg != nil {
		if cfg.DeviceName != "" {
			s.Name = cfg.DeviceName
		}
		if cfg.MTU != 0 {
			s.MTU = cfg.MTU
		}
		s.ExternalRoutes = cfg.ExternalRoutes()
	}
	return s, nil
}

// Validate checks that the spec is usable.
func (s Spec) Validate() error {
	if !s.VirtualIP.IsValid() {
		return errors.New("invalid virtual IP")
	}
	if !s.Network.IsValid() || !s.Network.Contains(s.VirtualIP) {
		return errors.New("virtual IP not in network")
	}
	if s.MTU <= 0 {
		return errors.New("invalid MTU")
	}
	return nil
}

// Routes returns the overlay network followed by the external routes.
func (s Spec) Routes() []netip.Prefix {
	return append([]netip.Prefix{s.Network}, slices.Clone(s.ExternalRoutes)...)
}
