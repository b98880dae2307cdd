package tunnel

import (
	"fmt"
	"net/netip"

	"github.com/go-i2p/meshlink/lib/errors"
	"golang.zx2c4.com/wireguard/tun"
	"golang.zx2c4.com/wireguard/tun/netstack"
)

// NetstackProvider creates userspace devices backed by gVisor's network
// stack. It needs no privileges, so hosts can use it to reach the overlay
// from inside their own process.
type NetstackProvider struct {
	// DNS servers announced to the userspace stack
	DNS []netip.Addr
}

// NetstackDevice is the device returned by NetstackProvider.
type NetstackDevice struct {
	tun.Device
	net *netstack.Net
}

// Net returns the userspace stack for dialing and listening in the overlay.
func (d *NetstackDevice) Net() *netstack.Net {
	return d.net
}

// Create starts a userspace device with the spec's virtual IP.
func (p NetstackProvider) Create(spec Spec) (tun.Device, Info, error) {
	if err := spec.Validate(); err != nil {
		return nil, Info{}, fmt.Errorf("%w: %v", errors.ErrDeviceUnavailable, err)
	}

	dev, tnet, err := netstack.CreateNetTUN([]netip.Addr{spec.VirtualIP}, p.DNS, spec.MTU)
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: creating netstack TUN: %v", errors.ErrDeviceUnavailable, err)
	}

	name, _ := dev.Name()
	log.WithField("virtual_ip", spec.VirtualIP).WithField("mtu", spec.MTU).Debug("created netstack device")
	return &NetstackDevice{Device: dev, net: tnet}, Info{Name: name, Version: "netstack"}, nil
}

// Adopt always fails: a userspace stack has no descriptor to take over.
func (NetstackProvider) Adopt(fd int, spec Spec) (tun.Device, error) {
	return nil, fmt.Errorf("netstack cannot adopt descriptor %d: %w", fd, errors.ErrUnsupportedPlatform)
}
