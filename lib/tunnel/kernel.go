package tunnel

import (
	"fmt"
	"runtime"

	"github.com/go-i2p/meshlink/lib/errors"
	"golang.zx2c4.com/wireguard/tun"
)

// KernelProvider creates OS tunnel devices. Creating one usually needs
// elevated privileges. Address and route assignment is left to the engine.
type KernelProvider struct{}

// Create opens a new kernel tunnel device.
func (KernelProvider) Create(spec Spec) (tun.Device, Info, error) {
	if err := spec.Validate(); err != nil {
		return nil, Info{}, fmt.Errorf("%w: %v", errors.ErrDeviceUnavailable, err)
	}

	dev, err := tun.CreateTUN(spec.Name, spec.MTU)
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: creating %s: %v", errors.ErrDeviceUnavailable, spec.Name, err)
	}

	name, err := dev.Name()
	if err != nil {
		dev.Close()
		return nil, Info{}, fmt.Errorf("%w: reading device name: %v", errors.ErrDeviceUnavailable, err)
	}

	log.WithField("device", name).WithField("virtual_ip", spec.VirtualIP).WithField("mtu", spec.MTU).Info("created tunnel device")
	return dev, Info{Name: name, Version: "tun/" + runtime.GOOS}, nil
}

// Adopt wraps a descriptor opened by the host.
func (KernelProvider) Adopt(fd int, spec Spec) (tun.Device, error) {
	if fd < 0 {
		return nil, fmt.Errorf("%w: %d", errors.ErrBadDescriptor, fd)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrDeviceUnavailable, err)
	}
	dev, err := adoptFD(fd, spec.MTU)
	if err != nil {
		return nil, err
	}
	log.WithField("fd", fd).WithField("virtual_ip", spec.VirtualIP).Info("adopted tunnel device")
	return dev, nil
}
