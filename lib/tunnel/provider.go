package tunnel

import (
	"golang.zx2c4.com/wireguard/tun"
)

// Info identifies a created device.
type Info struct {
	Name    string
	Version string
}

// Provider obtains virtual devices. Desktop sessions call Create; mobile
// sessions call Adopt with the descriptor the host opened.
type Provider interface {
	Create(spec Spec) (tun.Device, Info, error)
	Adopt(fd int, spec Spec) (tun.Device, error)
}
