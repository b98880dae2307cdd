//go:build !(linux || darwin || freebsd || openbsd)

package tunnel

import (
	"github.com/go-i2p/meshlink/lib/errors"
	"golang.zx2c4.com/wireguard/tun"
)

func adoptFD(fd, mtu int) (tun.Device, error) {
	return nil, errors.ErrUnsupportedPlatform
}
