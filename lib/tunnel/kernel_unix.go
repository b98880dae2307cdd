//go:build linux || darwin || freebsd || openbsd

package tunnel

import (
	"fmt"
	"os"

	"github.com/go-i2p/meshlink/lib/errors"
	"golang.zx2c4.com/wireguard/tun"
)

func adoptFD(fd, mtu int) (tun.Device, error) {
	dev, err := tun.CreateTUNFromFile(os.NewFile(uintptr(fd), "/dev/tun"), mtu)
	if err != nil {
		return nil, fmt.Errorf("%w: adopting descriptor %d: %v", errors.ErrDeviceUnavailable, fd, err)
	}
	return dev, nil
}
