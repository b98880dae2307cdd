// Package tunnel acquires the virtual network device a session attaches to.
// Desktop hosts let the client create the device itself; mobile hosts create
// it through the OS VPN service and hand over a file descriptor instead.
package tunnel

import "runtime"

// Platform selects how the virtual device is obtained.
type Platform uint8

const (
	// Desktop creates the device directly.
	Desktop Platform = iota
	// Mobile asks the host for an already-open device descriptor.
	Mobile
)

func (p Platform) String() string {
	if p == Mobile {
		return "mobile"
	}
	return "desktop"
}

// DetectPlatform returns the platform of the running binary.
func DetectPlatform() Platform {
	return platformFor(runtime.GOOS)
}

func platformFor(goos string) Platform {
	switch goos {
	case "android", "ios":
		return Mobile
	default:
		return Desktop
	}
}
