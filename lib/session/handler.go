package session

import (
	"github.com/go-i2p/meshlink/lib/errors"
)

// Handler receives a session's events. All methods are called from one
// goroutine per session, in protocol order:
//
//	Connect* Handshake Register (DeviceCreated | DeviceRequest) Connected
//	(PeerList | Error)* Stopped
//
// The session stops at the first rejection or failure, so any suffix may be
// missing except Stopped, which is always delivered exactly once.
//
// Handshake, Register and DeviceRequest are decisions: the session waits for
// their result. Handlers must return promptly and must not call Wait on
// their own session.
type Handler interface {
	Connect(ev ConnectEvent)
	Handshake(ev HandshakeEvent) bool
	Register(ev RegisterEvent) bool
	DeviceCreated(ev DeviceCreatedEvent)
	DeviceRequest(ev DeviceRequestEvent) (fd int, err error)
	Connected(ev ConnectedEvent)
	PeerList(ev PeerListEvent)
	Error(ev ErrorEvent)
	Stopped(ev StoppedEvent)
}

// BaseHandler accepts every decision and ignores notifications. Embed it to
// implement only the methods you need.
type BaseHandler struct{}

func (BaseHandler) Connect(ConnectEvent)             {}
func (BaseHandler) Handshake(HandshakeEvent) bool    { return true }
func (BaseHandler) Register(RegisterEvent) bool      { return true }
func (BaseHandler) DeviceCreated(DeviceCreatedEvent) {}
func (BaseHandler) Connected(ConnectedEvent)         {}
func (BaseHandler) PeerList(PeerListEvent)           {}
func (BaseHandler) Error(ErrorEvent)                 {}
func (BaseHandler) Stopped(StoppedEvent)             {}

// DeviceRequest fails: a host on a mobile platform has to supply a device.
func (BaseHandler) DeviceRequest(DeviceRequestEvent) (int, error) {
	return -1, errors.ErrDeviceUnavailable
}
