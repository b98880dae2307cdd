package session

import (
	"net/netip"

	"github.com/go-i2p/meshlink/lib/errors"
	"github.com/go-i2p/meshlink/lib/peers"
	"github.com/go-i2p/meshlink/lib/tunnel"
)

// EventKind identifies an event variant.
type EventKind int

const (
	EventConnect EventKind = iota
	EventHandshake
	EventRegister
	EventDeviceCreated
	EventDeviceRequest
	EventConnected
	EventPeerList
	EventError
	EventStopped
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventHandshake:
		return "handshake"
	case EventRegister:
		return "register"
	case EventDeviceCreated:
		return "device_created"
	case EventDeviceRequest:
		return "device_request"
	case EventConnected:
		return "connected"
	case EventPeerList:
		return "peer_list"
	case EventError:
		return "error"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification or decision. The set of variants is
// closed: it is one of the *Event types in this package.
type Event interface {
	Kind() EventKind
	isEvent()
}

// ConnectEvent is delivered before each attempt to reach a coordination
// server.
type ConnectEvent struct {
	// Server is the configured candidate
	Server string
	// Address is the resolved address being tried
	Address netip.AddrPort
	// Count is the attempt number for this session, starting at 1
	Count int
}

// HandshakeEvent asks the host whether to trust the server that answered.
type HandshakeEvent struct {
	// PublicKey is the server's key in PEM form, empty without server encryption
	PublicKey   string
	Fingerprint string
	Version     string
	Server      netip.AddrPort

	reply chan bool
}

// RegisterEvent asks the host whether to accept the assigned address.
type RegisterEvent struct {
	VirtualIP netip.Addr
	Netmask   netip.Addr
	Gateway   netip.Addr
	// Relay is the relay endpoint, zero if the server did not name one
	Relay netip.AddrPort

	reply chan bool
}

// DeviceCreatedEvent reports the device created on desktop platforms.
type DeviceCreatedEvent struct {
	Name    string
	Version string
}

// DeviceRequestEvent asks a mobile host for an open device descriptor
// configured as described.
type DeviceRequestEvent struct {
	tunnel.Spec

	reply chan deviceReply
}

// ConnectedEvent reports that the session is active.
type ConnectedEvent struct {
	VirtualIP netip.Addr
	Server    netip.AddrPort
}

// PeerListEvent carries a complete peer table snapshot.
type PeerListEvent struct {
	Peers []peers.Entry
}

// ErrorEvent carries a classified fault.
type ErrorEvent struct {
	Fault errors.Kind
	// Detail is the engine's text, unmodified
	Detail string
}

// Notification returns the event as an error channel entry.
func (e ErrorEvent) Notification() errors.Notification {
	return errors.Notification{Kind: e.Fault, Detail: e.Detail}
}

// StoppedEvent is the last event of every session.
type StoppedEvent struct {
	// State is StateStopped or StateFailed
	State State
	// Err is why the session failed, nil when it was stopped
	Err error
}

func (ConnectEvent) Kind() EventKind       { return EventConnect }
func (HandshakeEvent) Kind() EventKind     { return EventHandshake }
func (RegisterEvent) Kind() EventKind      { return EventRegister }
func (DeviceCreatedEvent) Kind() EventKind { return EventDeviceCreated }
func (DeviceRequestEvent) Kind() EventKind { return EventDeviceRequest }
func (ConnectedEvent) Kind() EventKind     { return EventConnected }
func (PeerListEvent) Kind() EventKind      { return EventPeerList }
func (ErrorEvent) Kind() EventKind         { return EventError }
func (StoppedEvent) Kind() EventKind       { return EventStopped }

func (ConnectEvent) isEvent()       {}
func (HandshakeEvent) isEvent()     {}
func (RegisterEvent) isEvent()      {}
func (DeviceCreatedEvent) isEvent() {}
func (DeviceRequestEvent) isEvent() {}
func (ConnectedEvent) isEvent()     {}
func (PeerListEvent) isEvent()      {}
func (ErrorEvent) isEvent()         {}
func (StoppedEvent) isEvent()       {}

type deviceReply struct {
	fd  int
	err error
}

// Accept answers a handshake received from a ChannelHandler.
func (e HandshakeEvent) Accept() { answer(e.reply, true) }

// Reject refuses a handshake received from a ChannelHandler.
func (e HandshakeEvent) Reject() { answer(e.reply, false) }

// Accept answers a registration received from a ChannelHandler.
func (e RegisterEvent) Accept() { answer(e.reply, true) }

// Reject refuses a registration received from a ChannelHandler.
func (e RegisterEvent) Reject() { answer(e.reply, false) }

// Provide answers a device request received from a ChannelHandler.
func (e DeviceRequestEvent) Provide(fd int) { answer(e.reply, deviceReply{fd: fd}) }

// Fail reports that the host could not open a device.
func (e DeviceRequestEvent) Fail(err error) { answer(e.reply, deviceReply{fd: -1, err: err}) }

// answer sends v unless the decision was already answered or the event did
// not come from a ChannelHandler.
func answer[T any](ch chan T, v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}
