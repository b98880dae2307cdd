package errors

import "fmt"

// Kind is the closed taxonomy of faults delivered on the error channel.
type Kind uint8

const (
	// Unknown is any unmapped engine fault code.
	Unknown Kind = iota
	// TokenError means the coordinator rejected the overlay token. Fatal.
	TokenError
	// Disconnected means contact with the coordinator or peers was lost.
	// The engine may retry internally before escalating.
	Disconnected
	// AddressExhausted means no virtual IP is available. Fatal.
	AddressExhausted
	// IPAlreadyExists means the requested static IP belongs to another member. Fatal.
	IPAlreadyExists
	// InvalidIP means the configured IP is malformed or out of range. Fatal.
	InvalidIP
)

// Wire codes. Unknown has no code of its own; it is reported as 6.
const (
	codeTokenError       = 1
	codeDisconnected     = 2
	codeAddressExhausted = 3
	codeIPAlreadyExists  = 4
	codeInvalidIP        = 5
	codeUnknown          = 6
)

// FromCode maps an engine fault code to its kind. It is total: every code
// outside 1..5 maps to Unknown.
func FromCode(code int) Kind {
	switch code {
	case codeTokenError:
		return TokenError
	case codeDisconnected:
		return Disconnected
	case codeAddressExhausted:
		return AddressExhausted
	case codeIPAlreadyExists:
		return IPAlreadyExists
	case codeInvalidIP:
		return InvalidIP
	default:
		return Unknown
	}
}

// Code returns the wire code for the kind.
func (k Kind) Code() int {
	switch k {
	case TokenError:
		return codeTokenError
	case Disconnected:
		return codeDisconnected
	case AddressExhausted:
		return codeAddressExhausted
	case IPAlreadyExists:
		return codeIPAlreadyExists
	case InvalidIP:
		return codeInvalidIP
	default:
		return codeUnknown
	}
}

// Fatal reports whether a fault of this kind ends the session.
func (k Kind) Fatal() bool {
	switch k {
	case TokenError, AddressExhausted, IPAlreadyExists, InvalidIP:
		return true
	default:
		return false
	}
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case TokenError:
		return "token_error"
	case Disconnected:
		return "disconnected"
	case AddressExhausted:
		return "address_exhausted"
	case IPAlreadyExists:
		return "ip_already_exists"
	case InvalidIP:
		return "invalid_ip"
	default:
		return "unknown"
	}
}

// Notification is one entry on the error channel.
type Notification struct {
	// Kind is the classified fault.
	Kind Kind
	// Detail is optional free text, kept exactly as the engine supplied it.
	Detail string
}

// Notify builds a notification from a raw engine code and detail.
func Notify(code int, detail string) Notification {
	return Notification{Kind: FromCode(code), Detail: detail}
}

// NotificationOf builds a notification from an error.
func NotificationOf(err error) Notification {
	return Notification{Kind: KindOf(err), Detail: DetailOf(err)}
}

// String implements fmt.Stringer.
func (n Notification) String() string {
	if n.Detail == "" {
		return n.Kind.String()
	}
	return fmt.Sprintf("%s: %s", n.Kind, n.Detail)
}
