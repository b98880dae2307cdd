// Package engine defines the boundary to the packet engine that does the
// actual networking. The session drives an Engine through connect, register
// and run; the engine reports peer refreshes and faults through a Sink.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/netip"

	"github.com/go-i2p/meshlink/lib/config"
	"github.com/go-i2p/meshlink/lib/peers"
	"golang.zx2c4.com/wireguard/tun"
)

// ErrFingerprintMismatch is returned when a server's advertised fingerprint
// does not match its public key.
var ErrFingerprintMismatch = errors.New("engine: server fingerprint does not match public key")

// Engine is the packet engine behind a session. Calls other than Close are
// made from a single goroutine, in order.
type Engine interface {
	// Connect contacts one coordination server candidate.
	Connect(ctx context.Context, server netip.AddrPort) (*HandshakeInfo, error)
	// Register asks the connected coordinator for a virtual address.
	Register(ctx context.Context, req RegisterRequest) (*Registration, error)
	// Run forwards traffic over dev until ctx is done or a fault stops it.
	Run(ctx context.Context, dev tun.Device, sink Sink) error
	// Close releases every resource the engine holds. It may be called from
	// any goroutine, more than once.
	Close() error
}

// Factory opens an engine for a configuration. An error means the engine's
// resources could not be acquired.
type Factory func(cfg *config.Config) (Engine, error)

// Sink receives the engine's asynchronous reports while it runs.
type Sink interface {
	// PublishPeers delivers a complete peer table snapshot.
	PublishPeers(entries []peers.Entry)
	// ReportFault delivers a fault by wire code; detail is passed on verbatim.
	ReportFault(code int, detail string)
}

// HandshakeInfo is what a coordination server presents when it answers.
type HandshakeInfo struct {
	// PublicKey is the server's DER encoded public key. It is empty when
	// server encryption is off.
	PublicKey []byte
	// Fingerprint is the server's advertised key fingerprint.
	Fingerprint string
	// Version is the server's protocol version.
	Version string
}

// PEM returns the public key in PEM form, or "" when there is none.
func (h *HandshakeInfo) PEM() string {
	if len(h.PublicKey) == 0 {
		return ""
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: h.PublicKey}))
}

// Verify checks the advertised fingerprint against the public key.
func (h *HandshakeInfo) Verify() error {
	if len(h.PublicKey) == 0 {
		return nil
	}
	if got := Fingerprint(h.PublicKey); got != h.Fingerprint {
		return fmt.Errorf("%w: advertised %q, computed %q", ErrFingerprintMismatch, h.Fingerprint, got)
	}
	return nil
}

// Fingerprint returns the base64 SHA-256 digest of a DER public key, the form
// servers advertise and hosts pin.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// RegisterRequest asks the coordinator for a virtual address.
type RegisterRequest struct {
	Token    string
	Name     string
	DeviceID string
	// IP is a requested static address, or the zero Addr
	IP            netip.Addr
	ClientVersion string
	// Encrypted tells the coordinator whether payloads are encrypted
	Encrypted bool
}

// RequestFor builds the registration request for cfg.
func RequestFor(cfg *config.Config, clientVersion string) RegisterRequest {
	return RegisterRequest{
		Token:         cfg.Token,
		Name:          cfg.Name,
		DeviceID:      cfg.DeviceID,
		IP:            cfg.IP,
		ClientVersion: clientVersion,
		Encrypted:     cfg.Cipher.Encrypts(),
	}
}

// Registration is the coordinator's answer to a registration.
type Registration struct {
	VirtualIP netip.Addr
	Netmask   netip.Addr
	Gateway   netip.Addr
	// Relay is the relay endpoint when the coordinator names one. Older
	// servers do not send it, so it may be the zero value.
	Relay netip.AddrPort
}
