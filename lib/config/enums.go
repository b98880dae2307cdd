package config

// Transport selects how the client talks to the coordinator and peers.
type Transport string

const (
	// TransportDatagram is the default UDP transport.
	TransportDatagram Transport = "udp"
	// TransportStream is TCP; only the first listen port is used.
	TransportStream Transport = "tcp"
)

// Cipher is the payload encryption suite. Peers using different suites
// cannot talk to each other.
type Cipher string

const (
	CipherAESGCM           Cipher = "aes_gcm"
	CipherChaCha20Poly1305 Cipher = "chacha20_poly1305"
	CipherAESCBC           Cipher = "aes_cbc"
	CipherAESECB           Cipher = "aes_ecb"
	CipherSM4CBC           Cipher = "sm4_cbc"
	CipherXOR              Cipher = "xor"
	CipherNone             Cipher = "none"
)

// Ciphers lists every supported suite, in the order they are documented.
func Ciphers() []Cipher {
	return []Cipher{
		CipherAESGCM, CipherChaCha20Poly1305, CipherAESCBC, CipherAESECB,
		CipherSM4CBC, CipherXOR, CipherNone,
	}
}

// Encrypts reports whether the suite protects payloads at all.
func (c Cipher) Encrypts() bool {
	return c != CipherNone && c != ""
}

// PunchModel restricts which address families are used for NAT traversal.
type PunchModel string

const (
	PunchIPv4 PunchModel = "ipv4"
	PunchIPv6 PunchModel = "ipv6"
	PunchAll  PunchModel = "all"
)

// ChannelPolicy restricts which paths carry peer traffic.
type ChannelPolicy string

const (
	ChannelRelay ChannelPolicy = "relay"
	ChannelP2P   ChannelPolicy = "p2p"
	ChannelAll   ChannelPolicy = "all"
)

// AllowsDirect reports whether peer-to-peer paths may be used.
func (p ChannelPolicy) AllowsDirect() bool {
	return p != ChannelRelay
}

// AllowsRelay reports whether relayed paths may be used.
func (p ChannelPolicy) AllowsRelay() bool {
	return p != ChannelP2P
}

func choices[T ~string](values ...T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
