// Package config describes how a client joins an overlay network. Hosts fill
// in Options, usually from a TOML file, and Parse turns them into a validated
// Config before any network resource is touched.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/go-i2p/meshlink/lib/validation"
)

// Default values applied when a field is left empty.
const (
	DefaultServer         = "vnt.wherewego.top:29872"
	DefaultStunPort       = "3478"
	DefaultNameServerPort = "53"
	MinMTU                = 576
	MaxMTU                = 9000
	// MaxPacketDelay caps the synthetic delay used for diagnostics.
	MaxPacketDelay = time.Hour
)

const maxPacketDelayMillis = int(MaxPacketDelay / time.Millisecond)

// DefaultStunServers are used when no STUN servers are configured.
var DefaultStunServers = []string{
	"stun1.l.google.com:19302",
	"stun2.l.google.com:19302",
	"stun.miwifi.com:3478",
}

// Options holds the raw, unvalidated fields supplied by the host.
type Options struct {
	// Token identifies the overlay network; members sharing it see each other
	Token string `toml:"token"`
	// Name is the display name other members see
	Name string `toml:"name"`
	// DeviceID must be unique per member within the overlay
	DeviceID string `toml:"device_id"`
	// IP optionally requests a fixed virtual IPv4 address
	IP string `toml:"ip,omitempty"`

	// Ports are the local listen ports; 0 picks an ephemeral port
	Ports []int `toml:"ports"`
	// TCP selects stream transport instead of datagrams
	TCP         bool     `toml:"tcp"`
	Servers     []string `toml:"servers"`
	StunServers []string `toml:"stun_servers"`
	NameServers []string `toml:"name_servers,omitempty"`

	Password string `toml:"password,omitempty"`
	// Cipher is one of aes_gcm, chacha20_poly1305, aes_cbc, aes_ecb, sm4_cbc, xor, none
	Cipher string `toml:"cipher,omitempty"`
	// ServerEncrypt turns on transport encryption to the coordinator
	ServerEncrypt bool `toml:"server_encrypt"`
	// Finger enables handshake fingerprint verification
	Finger bool `toml:"finger"`

	// Punch is ipv4, ipv6 or all
	Punch string `toml:"punch"`
	// Relay forces every peer path through the relay
	Relay        bool `toml:"relay"`
	FirstLatency bool `toml:"first_latency"`
	// Channel is relay, p2p or all
	Channel string `toml:"channel"`

	// InIPs are "cidr,gateway" inbound acceptance rules
	InIPs []string `toml:"in_ips,omitempty"`
	// OutIPs are "cidr" subnets advertised to the overlay
	OutIPs []string `toml:"out_ips,omitempty"`

	// MTU of the virtual device; 0 lets the engine decide
	MTU        int    `toml:"mtu"`
	DeviceName string `toml:"device_name,omitempty"`

	// PacketLoss is a synthetic drop probability for testing
	PacketLoss *float64 `toml:"packet_loss,omitempty"`
	// PacketDelay is a synthetic delay in milliseconds for testing
	PacketDelay *int `toml:"packet_delay,omitempty"`
}

// Config is a validated configuration. It is treated as immutable once
// returned by Parse; use Clone before handing it to another owner.
type Config struct {
	Token    string
	Name     string
	DeviceID string
	// IP is the requested virtual address, or the zero Addr
	IP netip.Addr

	Ports       []int
	Transport   Transport
	Servers     []string
	StunServers []string
	NameServers []string

	Password      string
	Cipher        Cipher
	ServerEncrypt bool
	Finger        bool

	Punch        PunchModel
	Relay        bool
	FirstLatency bool
	Channel      ChannelPolicy

	InRoutes  []InboundRoute
	OutRoutes []netip.Prefix

	MTU        int
	DeviceName string

	PacketLoss  float64
	PacketDelay time.Duration
}

// Parse validates opts and returns the resulting Config. Every failing field
// is reported; the returned error is a validation.Errors. No Config is
// returned unless all fields are valid.
func Parse(opts Options) (*Config, error) {
	var errs validation.Errors
	cfg := &Config{
		Token:         strings.TrimSpace(opts.Token),
		Name:          strings.TrimSpace(opts.Name),
		DeviceID:      strings.TrimSpace(opts.DeviceID),
		Password:      opts.Password,
		ServerEncrypt: opts.ServerEncrypt,
		Finger:        opts.Finger,
		Relay:         opts.Relay,
		FirstLatency:  opts.FirstLatency,
		DeviceName:    strings.TrimSpace(opts.DeviceName),
		MTU:           opts.MTU,
	}

	errs.Add(validation.Identity("token", opts.Token))
	errs.Add(validation.Identity("name", opts.Name))
	errs.Add(validation.Identity("device_id", opts.DeviceID))

	if strings.TrimSpace(opts.IP) != "" {
		ip, err := validation.IPv4("ip", opts.IP)
		errs.Add(err)
		cfg.IP = ip
	}

	cfg.Transport = TransportDatagram
	if opts.TCP {
		cfg.Transport = TransportStream
	}
	cfg.Ports = slices.Clone(opts.Ports)
	checkPorts(errs.Add, cfg.Transport, cfg.Ports)

	for _, s := range opts.Servers {
		cfg.Servers = append(cfg.Servers, strings.TrimSpace(s))
	}
	checkServers(errs.Add, cfg.Servers)
	cfg.StunServers = withDefaultPorts(errs.Add, "stun_servers", opts.StunServers, DefaultStunPort)
	cfg.NameServers = withDefaultPorts(errs.Add, "name_servers", opts.NameServers, DefaultNameServerPort)

	if cipher := strings.TrimSpace(opts.Cipher); cipher == "" {
		cfg.Cipher = CipherNone
		if opts.Password != "" {
			cfg.Cipher = CipherAESGCM
		}
	} else {
		v, err := validation.OneOf("cipher", cipher, choices(Ciphers()...)...)
		errs.Add(err)
		cfg.Cipher = Cipher(v)
	}

	cfg.Punch = PunchAll
	if strings.TrimSpace(opts.Punch) != "" {
		v, err := validation.OneOf("punch", opts.Punch, choices(PunchIPv4, PunchIPv6, PunchAll)...)
		errs.Add(err)
		cfg.Punch = PunchModel(v)
	}

	cfg.Channel = ChannelAll
	if strings.TrimSpace(opts.Channel) != "" {
		v, err := validation.OneOf("channel", opts.Channel, choices(ChannelRelay, ChannelP2P, ChannelAll)...)
		errs.Add(err)
		cfg.Channel = ChannelPolicy(v)
	}
	if opts.Relay {
		cfg.Channel = ChannelRelay
	}

	in, inErrs := parseInbound("in_ips", opts.InIPs)
	errs = append(errs, inErrs...)
	cfg.InRoutes = in
	out, outErrs := parseOutbound("out_ips", opts.OutIPs)
	errs = append(errs, outErrs...)
	cfg.OutRoutes = out

	if opts.MTU != 0 {
		errs.Add(validation.IntRange("mtu", opts.MTU, MinMTU, MaxMTU))
	}

	if opts.PacketLoss != nil {
		errs.Add(validation.Probability("packet_loss", *opts.PacketLoss))
		cfg.PacketLoss = *opts.PacketLoss
	}
	if opts.PacketDelay != nil {
		if err := validation.IntRange("packet_delay", *opts.PacketDelay, 0, maxPacketDelayMillis); err != nil {
			errs.Add(err)
		} else {
			cfg.PacketDelay = time.Duration(*opts.PacketDelay) * time.Millisecond
		}
	}

	if errs.HasErrors() {
		log.WithField("fields", errs.Fields()).Debug("configuration rejected")
		return nil, errs
	}
	return cfg, nil
}

// Validate checks a Config that did not come from Parse, such as one a host
// assembled field by field. Like Parse it reports every failing field in a
// validation.Errors.
func (c *Config) Validate() error {
	var errs validation.Errors

	errs.Add(validation.Identity("token", c.Token))
	errs.Add(validation.Identity("name", c.Name))
	errs.Add(validation.Identity("device_id", c.DeviceID))
	if c.IP.IsValid() && !c.IP.Is4() {
		errs.Add(validation.NewResult("ip", "must be an IPv4 address", validation.ErrInvalidFormat))
	}

	errs.Add(member("transport", c.Transport, TransportDatagram, TransportStream))
	checkPorts(errs.Add, c.Transport, c.Ports)
	checkServers(errs.Add, c.Servers)
	for i, s := range c.StunServers {
		errs.Add(validation.HostPort(fmt.Sprintf("stun_servers[%d]", i), s))
	}
	for i, s := range c.NameServers {
		errs.Add(validation.HostPort(fmt.Sprintf("name_servers[%d]", i), s))
	}

	errs.Add(member("cipher", c.Cipher, Ciphers()...))
	errs.Add(member("punch", c.Punch, PunchIPv4, PunchIPv6, PunchAll))
	errs.Add(member("channel", c.Channel, ChannelRelay, ChannelP2P, ChannelAll))

	for i, r := range c.InRoutes {
		if !r.Network.IsValid() || !r.Gateway.Is4() {
			errs.Add(validation.NewResult(fmt.Sprintf("in_ips[%d]", i), "needs a network and an IPv4 gateway", validation.ErrInvalidFormat))
		}
	}
	for i, p := range c.OutRoutes {
		if !p.IsValid() {
			errs.Add(validation.NewResult(fmt.Sprintf("out_ips[%d]", i), "must be a valid network", validation.ErrInvalidFormat))
		}
	}

	if c.MTU != 0 {
		errs.Add(validation.IntRange("mtu", c.MTU, MinMTU, MaxMTU))
	}
	errs.Add(validation.Probability("packet_loss", c.PacketLoss))
	if c.PacketDelay < 0 || c.PacketDelay > MaxPacketDelay {
		errs.Add(validation.NewResult("packet_delay", fmt.Sprintf("must be between 0 and %s", MaxPacketDelay), validation.ErrOutOfRange))
	}

	return errs.Err()
}

func checkPorts(report func(error), transport Transport, ports []int) {
	if transport == TransportStream && len(ports) == 0 {
		report(validation.NewResult("ports", "at least one port is required with tcp transport", validation.ErrRequired))
	}
	for i, p := range ports {
		report(validation.ListenPort(fmt.Sprintf("ports[%d]", i), p))
	}
}

func checkServers(report func(error), servers []string) {
	if len(servers) == 0 {
		report(validation.NewResult("servers", "at least one coordination server is required", validation.ErrRequired))
	}
	for i, s := range servers {
		report(validation.HostPort(fmt.Sprintf("servers[%d]", i), s))
	}
}

// member checks v against the exact set of values, unlike validation.OneOf
// which also normalizes raw input.
func member[T ~string](field string, v T, values ...T) error {
	if slices.Contains(values, v) {
		return nil
	}
	return validation.NewResult(field,
		fmt.Sprintf("%q is not supported, expected one of %s", v, strings.Join(choices(values...), "/")),
		validation.ErrUnsupported)
}

// withDefaultPorts validates host[:port] entries, appending port where it is
// missing.
func withDefaultPorts(report func(error), field string, raw []string, port string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for i, s := range raw {
		s = strings.TrimSpace(s)
		if addr, err := netip.ParseAddr(s); err == nil {
			s = net.JoinHostPort(addr.String(), port)
		} else if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, port)
		}
		report(validation.HostPort(fmt.Sprintf("%s[%d]", field, i), s))
		out = append(out, s)
	}
	return out
}

// ListenPorts returns the ports the engine should bind. Stream transport
// uses only the first configured port.
func (c *Config) ListenPorts() []int {
	if len(c.Ports) == 0 {
		return nil
	}
	if c.Transport == TransportStream {
		return []int{c.Ports[0]}
	}
	return slices.Clone(c.Ports)
}

// Diagnostics reports whether synthetic packet loss or delay is configured.
func (c *Config) Diagnostics() bool {
	return c.PacketLoss > 0 || c.PacketDelay > 0
}

// ExternalRoutes returns the networks reachable through the overlay via
// inbound rules.
func (c *Config) ExternalRoutes() []netip.Prefix {
	out := make([]netip.Prefix, len(c.InRoutes))
	for i, r := range c.InRoutes {
		out[i] = r.Network
	}
	return out
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Ports = slices.Clone(c.Ports)
	cp.Servers = slices.Clone(c.Servers)
	cp.StunServers = slices.Clone(c.StunServers)
	cp.NameServers = slices.Clone(c.NameServers)
	cp.InRoutes = slices.Clone(c.InRoutes)
	cp.OutRoutes = slices.Clone(c.OutRoutes)
	return &cp
}
