// Package peers holds the client's view of other overlay members: one entry
// per virtual address with its reachability and best known path.
package peers

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"
	"time"
)

// Status is the reachability of a peer.
type Status uint8

const (
	// Unreachable means no path to the peer is currently known.
	Unreachable Status = iota
	// Relayed means traffic goes through a relay server.
	Relayed
	// Direct means a peer-to-peer path is established.
	Direct
)

func (s Status) String() string {
	switch s {
	case Unreachable:
		return "unreachable"
	case Relayed:
		return "relayed"
	case Direct:
		return "direct"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Transport is the protocol a route runs over.
type Transport uint8

const (
	Datagram Transport = iota
	Stream
)

func (t Transport) String() string {
	switch t {
	case Datagram:
		return "udp"
	case Stream:
		return "tcp"
	default:
		return fmt.Sprintf("transport(%d)", uint8(t))
	}
}

// Route is one path to a peer.
type Route struct {
	Transport Transport
	// Address is the physical endpoint, zero when it is not exposed
	Address netip.AddrPort
	// Metric is the path cost; lower is better. Direct paths are 1 hop.
	Metric uint8
	RTT    time.Duration
}

// Direct reports whether the route is a peer-to-peer path rather than a relay.
func (r Route) Direct() bool {
	return r.Metric <= 1
}

// Entry is a single peer as observed in the latest refresh.
type Entry struct {
	VirtualIP netip.Addr
	Name      string
	Status    Status
	// Route is the best path, nil when the peer is unreachable
	Route *Route
	// Encrypted reports whether the peer uses payload encryption
	Encrypted bool
	// Candidates are all paths the engine knows. When set, Select picks Route
	// from them; when empty, Route is taken as reported.
	Candidates []Route
}

// Clone returns a copy of e that shares no memory with it.
func (e Entry) Clone() Entry {
	if e.Route != nil {
		r := *e.Route
		e.Route = &r
	}
	e.Candidates = slices.Clone(e.Candidates)
	return e
}

func (e Entry) String() string {
	if e.Route == nil {
		return fmt.Sprintf("%s %s %s", e.VirtualIP, e.Name, e.Status)
	}
	return fmt.Sprintf("%s %s %s %s metric=%d rtt=%s",
		e.VirtualIP, e.Name, e.Status, e.Route.Transport, e.Route.Metric, e.Route.RTT)
}

// Compare orders routes by metric then RTT, or by RTT then metric when
// latencyFirst is set.
func Compare(a, b Route, latencyFirst bool) int {
	if latencyFirst {
		return cmp.Or(cmp.Compare(a.RTT, b.RTT), cmp.Compare(a.Metric, b.Metric))
	}
	return cmp.Or(cmp.Compare(a.Metric, b.Metric), cmp.Compare(a.RTT, b.RTT))
}

// Best returns the preferred route among routes. It reports false when
// routes is empty.
func Best(routes []Route, latencyFirst bool) (Route, bool) {
	if len(routes) == 0 {
		return Route{}, false
	}
	best := routes[0]
	for _, r := range routes[1:] {
		if Compare(r, best, latencyFirst) < 0 {
			best = r
		}
	}
	return best, true
}

// Selection is the local path policy applied to candidate routes.
type Selection struct {
	Direct       bool
	Relay        bool
	LatencyFirst bool
}

func (s Selection) allows(r Route) bool {
	if r.Direct() {
		return s.Direct
	}
	return s.Relay
}

// Select returns copies of entries whose Route and Status are chosen from
// their Candidates under sel. A peer with candidates but none allowed is
// Unreachable. Entries without candidates are copied unchanged.
func Select(entries []Entry, sel Selection) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e = e.Clone()
		if len(e.Candidates) > 0 {
			allowed := slices.DeleteFunc(slices.Clone(e.Candidates), func(r Route) bool {
				return !sel.allows(r)
			})
			if best, ok := Best(allowed, sel.LatencyFirst); ok {
				e.Route = &best
				e.Status = Relayed
				if best.Direct() {
					e.Status = Direct
				}
			} else {
				e.Route = nil
				e.Status = Unreachable
			}
		}
		out[i] = e
	}
	return out
}
