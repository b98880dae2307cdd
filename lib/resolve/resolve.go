// Package resolve turns coordination and STUN server candidates into
// socket addresses, optionally through explicitly configured name servers.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single DNS exchange.
const DefaultTimeout = 3 * time.Second

// ErrNoAddress is returned when a name resolves to no usable address.
var ErrNoAddress = errors.New("no address found")

// Resolver resolves host:port candidates.
type Resolver struct {
	nameServers []string
	client      *dns.Client
	system      *net.Resolver
}

// New creates a resolver. With no name servers the system resolver is used.
// Name servers must be host:port.
func New(nameServers []string) *Resolver {
	return &Resolver{
		nameServers: slices.Clone(nameServers),
		client: &dns.Client{
			Net:            "udp",
			Timeout:        DefaultTimeout,
			SingleInflight: true,
		},
		system: net.DefaultResolver,
	}
}

// Resolve returns every address for candidate, IPv4 first. IP literals are
// returned without a lookup.
func (r *Resolver) Resolve(ctx context.Context, candidate string) ([]netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(candidate)
	if err != nil {
		return nil, fmt.Errorf("candidate %q: %w", candidate, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("candidate %q: invalid port: %w", candidate, err)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(addr.Unmap(), uint16(port))}, nil
	}

	var addrs []netip.Addr
	if len(r.nameServers) == 0 {
		addrs, err = r.lookupSystem(ctx, host)
	} else {
		addrs, err = r.lookupServers(ctx, host)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}

	out := make([]netip.AddrPort, 0, len(addrs))
	for _, a := range order(addrs) {
		out = append(out, netip.AddrPortFrom(a, uint16(port)))
	}
	log.WithField("candidate", candidate).WithField("addresses", len(out)).Debug("resolved candidate")
	return out, nil
}

func (r *Resolver) lookupSystem(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := r.system.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, ErrNoAddress
	}
	return addrs, nil
}

// lookupServers asks each name server in turn and returns the first
// non-empty answer.
func (r *Resolver) lookupServers(ctx context.Context, host string) ([]netip.Addr, error) {
	var errs []error
	for _, server := range r.nameServers {
		addrs, err := r.query(ctx, server, host)
		if err == nil && len(addrs) > 0 {
			return addrs, nil
		}
		if err == nil {
			err = ErrNoAddress
		}
		log.WithError(err).WithField("name_server", server).Debug("name server lookup failed")
		errs = append(errs, fmt.Errorf("%s: %w", server, err))
	}
	return nil, errors.Join(errs...)
}

// query sends the A and AAAA questions to server concurrently.
func (r *Resolver) query(ctx context.Context, server, host string) ([]netip.Addr, error) {
	var (
		mu    sync.Mutex
		addrs []netip.Addr
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		g.Go(func() error {
			m := new(dns.Msg)
			m.SetQuestion(dns.Fqdn(host), qtype)
			m.RecursionDesired = true

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				return err
			}
			if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
				return fmt.Errorf("%s query: %s", dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
			}

			mu.Lock()
			defer mu.Unlock()
			for _, rr := range resp.Answer {
				switch v := rr.(type) {
				case *dns.A:
					if a, ok := netip.AddrFromSlice(v.A); ok {
						addrs = append(addrs, a.Unmap())
					}
				case *dns.AAAA:
					if a, ok := netip.AddrFromSlice(v.AAAA); ok {
						addrs = append(addrs, a)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return addrs, nil
}

// order removes duplicates and puts IPv4 addresses first, keeping the
// relative order within each family.
func order(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		a = a.Unmap()
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	slices.SortStableFunc(out, func(a, b netip.Addr) int {
		switch {
		case a.Is4() == b.Is4():
			return 0
		case a.Is4():
			return -1
		default:
			return 1
		}
	})
	return out
}
