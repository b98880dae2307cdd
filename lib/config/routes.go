package config

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/go-i2p/meshlink/lib/validation"
	"go4.org/netipx"
)

// InboundRoute accepts traffic for Network from the overlay and hands it to
// Gateway, a member's virtual address.
type InboundRoute struct {
	Network netip.Prefix
	Gateway netip.Addr
}

// String returns the "cidr,gateway" form the route was parsed from.
func (r InboundRoute) String() string {
	return r.Network.String() + "," + r.Gateway.String()
}

// parseInbound parses "cidr,gateway" rules. The result is sorted descending
// by network so that more specific networks in the same range are tried first.
// On any failure no routes are returned.
func parseInbound(field string, raw []string) ([]InboundRoute, validation.Errors) {
	var errs validation.Errors
	routes := make([]InboundRoute, 0, len(raw))

	for i, s := range raw {
		name := fmt.Sprintf("%s[%d]", field, i)
		cidr, gw, ok := strings.Cut(s, ",")
		if !ok {
			errs.Add(validation.NewResult(name, fmt.Sprintf("%q must be in cidr,gateway format", s), validation.ErrInvalidFormat))
			continue
		}
		prefix, err := validation.CIDR(name, cidr)
		if err != nil {
			errs.Add(err)
			continue
		}
		gateway, err := validation.IPv4(name, gw)
		if err != nil {
			errs.Add(err)
			continue
		}
		routes = append(routes, InboundRoute{Network: prefix, Gateway: gateway})
	}

	if errs.HasErrors() {
		return nil, errs
	}
	slices.SortStableFunc(routes, func(a, b InboundRoute) int {
		return netipx.ComparePrefix(b.Network, a.Network)
	})
	return routes, nil
}

// parseOutbound parses the advertised subnets. On any failure no routes are
// returned.
func parseOutbound(field string, raw []string) ([]netip.Prefix, validation.Errors) {
	var errs validation.Errors
	routes := make([]netip.Prefix, 0, len(raw))

	for i, s := range raw {
		prefix, err := validation.CIDR(fmt.Sprintf("%s[%d]", field, i), s)
		if err != nil {
			errs.Add(err)
			continue
		}
		routes = append(routes, prefix)
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return routes, nil
}
