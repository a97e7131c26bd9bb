package defrt

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Kernel reads and prunes IPv6 default routes from the Linux routing table.
//
// Routes learned from Router Advertisements carry a lifetime; every other
// protocol is treated as infinite.
type Kernel struct {
	linkIndex int
}

// NewKernel limits the table to routes leaving through linkIndex; zero means
// any link.
func NewKernel(linkIndex int) *Kernel {
	return &Kernel{linkIndex: linkIndex}
}

func (m *Kernel) LookupDefaultRoute(gw netip.Addr) (Route, bool) {
	routes, err := m.list()
	if err != nil {
		return Route{}, false
	}
	for _, r := range routes {
		if r.Gateway == gw {
			return r, true
		}
	}
	return Route{}, false
}

func (m *Kernel) RemoveDefaultRoute(r Route) error {
	route := &netlink.Route{
		LinkIndex: r.LinkIndex,
		Dst:       defaultDst(),
		Gw:        net.IP(r.Gateway.AsSlice()),
	}
	if err := netlink.RouteDel(route); err != nil {
		return fmt.Errorf("failed to delete default route via %s: %w", r.Gateway, err)
	}
	return nil
}

func (m *Kernel) list() ([]Route, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V6)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	var out []Route
	for _, route := range routes {
		if !isDefault(route) || route.Gw == nil {
			continue
		}
		if m.linkIndex != 0 && route.LinkIndex != m.linkIndex {
			continue
		}
		gw, ok := netip.AddrFromSlice(route.Gw)
		if !ok {
			continue
		}
		out = append(out, Route{
			Gateway:   gw.Unmap(),
			LinkIndex: route.LinkIndex,
			Infinite:  int(route.Protocol) != unix.RTPROT_RA,
		})
	}
	return out, nil
}

func isDefault(route netlink.Route) bool {
	if route.Dst == nil {
		return true
	}
	ones, _ := route.Dst.Mask.Size()
	return ones == 0 && route.Dst.IP.IsUnspecified()
}

func defaultDst() *net.IPNet {
	return &net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)}
}
