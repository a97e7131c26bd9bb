package relay

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/hostinger/nd6relay/internal/neighbor"
)

// Role selects which relay policy a node runs.
type Role int

const (
	RoleRouter Role = iota
	RoleLeaf
)

func (m Role) String() string {
	switch m {
	case RoleRouter:
		return "router"
	case RoleLeaf:
		return "leaf"
	default:
		return "unknown"
	}
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "router":
		return RoleRouter, nil
	case "leaf":
		return RoleLeaf, nil
	default:
		return 0, fmt.Errorf("unknown role %q: must be router or leaf", s)
	}
}

// Goal is the position a node aims for in the mesh.
type Goal int

const (
	GoalNone Goal = iota
	// GoalSuperRouter marks the top-level relay, which has no fallback.
	GoalSuperRouter
)

// RoutingInfo is what the routing protocol knows about this node.
type RoutingInfo interface {
	Prefix() uint16
	Address() netip.Addr
	Goal() Goal
	// ResetDiscoveryTimer asks the routing protocol to look for relays now.
	ResetDiscoveryTimer()
}

// Policy picks the neighbor that should receive a packet for a destination.
type Policy interface {
	Role() Role
	// NextHop returns the next hop toward dst, or false when there is no
	// route.
	NextHop(dst netip.Addr) (netip.Addr, bool)
	// Learn feeds a neighbor heard on the link into the policy's tables.
	Learn(ip netip.Addr, ll neighbor.LinkAddr, isRouter bool) bool
	Tables() []neighbor.Table
}

// Static is RoutingInfo with fixed values.
type Static struct {
	Addr     netip.Addr
	NodeGoal Goal
	OnReset  func()
}

func (m *Static) Prefix() uint16 {
	return SubnetPrefix(m.Addr)
}

func (m *Static) Address() netip.Addr {
	return m.Addr
}

func (m *Static) Goal() Goal {
	return m.NodeGoal
}

func (m *Static) ResetDiscoveryTimer() {
	if m.OnReset != nil {
		m.OnReset()
	}
}

// IsMeshAddr reports whether addr can be decomposed into subnet, leaf and
// host fields: a global IPv6 unicast address.
func IsMeshAddr(addr netip.Addr) bool {
	return addr.Is6() && !addr.Is4In6() && addr.IsGlobalUnicast()
}

// SubnetPrefix returns the subnet field of addr (bytes 6-7).
func SubnetPrefix(addr netip.Addr) uint16 {
	return field(addr, 6)
}

// LeafID returns the field naming the router a leaf hangs off (bytes 4-5).
func LeafID(addr netip.Addr) uint16 {
	return field(addr, 4)
}

// HostID returns the interface identifier's last field (bytes 14-15).
func HostID(addr netip.Addr) uint16 {
	return field(addr, 14)
}

// WithLeafID returns addr with its leaf-id field replaced.
func WithLeafID(addr netip.Addr, id uint16) netip.Addr {
	b := addr.As16()
	binary.BigEndian.PutUint16(b[4:6], id)
	return netip.AddrFrom16(b)
}

// PrefixDistance is the Manhattan distance between the subnet fields of two
// addresses, byte by byte.
func PrefixDistance(a, b netip.Addr) int {
	x, y := a.As16(), b.As16()
	return absDiff(x[6], y[6]) + absDiff(x[7], y[7])
}

func field(addr netip.Addr, offset int) uint16 {
	b := addr.As16()
	return binary.BigEndian.Uint16(b[offset : offset+2])
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
