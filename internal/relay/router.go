package relay

import (
	"net/netip"

	"github.com/hostinger/nd6relay/internal/logger"
	"github.com/hostinger/nd6relay/internal/neighbor"
)

// TableSizes sets the capacity of each router table.
type TableSizes struct {
	InSubnet  int `yaml:"in_subnet"`
	OutSubnet int `yaml:"out_subnet"`
	Leaf      int `yaml:"leaf"`
}

// Router relays for the leaves of its subnet.
//
// Sibling routers of the same subnet live in the in-subnet table and are
// addressed by their host id. Foreign subnets are represented by one router
// each in the out-subnet table.
type Router struct {
	cache       *neighbor.Cache
	info        RoutingInfo
	superRouter netip.Addr
	inSubnet    neighbor.Table
	outSubnet   neighbor.Table
	leaves      neighbor.Table
}

// NewRouter creates the router tables inside cache. superRouter is the
// fallback relay for unknown in-subnet destinations.
func NewRouter(cache *neighbor.Cache, info RoutingInfo, superRouter netip.Addr, sizes TableSizes) *Router {
	return &Router{
		cache:       cache,
		info:        info,
		superRouter: superRouter,
		inSubnet:    cache.NewTable("insubnet", sizes.InSubnet),
		outSubnet:   cache.NewTable("outsubnet", sizes.OutSubnet),
		leaves:      cache.NewTable("leaf", sizes.Leaf),
	}
}

func (m *Router) Role() Role {
	return RoleRouter
}

func (m *Router) Tables() []neighbor.Table {
	return []neighbor.Table{m.inSubnet, m.outSubnet, m.leaves}
}

// RegisterSubnetRouter records a router heard on the link. It reports whether
// a record was inserted; a second router for an already represented foreign
// subnet is rejected.
func (m *Router) RegisterSubnetRouter(ip netip.Addr, ll neighbor.LinkAddr) bool {
	prefix := SubnetPrefix(ip)

	if prefix == m.info.Prefix() {
		if m.cache.Lookup(m.inSubnet, ip) != nil {
			return false
		}
		if m.cache.Add(m.inSubnet, ip, ll, false, neighbor.StateReachable) == nil {
			return false
		}
		logger.Debug("[Relay] added router %s (host %d) to insubnet table", ip, HostID(ip))
		return true
	}

	for r := m.outSubnet.Head(); r != nil; r = m.outSubnet.Next(r) {
		if SubnetPrefix(r.IP) == prefix {
			return false
		}
	}
	if m.cache.Add(m.outSubnet, ip, ll, false, neighbor.StateReachable) == nil {
		return false
	}
	logger.Debug("[Relay] added router %s (subnet %#04x) to outsubnet table", ip, prefix)
	return true
}

// RegisterLeaf records a leaf attached to this router.
func (m *Router) RegisterLeaf(ip netip.Addr, ll neighbor.LinkAddr) bool {
	if m.cache.Add(m.leaves, ip, ll, false, neighbor.StateReachable) == nil {
		return false
	}
	logger.Debug("[Relay] added leaf %s (host %d) to leaf table", ip, HostID(ip))
	return true
}

// Learn registers routers as subnet routers and in-subnet hosts as leaves.
// Only mesh addresses are learned; link-local addresses carry no subnet.
func (m *Router) Learn(ip netip.Addr, ll neighbor.LinkAddr, isRouter bool) bool {
	if !IsMeshAddr(ip) {
		return false
	}
	if isRouter {
		return m.RegisterSubnetRouter(ip, ll)
	}
	if SubnetPrefix(ip) != m.info.Prefix() || m.leaves.Get(ll) != nil {
		return false
	}
	return m.RegisterLeaf(ip, ll)
}

// NextHop picks the next hop toward dst.
//
// Inside our subnet a destination whose leaf id is our host id is one of our
// leaves: it is returned with the leaf id cleared. Otherwise the sibling whose
// host id matches the leaf id relays it, falling back to the super router.
// Outside our subnet the out-subnet router farthest from dst's subnet is
// chosen.
func (m *Router) NextHop(dst netip.Addr) (netip.Addr, bool) {
	if SubnetPrefix(dst) == m.info.Prefix() {
		leafID := LeafID(dst)
		if leafID == HostID(m.info.Address()) {
			return WithLeafID(dst, 0), true
		}

		for r := m.inSubnet.Head(); r != nil; r = m.inSubnet.Next(r) {
			if HostID(r.IP) == leafID {
				return r.IP, true
			}
		}

		if m.info.Goal() == GoalSuperRouter || !m.superRouter.IsValid() {
			return netip.Addr{}, false
		}
		return m.superRouter, true
	}

	var (
		best     *neighbor.Record
		bestDist int
	)
	for r := m.outSubnet.Head(); r != nil; r = m.outSubnet.Next(r) {
		dist := PrefixDistance(dst, r.IP)
		if best == nil || dist > bestDist {
			best = r
			bestDist = dist
		}
	}
	if best == nil {
		return netip.Addr{}, false
	}
	return best.IP, true
}
