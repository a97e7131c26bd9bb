package relay

import (
	"net/netip"

	"github.com/hostinger/nd6relay/internal/logger"
	"github.com/hostinger/nd6relay/internal/neighbor"
)

// Leaf sends everything through a single upstream router, its agent.
type Leaf struct {
	cache  *neighbor.Cache
	info   RoutingInfo
	agents neighbor.Table
}

func NewLeaf(cache *neighbor.Cache, info RoutingInfo) *Leaf {
	return &Leaf{
		cache:  cache,
		info:   info,
		agents: cache.NewTable("agent", 1),
	}
}

func (m *Leaf) Role() Role {
	return RoleLeaf
}

func (m *Leaf) Tables() []neighbor.Table {
	return []neighbor.Table{m.agents}
}

// RegisterAgent installs the upstream router. Only one agent is held at a
// time; further registrations fail until it is removed.
func (m *Leaf) RegisterAgent(ip netip.Addr, ll neighbor.LinkAddr) bool {
	if m.cache.Add(m.agents, ip, ll, false, neighbor.StateReachable) == nil {
		return false
	}
	logger.Info("[Relay] agent %s (%s) selected", ip, ll)
	return true
}

// Learn adopts the first router heard on a mesh address as agent.
func (m *Leaf) Learn(ip netip.Addr, ll neighbor.LinkAddr, isRouter bool) bool {
	if !isRouter || !IsMeshAddr(ip) {
		return false
	}
	return m.RegisterAgent(ip, ll)
}

// NextHop ignores dst and returns the agent. Without one it asks the routing
// protocol to discover relays and reports no route.
func (m *Leaf) NextHop(_ netip.Addr) (netip.Addr, bool) {
	agent := m.agents.Head()
	if agent == nil {
		m.info.ResetDiscoveryTimer()
		return netip.Addr{}, false
	}
	return agent.IP, true
}
