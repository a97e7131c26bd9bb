package defrt

import (
	"errors"
	"net/netip"
	"sort"
	"sync"
)

// ErrNotFound is returned when removing a route that is not present.
var ErrNotFound = errors.New("default route not found")

// Route is a default route through an on-link gateway.
type Route struct {
	Gateway   netip.Addr
	LinkIndex int
	// Infinite routes never expire and survive neighbor unreachability.
	Infinite bool
}

// Table is an in-memory default router list.
type Table struct {
	mu     sync.Mutex
	routes map[netip.Addr]Route
}

func NewTable() *Table {
	return &Table{routes: map[netip.Addr]Route{}}
}

// Add installs or replaces the route through r.Gateway.
func (m *Table) Add(r Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[r.Gateway] = r
}

func (m *Table) LookupDefaultRoute(gw netip.Addr) (Route, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[gw]
	return r, ok
}

func (m *Table) RemoveDefaultRoute(r Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.routes[r.Gateway]; !ok {
		return ErrNotFound
	}
	delete(m.routes, r.Gateway)
	return nil
}

// List returns the routes ordered by gateway.
func (m *Table) List() []Route {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Gateway.Less(out[j].Gateway)
	})
	return out
}
