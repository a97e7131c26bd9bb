package neighbor

import (
	"net/netip"

	"github.com/hostinger/nd6relay/internal/logger"
)

// Periodic advances the NUD state machine of every record in t by one tick.
func (c *Cache) Periodic(t Table) {
	for r := t.Head(); r != nil; {
		// The record may be removed below.
		next := t.Next(r)

		switch r.State {
		case StateReachable:
			if r.Reachable.Expired() {
				logger.Debug("[NUD] %s: %s REACHABLE -> STALE", t.Name(), r.IP)
				c.transition(r, StateStale)
			}
		case StateIncomplete:
			if !c.cfg.SendNA {
				break
			}
			if r.NSCount >= c.cfg.MaxMulticastSolicit {
				c.remove(t, r, "incomplete")
			} else if r.SendNS.Expired() && !c.linkBusy() {
				r.NSCount++
				logger.Debug("[NUD] %s: INCOMPLETE %s NS %d", t.Name(), r.IP, r.NSCount)
				c.solicit(netip.Addr{}, netip.Addr{}, r.IP, "multicast")
				r.SendNS.Set(c.cfg.RetransTimer)
			}
		case StateDelay:
			if !c.cfg.SendNA {
				break
			}
			if r.Reachable.Expired() {
				logger.Debug("[NUD] %s: %s DELAY -> PROBE", t.Name(), r.IP)
				c.transition(r, StateProbe)
				r.NSCount = 0
				r.SendNS.Set(0)
			}
		case StateProbe:
			if !c.cfg.SendNA {
				break
			}
			if r.NSCount >= c.cfg.MaxUnicastSolicit {
				logger.Debug("[NUD] %s: PROBE of %s exhausted", t.Name(), r.IP)
				c.dropDefaultRoute(r.IP)
				c.remove(t, r, "probe")
			} else if r.SendNS.Expired() && !c.linkBusy() {
				r.NSCount++
				logger.Debug("[NUD] %s: PROBE %s NS %d", t.Name(), r.IP, r.NSCount)
				c.solicit(netip.Addr{}, r.IP, r.IP, "unicast")
				r.SendNS.Set(c.cfg.RetransTimer)
			}
		}

		r = next
	}
}

// LinkFeedback processes a link-layer transmission report for dest. A
// successful unicast transmission to a STALE, DELAY or PROBE neighbor
// confirms its reachability.
func (c *Cache) LinkFeedback(t Table, dest LinkAddr, status TxStatus, numTx int) {
	if dest.IsNull() {
		return
	}

	if c.linkNeighbor != nil {
		c.linkNeighbor(dest, status, numTx)
	}

	if !c.cfg.LinkLayerNUD || status != TxOK {
		return
	}

	r := t.Get(dest)
	if r == nil {
		return
	}
	switch r.State {
	case StateStale, StateDelay, StateProbe:
		c.transition(r, StateReachable)
		r.Reachable.Set(c.cfg.ReachableTime)
		c.metrics.confirmations.Inc()
		logger.Debug("[NUD] %s: link-layer ACK from %s, %s is reachable", t.Name(), dest, r.IP)
	}
}

// Touch records outgoing traffic to r: a STALE neighbor moves to DELAY and
// gets DelayFirstProbeTime for an upper-layer confirmation before probing
// starts. It reports whether the state changed.
func (c *Cache) Touch(t Table, r *Record) bool {
	if r == nil || r.State != StateStale {
		return false
	}
	logger.Debug("[NUD] %s: %s STALE -> DELAY", t.Name(), r.IP)
	c.transition(r, StateDelay)
	r.NSCount = 0
	r.Reachable.Set(c.cfg.DelayFirstProbeTime)
	return true
}

func (c *Cache) transition(r *Record, to State) {
	c.metrics.transitions.WithLabelValues(r.State.String(), to.String()).Inc()
	r.State = to
}

func (c *Cache) linkBusy() bool {
	return c.link != nil && c.link.Busy()
}

func (c *Cache) solicit(src, dst, target netip.Addr, kind string) {
	c.metrics.solicitations.WithLabelValues(kind).Inc()
	if err := c.solicitor.Solicit(src, dst, target); err != nil {
		logger.Warn("[NUD] failed to solicit %s: %v", target, err)
	}
}

func (c *Cache) dropDefaultRoute(gw netip.Addr) {
	if c.defaultRoutes == nil {
		return
	}
	route, ok := c.defaultRoutes.LookupDefaultRoute(gw)
	if !ok || route.Infinite {
		return
	}
	if err := c.defaultRoutes.RemoveDefaultRoute(route); err != nil {
		logger.Warn("[NUD] failed to remove default route via %s: %v", gw, err)
	}
}
