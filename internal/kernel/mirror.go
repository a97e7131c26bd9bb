package kernel

import (
	"net"

	"github.com/vishvananda/netlink"

	"github.com/hostinger/nd6relay/internal/logger"
	"github.com/hostinger/nd6relay/internal/neighbor"
)

// Mirror copies neighbor records of selected tables into the kernel's
// neighbor table, so the host stack forwards with the same resolution.
type Mirror struct {
	linkIndex int
	tables    map[string]bool

	set func(*netlink.Neigh) error
	del func(*netlink.Neigh) error
}

// NewMirror mirrors the named tables onto the link with linkIndex.
func NewMirror(linkIndex int, tables ...string) *Mirror {
	m := &Mirror{
		linkIndex: linkIndex,
		tables:    make(map[string]bool, len(tables)),
		set:       netlink.NeighSet,
		del:       netlink.NeighDel,
	}
	for _, name := range tables {
		m.tables[name] = true
	}
	return m
}

// HandleEvent is a neighbor state-changed hook.
func (m *Mirror) HandleEvent(ev neighbor.Event) {
	if !m.tables[ev.Table] {
		return
	}

	neigh := &netlink.Neigh{
		LinkIndex:    m.linkIndex,
		IP:           net.IP(ev.IP.AsSlice()),
		HardwareAddr: ev.LinkAddr.HardwareAddr(),
		State:        ev.State.NetlinkState(),
		Family:       netlink.FAMILY_V6,
	}
	if ev.IsRouter {
		neigh.Flags = netlink.NTF_ROUTER
	}

	if ev.Removed {
		if err := m.del(neigh); err != nil {
			logger.Warn("[Kernel] Failed to delete neighbor entry for %s: %v", ev.IP, err)
			return
		}
		logger.Debug("[Kernel] Deleted neighbor entry: %s", ev.IP)
		return
	}

	if err := m.set(neigh); err != nil {
		logger.Error("[Kernel] Failed to set neighbor entry for %s: %v", ev.IP, err)
		return
	}
	logger.Info("[Kernel] Added neighbor entry: %s → %s (%s)", ev.IP, ev.LinkAddr, ev.State)
}
