package neighbor

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/hostinger/nd6relay/internal/pktqueue"
	"github.com/hostinger/nd6relay/internal/stimer"
)

// LinkAddr is an EUI-48 link-layer address. The zero value is the null
// address.
type LinkAddr [6]byte

// ParseLinkAddr parses a colon separated EUI-48 address.
func ParseLinkAddr(s string) (LinkAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return LinkAddr{}, err
	}
	return LinkAddrFrom(hw)
}

// MustParseLinkAddr is like ParseLinkAddr but panics on error.
func MustParseLinkAddr(s string) LinkAddr {
	ll, err := ParseLinkAddr(s)
	if err != nil {
		panic(err)
	}
	return ll
}

// LinkAddrFrom converts a hardware address, which must be EUI-48.
func LinkAddrFrom(hw net.HardwareAddr) (LinkAddr, error) {
	var ll LinkAddr
	if len(hw) != len(ll) {
		return ll, fmt.Errorf("unsupported link-layer address %q: must be EUI-48", hw)
	}
	copy(ll[:], hw)
	return ll, nil
}

func (m LinkAddr) IsNull() bool {
	return m == LinkAddr{}
}

func (m LinkAddr) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(m[:])
}

func (m LinkAddr) String() string {
	return m.HardwareAddr().String()
}

// State is the Neighbor Unreachability Detection state of a record.
type State uint8

const (
	StateIncomplete State = iota
	StateReachable
	StateStale
	StateDelay
	StateProbe
)

func (m State) String() string {
	switch m {
	case StateIncomplete:
		return "INCOMPLETE"
	case StateReachable:
		return "REACHABLE"
	case StateStale:
		return "STALE"
	case StateDelay:
		return "DELAY"
	case StateProbe:
		return "PROBE"
	default:
		return "UNKNOWN"
	}
}

// NetlinkState maps the state onto the kernel's NUD_* values.
func (m State) NetlinkState() int {
	switch m {
	case StateIncomplete:
		return netlink.NUD_INCOMPLETE
	case StateReachable:
		return netlink.NUD_REACHABLE
	case StateStale:
		return netlink.NUD_STALE
	case StateDelay:
		return netlink.NUD_DELAY
	case StateProbe:
		return netlink.NUD_PROBE
	default:
		return netlink.NUD_NONE
	}
}

// Record is the per-neighbor payload stored in a Table.
type Record struct {
	// IP is the neighbor's IPv6 address.
	IP netip.Addr
	// IsRouter is set at creation and never changed by the cache.
	IsRouter bool
	State    State
	// Reachable runs while the neighbor is considered reachable. In DELAY it
	// gates the move into PROBE.
	Reachable stimer.Timer
	// SendNS gates Neighbor Solicitation retransmission.
	SendNS stimer.Timer
	// NSCount counts solicitations sent in the current state.
	NSCount int
	// Packet buffers one outbound packet awaiting resolution. Nil unless a
	// packet queue is configured.
	Packet *pktqueue.Handle
}

// TxStatus is the outcome of a link-layer transmission.
type TxStatus int

const (
	TxOK TxStatus = iota
	TxCollision
	TxNoAck
	TxDeferred
	TxErr
	TxErrFatal
)

func (m TxStatus) String() string {
	switch m {
	case TxOK:
		return "OK"
	case TxCollision:
		return "COLLISION"
	case TxNoAck:
		return "NOACK"
	case TxDeferred:
		return "DEFERRED"
	case TxErr:
		return "ERR"
	case TxErrFatal:
		return "ERR_FATAL"
	default:
		return "UNKNOWN"
	}
}

// Event describes a record being added to or removed from a table.
type Event struct {
	Table    string
	LinkAddr LinkAddr
	IP       netip.Addr
	State    State
	IsRouter bool
	Removed  bool
}
