package kernel

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"github.com/hostinger/nd6relay/internal/neighbor"
)

type recorder struct {
	set, del []netlink.Neigh
	err      error
}

func newTestMirror(rec *recorder) *Mirror {
	m := NewMirror(7, "nd6")
	m.set = func(n *netlink.Neigh) error {
		rec.set = append(rec.set, *n)
		return rec.err
	}
	m.del = func(n *netlink.Neigh) error {
		rec.del = append(rec.del, *n)
		return rec.err
	}
	return m
}

func TestMirrorAddAndRemove(t *testing.T) {
	rec := &recorder{}
	m := newTestMirror(rec)
	ev := neighbor.Event{
		Table:    "nd6",
		LinkAddr: neighbor.MustParseLinkAddr("02:00:00:00:00:01"),
		IP:       netip.MustParseAddr("2001:db8::1"),
		State:    neighbor.StateReachable,
		IsRouter: true,
	}

	m.HandleEvent(ev)
	require.Len(t, rec.set, 1)
	assert.Equal(t, 7, rec.set[0].LinkIndex)
	assert.Equal(t, netlink.NUD_REACHABLE, rec.set[0].State)
	assert.Equal(t, netlink.FAMILY_V6, rec.set[0].Family)
	assert.Equal(t, netlink.NTF_ROUTER, rec.set[0].Flags)
	assert.Equal(t, "2001:db8::1", rec.set[0].IP.String())
	assert.Equal(t, "02:00:00:00:00:01", rec.set[0].HardwareAddr.String())

	ev.Removed = true
	m.HandleEvent(ev)
	require.Len(t, rec.del, 1)
	assert.Equal(t, "2001:db8::1", rec.del[0].IP.String())
}

func TestMirrorIgnoresOtherTables(t *testing.T) {
	rec := &recorder{}
	m := newTestMirror(rec)

	m.HandleEvent(neighbor.Event{Table: "leaf", IP: netip.MustParseAddr("2001:db8::1")})

	assert.Empty(t, rec.set)
	assert.Empty(t, rec.del)
}

func TestMirrorErrorsAreNotFatal(t *testing.T) {
	rec := &recorder{err: errors.New("operation not permitted")}
	m := newTestMirror(rec)
	ev := neighbor.Event{Table: "nd6", IP: netip.MustParseAddr("2001:db8::1")}

	m.HandleEvent(ev)
	ev.Removed = true
	m.HandleEvent(ev)

	assert.Len(t, rec.set, 1)
	assert.Len(t, rec.del, 1)
}
