package node

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostinger/nd6relay/internal/config"
	"github.com/hostinger/nd6relay/internal/ndp"
	"github.com/hostinger/nd6relay/internal/neighbor"
	"github.com/hostinger/nd6relay/internal/stimer"
)

type fakeSolicitor struct {
	targets []netip.Addr
}

func (m *fakeSolicitor) Solicit(_, _, target netip.Addr) error {
	m.targets = append(m.targets, target)
	return nil
}

type fakeProber struct {
	reply map[netip.Addr]bool
	err   error
	seen  []netip.Addr
}

func (m *fakeProber) Probe(_ context.Context, ip netip.Addr) (bool, error) {
	m.seen = append(m.seen, ip)
	return m.reply[ip], m.err
}

func testConfig(role string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Role = role
	cfg.Address = netip.MustParseAddr("2001:db8:0:5::7")
	cfg.SuperRouter = netip.MustParseAddr("2001:db8:0:1::1")
	cfg.NeighborCacheSize = 4
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, opts ...Option) (*Manager, *stimer.ManualClock) {
	t.Helper()

	clock := stimer.NewManualClock()
	m, err := NewManager(cfg, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return m, clock
}

func advert(ip string, n byte, router bool) ndp.Advert {
	return ndp.Advert{
		Target:   netip.MustParseAddr(ip),
		LinkAddr: neighbor.LinkAddr{0x02, 0, 0, 0, 0, n},
		Router:   router,
	}
}

func TestNewManagerTables(t *testing.T) {
	router, _ := newTestManager(t, testConfig("router"))
	assert.Equal(t, []string{"nd6", "insubnet", "outsubnet", "leaf"}, router.TableNames())

	leaf, _ := newTestManager(t, testConfig("leaf"))
	assert.Equal(t, []string{"nd6", "agent"}, leaf.TableNames())
}

func TestNewManagerInvalidRole(t *testing.T) {
	_, err := NewManager(testConfig("agent"))
	assert.Error(t, err)
}

func TestHandleAdvertRouter(t *testing.T) {
	m, _ := newTestManager(t, testConfig("router"))

	m.HandleAdvert(advert("2001:db8:0:5::9", 1, true))
	m.HandleAdvert(advert("2001:db8:0:7::1", 2, true))
	m.HandleAdvert(advert("2001:db8:0:5::20", 3, false))

	assert.Equal(t, map[string]int{"nd6": 3, "insubnet": 1, "outsubnet": 1, "leaf": 1}, m.TableCounts())

	list, err := m.ListNeighbors("nd6")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "2001:db8:0:5::9", list[0].IP.String())
	assert.Equal(t, neighbor.StateReachable, list[0].State)
	assert.Equal(t, 30*time.Second, list[0].ReachableFor)

	hop, ok := m.NextHop(netip.MustParseAddr("2001:db8:0:9::1"))
	require.True(t, ok)
	assert.Equal(t, "2001:db8:0:7::1", hop.String())

	hop, ok = m.NextHop(netip.MustParseAddr("2001:db8:9:5::3"))
	require.True(t, ok)
	assert.Equal(t, "2001:db8:0:5::9", hop.String())
}

func TestHandleAdvertConfirmsKnownNeighbor(t *testing.T) {
	m, clock := newTestManager(t, testConfig("router"))

	m.HandleAdvert(advert("2001:db8:0:5::9", 1, false))
	clock.Advance(31 * time.Second)
	m.Tick()

	list, err := m.ListNeighbors("nd6")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, neighbor.StateStale, list[0].State)

	m.HandleAdvert(advert("2001:db8:0:5::9", 1, false))

	list, err = m.ListNeighbors("nd6")
	require.NoError(t, err)
	assert.Equal(t, neighbor.StateReachable, list[0].State)
	assert.Equal(t, 1, m.TableCounts()["nd6"])
}

func TestHandleAdvertLinkLocalStaysOutOfRelayTables(t *testing.T) {
	m, _ := newTestManager(t, testConfig("router"))

	m.HandleAdvert(advert("fe80::1", 2, true))
	m.HandleAdvert(advert("2001:db8:0:7::1", 2, true))

	assert.Equal(t, map[string]int{"nd6": 1, "insubnet": 0, "outsubnet": 1, "leaf": 0}, m.TableCounts())

	hop, ok := m.NextHop(netip.MustParseAddr("2001:db8:0:9::1"))
	require.True(t, ok)
	assert.Equal(t, "2001:db8:0:7::1", hop.String())
}

func TestLeafManager(t *testing.T) {
	discovered := 0
	m, _ := newTestManager(t, testConfig("leaf"), WithDiscover(func() { discovered++ }))

	_, ok := m.NextHop(netip.MustParseAddr("2001:db8:0:9::1"))
	assert.False(t, ok)
	assert.Equal(t, 1, discovered)

	m.HandleAdvert(advert("2001:db8:0:5::1", 1, false))
	m.HandleAdvert(advert("2001:db8:0:5::2", 2, true))

	hop, ok := m.NextHop(netip.MustParseAddr("2001:db8:0:9::1"))
	require.True(t, ok)
	assert.Equal(t, "2001:db8:0:5::2", hop.String())
	assert.Equal(t, 1, discovered)
}

func TestUnreachableAgentIsReplaced(t *testing.T) {
	prober := &fakeProber{}
	discovered := 0
	m, clock := newTestManager(t, testConfig("leaf"),
		WithProber(prober),
		WithDiscover(func() { discovered++ }),
	)

	m.HandleAdvert(advert("2001:db8:0:5::2", 2, true))
	hop, ok := m.NextHop(netip.MustParseAddr("2001:db8:0:9::1"))
	require.True(t, ok)
	assert.Equal(t, "2001:db8:0:5::2", hop.String())

	// REACHABLE -> STALE -> DELAY -> PROBE, then three unanswered unicast NS.
	clock.Advance(31 * time.Second)
	m.Tick()
	m.pingStale(context.Background())
	clock.Advance(5 * time.Second)
	m.Tick()
	for i := 0; i < 4; i++ {
		m.Tick()
		clock.Advance(time.Second)
	}

	assert.Equal(t, map[string]int{"nd6": 0, "agent": 0}, m.TableCounts())
	_, ok = m.NextHop(netip.MustParseAddr("2001:db8:0:9::1"))
	assert.False(t, ok)
	assert.Equal(t, 1, discovered)

	m.HandleAdvert(advert("2001:db8:0:5::3", 3, true))
	hop, ok = m.NextHop(netip.MustParseAddr("2001:db8:0:9::1"))
	require.True(t, ok)
	assert.Equal(t, "2001:db8:0:5::3", hop.String())
}

func TestTickSolicitsIncomplete(t *testing.T) {
	solicitor := &fakeSolicitor{}
	m, clock := newTestManager(t, testConfig("router"), WithSolicitor(solicitor))

	m.mu.Lock()
	m.cache.Add(m.nd, netip.MustParseAddr("2001:db8::1"), neighbor.LinkAddr{0x02, 0, 0, 0, 0, 1}, false, neighbor.StateIncomplete)
	m.mu.Unlock()

	for i := 0; i < 4; i++ {
		m.Tick()
		clock.Advance(time.Second)
	}

	assert.Len(t, solicitor.targets, 3)
	assert.Zero(t, m.TableCounts()["nd6"])
}

func TestTxStatus(t *testing.T) {
	m, clock := newTestManager(t, testConfig("router"))
	m.HandleAdvert(advert("2001:db8:0:5::9", 1, false))
	clock.Advance(31 * time.Second)
	m.Tick()

	m.TxStatus(neighbor.LinkAddr{0x02, 0, 0, 0, 0, 1}, neighbor.TxNoAck, 1)
	list, _ := m.ListNeighbors("nd6")
	assert.Equal(t, neighbor.StateStale, list[0].State)

	m.TxStatus(neighbor.LinkAddr{0x02, 0, 0, 0, 0, 1}, neighbor.TxOK, 1)
	list, _ = m.ListNeighbors("nd6")
	assert.Equal(t, neighbor.StateReachable, list[0].State)
}

func TestPingStale(t *testing.T) {
	prober := &fakeProber{reply: map[netip.Addr]bool{
		netip.MustParseAddr("2001:db8:0:5::9"): true,
	}}
	m, clock := newTestManager(t, testConfig("router"), WithProber(prober))

	m.HandleAdvert(advert("2001:db8:0:5::9", 1, false))
	m.HandleAdvert(advert("2001:db8:0:5::a", 2, false))
	clock.Advance(31 * time.Second)
	m.Tick()

	m.pingStale(context.Background())

	assert.Len(t, prober.seen, 2)
	list, err := m.ListNeighbors("nd6")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, neighbor.StateReachable, list[0].State)
	assert.Equal(t, neighbor.StateDelay, list[1].State)
}

func TestPingStaleProbeError(t *testing.T) {
	prober := &fakeProber{err: errors.New("socket: permission denied")}
	m, clock := newTestManager(t, testConfig("router"), WithProber(prober))

	m.HandleAdvert(advert("2001:db8:0:5::9", 1, false))
	clock.Advance(31 * time.Second)
	m.Tick()

	m.pingStale(context.Background())

	list, _ := m.ListNeighbors("nd6")
	assert.Equal(t, neighbor.StateDelay, list[0].State)
}

func TestListNeighborsUnknownTable(t *testing.T) {
	m, _ := newTestManager(t, testConfig("leaf"))

	_, err := m.ListNeighbors("insubnet")
	assert.ErrorContains(t, err, "unknown table")
}

func TestCleanup(t *testing.T) {
	var removed []string
	m, _ := newTestManager(t, testConfig("router"), WithStateChanged(func(ev neighbor.Event) {
		if ev.Removed {
			removed = append(removed, ev.Table)
		}
	}))

	m.HandleAdvert(advert("2001:db8:0:5::9", 1, true))
	m.Cleanup()

	assert.ElementsMatch(t, []string{"nd6", "insubnet"}, removed)
	for _, n := range m.TableCounts() {
		assert.Zero(t, n)
	}
}

func TestTableGauge(t *testing.T) {
	m, _ := newTestManager(t, testConfig("router"))
	m.HandleAdvert(advert("2001:db8:0:5::9", 1, true))

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "nd6_table_entries" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			values[metric.GetLabel()[0].GetValue()] = metric.GetGauge().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"nd6": 1, "insubnet": 1, "outsubnet": 0, "leaf": 0}, values)
}

func TestPacketBufferGauge(t *testing.T) {
	cfg := testConfig("router")
	cfg.QueueBufSize = 1280
	m, _ := newTestManager(t, cfg)

	m.HandleAdvert(advert("2001:db8:0:5::9", 1, true))

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var inUse float64 = -1
	for _, mf := range families {
		if mf.GetName() == "nd6_packet_buffers_in_use" {
			inUse = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(2), inUse, "nd6 and insubnet records each hold a buffer")

	m.Cleanup()
	assert.Zero(t, m.pool.InUse())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig("router")
	cfg.TickInterval = time.Millisecond
	m, _ := newTestManager(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, m.Run(ctx), context.DeadlineExceeded)
}

func TestResolveLinkAddr(t *testing.T) {
	m, _ := newTestManager(t, testConfig("router"))
	m.HandleAdvert(advert("2001:db8:0:5::9", 1, true))

	m.mu.Lock()
	m.cache.Remove(m.nd, m.cache.Lookup(m.nd, netip.MustParseAddr("2001:db8:0:5::9")))
	ll, ok := m.ResolveLinkAddr(netip.MustParseAddr("2001:db8:0:5::9"))
	_, missing := m.ResolveLinkAddr(netip.MustParseAddr("2001:db8:0:5::10"))
	m.mu.Unlock()

	require.True(t, ok, "insubnet table still knows the router")
	assert.Equal(t, neighbor.LinkAddr{0x02, 0, 0, 0, 0, 1}, ll)
	assert.False(t, missing)
}
