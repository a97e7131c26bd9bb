package node

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hostinger/nd6relay/internal/config"
	"github.com/hostinger/nd6relay/internal/logger"
	"github.com/hostinger/nd6relay/internal/ndp"
	"github.com/hostinger/nd6relay/internal/neighbor"
	"github.com/hostinger/nd6relay/internal/pktqueue"
	"github.com/hostinger/nd6relay/internal/relay"
	"github.com/hostinger/nd6relay/internal/stimer"
)

// NeighborCacheTable is the name of the general ND cache table.
const NeighborCacheTable = "nd6"

// Prober sends upper-layer traffic to a neighbor and reports whether it
// answered.
type Prober interface {
	Probe(ctx context.Context, ip netip.Addr) (bool, error)
}

// Option is a function that configures the manager.
type Option func(*options)

type options struct {
	Clock         stimer.Clock
	Solicitor     neighbor.Solicitor
	DefaultRoutes neighbor.DefaultRoutes
	Link          neighbor.Link
	StateChanged  func(neighbor.Event)
	Discover      func()
	Prober        Prober
	Registry      *prometheus.Registry
}

func WithClock(clock stimer.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

func WithSolicitor(s neighbor.Solicitor) Option {
	return func(o *options) {
		o.Solicitor = s
	}
}

func WithDefaultRoutes(routes neighbor.DefaultRoutes) Option {
	return func(o *options) {
		o.DefaultRoutes = routes
	}
}

func WithLink(link neighbor.Link) Option {
	return func(o *options) {
		o.Link = link
	}
}

func WithStateChanged(fn func(neighbor.Event)) Option {
	return func(o *options) {
		o.StateChanged = fn
	}
}

// WithDiscover sets what happens when a leaf has no agent to relay through.
func WithDiscover(fn func()) Option {
	return func(o *options) {
		o.Discover = fn
	}
}

func WithProber(p Prober) Option {
	return func(o *options) {
		o.Prober = p
	}
}

func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.Registry = reg
	}
}

// Manager owns the neighbor cache, its tables and the relay policy of one
// node. All access goes through its mutex, so the cache sees one caller at a
// time.
type Manager struct {
	mu       sync.Mutex
	cfg      *config.Config
	cache    *neighbor.Cache
	nd       neighbor.Table
	policy   relay.Policy
	prober   Prober
	pool     *pktqueue.Pool
	registry *prometheus.Registry
}

type NeighborView struct {
	Table    string
	IP       netip.Addr
	LinkAddr neighbor.LinkAddr
	IsRouter bool
	State    neighbor.State
	// ReachableFor is the time left on the reachable timer.
	ReachableFor time.Duration
	NSCount      int
}

func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	o := &options{
		Clock:    stimer.SystemClock,
		Registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}

	role, err := cfg.RelayRole()
	if err != nil {
		return nil, err
	}

	cacheOpts := []neighbor.Option{
		neighbor.WithClock(o.Clock),
		neighbor.WithRegisterer(o.Registry),
	}
	if o.Solicitor != nil {
		cacheOpts = append(cacheOpts, neighbor.WithSolicitor(o.Solicitor))
	}
	if o.DefaultRoutes != nil {
		cacheOpts = append(cacheOpts, neighbor.WithDefaultRoutes(o.DefaultRoutes))
	}
	if o.Link != nil {
		cacheOpts = append(cacheOpts, neighbor.WithLink(o.Link))
	}
	var m *Manager
	cacheOpts = append(cacheOpts, neighbor.WithStateChanged(func(ev neighbor.Event) {
		if o.StateChanged != nil {
			o.StateChanged(ev)
		}
		if ev.Removed && ev.Table == NeighborCacheTable {
			m.forget(ev.LinkAddr)
		}
	}))
	var pool *pktqueue.Pool
	if cfg.QueueBufSize > 0 {
		pool = pktqueue.NewPool(int(cfg.QueueBufSize.Bytes()))
		cacheOpts = append(cacheOpts, neighbor.WithPacketQueue(pool))
	}

	cache, err := neighbor.NewCache(cfg.ND, cacheOpts...)
	if err != nil {
		return nil, err
	}

	m = &Manager{
		cfg:      cfg,
		cache:    cache,
		nd:       cache.NewTable(NeighborCacheTable, cfg.NeighborCacheSize),
		prober:   o.Prober,
		pool:     pool,
		registry: o.Registry,
	}

	info := &relay.Static{
		Addr:     cfg.Address,
		NodeGoal: cfg.Goal(),
		OnReset:  o.Discover,
	}
	switch role {
	case relay.RoleRouter:
		m.policy = relay.NewRouter(cache, info, cfg.SuperRouter, cfg.Tables)
	case relay.RoleLeaf:
		m.policy = relay.NewLeaf(cache, info)
	}

	if err := m.registerGauges(); err != nil {
		return nil, err
	}

	logger.Info("Neighbor manager ready: role=%s address=%s prefix=%#04x", role, cfg.Address, info.Prefix())
	return m, nil
}

func (m *Manager) registerGauges() error {
	for _, t := range m.cache.Tables() {
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "nd6_table_entries",
			Help:        "Live records per neighbor table.",
			ConstLabels: prometheus.Labels{"table": t.Name()},
		}, func() float64 {
			m.mu.Lock()
			defer m.mu.Unlock()
			return float64(m.cache.Count(t))
		})
		if err := m.registry.Register(gauge); err != nil {
			return fmt.Errorf("failed to register table gauge: %w", err)
		}
	}

	if m.pool == nil {
		return nil
	}
	buffers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "nd6_packet_buffers_in_use",
		Help: "Packet buffers held by neighbor records.",
	}, func() float64 {
		return float64(m.pool.InUse())
	})
	if err := m.registry.Register(buffers); err != nil {
		return fmt.Errorf("failed to register packet buffer gauge: %w", err)
	}
	return nil
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) Role() relay.Role {
	return m.policy.Role()
}

// Tick runs one NUD pass over every table.
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.cache.Tables() {
		m.cache.Periodic(t)
	}
}

// TxStatus reports the outcome of a link-layer transmission to dest.
func (m *Manager) TxStatus(dest neighbor.LinkAddr, status neighbor.TxStatus, numTx int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.LinkFeedback(m.nd, dest, status, numTx)
}

// HandleAdvert records a Neighbor Advertisement: the advertised neighbor is
// added to or confirmed in the ND cache and offered to the relay policy.
func (m *Manager) HandleAdvert(advert ndp.Advert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.cache.LookupLinkAddr(m.nd, advert.LinkAddr); r != nil {
		m.cache.LinkFeedback(m.nd, advert.LinkAddr, neighbor.TxOK, 1)
	} else if r := m.cache.Add(m.nd, advert.Target, advert.LinkAddr, advert.Router, neighbor.StateReachable); r != nil {
		r.Reachable.Set(m.cfg.ND.ReachableTime)
	}

	if m.policy.Learn(advert.Target, advert.LinkAddr, advert.Router) {
		logger.Info("[Relay] learned %s (%s, router=%t)", advert.Target, advert.LinkAddr, advert.Router)
	}
}

// forget drops ll from the relay tables once its ND cache record is gone,
// so a dead agent or subnet router can be replaced.
func (m *Manager) forget(ll neighbor.LinkAddr) {
	if m.policy == nil {
		return
	}
	for _, t := range m.policy.Tables() {
		if r := m.cache.LookupLinkAddr(t, ll); r != nil {
			logger.Info("[Relay] %s (%s) left the ND cache, dropped from %s table", r.IP, ll, t.Name())
			m.cache.Remove(t, r)
		}
	}
}

// NextHop returns the relay decision for dst.
func (m *Manager) NextHop(dst netip.Addr) (netip.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.policy.NextHop(dst)
}

// ResolveLinkAddr returns the link-layer address of ip from the first table
// that knows it. Callers must already hold the manager's lock; it is used by
// the emitter while the cache is ticking.
func (m *Manager) ResolveLinkAddr(ip netip.Addr) (neighbor.LinkAddr, bool) {
	for _, t := range m.cache.Tables() {
		if ll, ok := m.cache.LinkAddrFromIP(t, ip); ok {
			return ll, true
		}
	}
	return neighbor.LinkAddr{}, false
}

// TableNames lists the tables in creation order.
func (m *Manager) TableNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, t := range m.cache.Tables() {
		names = append(names, t.Name())
	}
	return names
}

// TableCounts returns the number of records per table.
func (m *Manager) TableCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	for _, t := range m.cache.Tables() {
		counts[t.Name()] = m.cache.Count(t)
	}
	return counts
}

// ListNeighbors snapshots one table, sorted by address.
func (m *Manager) ListNeighbors(table string) ([]NeighborView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	if t == nil {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	var out []NeighborView
	for r := t.Head(); r != nil; r = t.Next(r) {
		ll, _ := t.Key(r)
		out = append(out, NeighborView{
			Table:        t.Name(),
			IP:           r.IP,
			LinkAddr:     ll,
			IsRouter:     r.IsRouter,
			State:        r.State,
			ReachableFor: r.Reachable.Remaining(),
			NSCount:      r.NSCount,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IP.Less(out[j].IP)
	})
	return out, nil
}

func (m *Manager) table(name string) neighbor.Table {
	for _, t := range m.cache.Tables() {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// SendPings periodically sends traffic to STALE neighbors. Sending moves them
// to DELAY; an echo reply confirms them before probing starts.
func (m *Manager) SendPings(ctx context.Context) error {
	if m.prober == nil || m.cfg.PingInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.pingStale(ctx)
		}
	}
}

type pingTarget struct {
	ip netip.Addr
	ll neighbor.LinkAddr
}

func (m *Manager) pingStale(ctx context.Context) {
	var targets []pingTarget

	m.mu.Lock()
	for r := m.nd.Head(); r != nil; r = m.nd.Next(r) {
		if !m.cache.Touch(m.nd, r) {
			continue
		}
		ll, _ := m.nd.Key(r)
		targets = append(targets, pingTarget{ip: r.IP, ll: ll})
	}
	m.mu.Unlock()

	for _, target := range targets {
		ok, err := m.prober.Probe(ctx, target.ip)
		if err != nil {
			logger.Warn("Failed to ping %s: %v", target.ip, err)
			continue
		}
		if !ok {
			logger.Debug("No echo reply from %s", target.ip)
			continue
		}
		m.TxStatus(target.ll, neighbor.TxOK, 1)
	}
}

// MonitorNeighbors ticks the state machine until ctx is canceled.
func (m *Manager) MonitorNeighbors(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Run ticks the tables and pings stale neighbors until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.MonitorNeighbors(ctx)
	})
	wg.Go(func() error {
		return m.SendPings(ctx)
	})
	return wg.Wait()
}

// Cleanup removes every record, releasing buffers and firing the
// state-changed hooks so mirrored entries are withdrawn.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Close()
	logger.Info("Neighbor tables flushed")
}
