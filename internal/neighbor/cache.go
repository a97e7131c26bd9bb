package neighbor

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hostinger/nd6relay/internal/defrt"
	"github.com/hostinger/nd6relay/internal/logger"
	"github.com/hostinger/nd6relay/internal/pktqueue"
	"github.com/hostinger/nd6relay/internal/stimer"
)

// Solicitor emits Neighbor Solicitations. An invalid source or destination
// address means "none": the emitter picks the source, and a missing
// destination selects the target's solicited-node multicast group.
type Solicitor interface {
	Solicit(src, dst, target netip.Addr) error
}

// Link reports whether the interface is busy transmitting a packet.
type Link interface {
	Busy() bool
}

// DefaultRoutes is the default router list consulted when a probed neighbor
// turns out to be unreachable.
type DefaultRoutes interface {
	LookupDefaultRoute(gw netip.Addr) (defrt.Route, bool)
	RemoveDefaultRoute(r defrt.Route) error
}

// PacketQueue allocates per-neighbor packet buffers.
type PacketQueue interface {
	Alloc() *pktqueue.Handle
	Release(h *pktqueue.Handle)
}

// Config holds the Neighbor Discovery protocol constants.
type Config struct {
	ReachableTime       time.Duration `yaml:"reachable_time"`
	RetransTimer        time.Duration `yaml:"retrans_timer"`
	DelayFirstProbeTime time.Duration `yaml:"delay_first_probe_time"`
	MaxMulticastSolicit int           `yaml:"max_multicast_solicit"`
	MaxUnicastSolicit   int           `yaml:"max_unicast_solicit"`
	// LinkLayerNUD lets link-layer acknowledgements confirm reachability.
	LinkLayerNUD bool `yaml:"link_layer_nud"`
	// SendNA enables the INCOMPLETE and PROBE solicitation legs.
	SendNA bool `yaml:"send_na"`
}

// DefaultConfig returns the RFC 4861 defaults.
func DefaultConfig() Config {
	return Config{
		ReachableTime:       30 * time.Second,
		RetransTimer:        time.Second,
		DelayFirstProbeTime: 5 * time.Second,
		MaxMulticastSolicit: 3,
		MaxUnicastSolicit:   3,
		LinkLayerNUD:        true,
		SendNA:              true,
	}
}

// Option is a function that configures the cache.
type Option func(*options)

type options struct {
	Clock         stimer.Clock
	Solicitor     Solicitor
	Link          Link
	DefaultRoutes DefaultRoutes
	Queue         PacketQueue
	StateChanged  func(Event)
	LinkNeighbor  func(ll LinkAddr, status TxStatus, numTx int)
	Registerer    prometheus.Registerer
}

func WithClock(clock stimer.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

func WithSolicitor(s Solicitor) Option {
	return func(o *options) {
		o.Solicitor = s
	}
}

func WithLink(link Link) Option {
	return func(o *options) {
		o.Link = link
	}
}

func WithDefaultRoutes(routes DefaultRoutes) Option {
	return func(o *options) {
		o.DefaultRoutes = routes
	}
}

// WithPacketQueue enables per-neighbor packet buffering.
func WithPacketQueue(q PacketQueue) Option {
	return func(o *options) {
		o.Queue = q
	}
}

// WithStateChanged installs the hook fired on every record add and remove.
func WithStateChanged(fn func(Event)) Option {
	return func(o *options) {
		o.StateChanged = fn
	}
}

// WithLinkNeighbor installs the hook fired on every transmission status
// report for a non-null destination.
func WithLinkNeighbor(fn func(ll LinkAddr, status TxStatus, numTx int)) Option {
	return func(o *options) {
		o.LinkNeighbor = fn
	}
}

// WithRegisterer registers the cache's metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.Registerer = reg
	}
}

type nopSolicitor struct{}

func (nopSolicitor) Solicit(_, _, _ netip.Addr) error { return nil }

// Cache owns the neighbor tables of one node and runs the NUD state machine
// over them.
//
// Cache is not safe for concurrent use; callers serialize access.
type Cache struct {
	cfg           Config
	clock         stimer.Clock
	solicitor     Solicitor
	link          Link
	defaultRoutes DefaultRoutes
	queue         PacketQueue
	stateChanged  func(Event)
	linkNeighbor  func(LinkAddr, TxStatus, int)
	metrics       *metrics
	tables        []Table
}

func NewCache(cfg Config, opts ...Option) (*Cache, error) {
	o := &options{
		Clock:     stimer.SystemClock,
		Solicitor: nopSolicitor{},
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Cache{
		cfg:           cfg,
		clock:         o.Clock,
		solicitor:     o.Solicitor,
		link:          o.Link,
		defaultRoutes: o.DefaultRoutes,
		queue:         o.Queue,
		stateChanged:  o.StateChanged,
		linkNeighbor:  o.LinkNeighbor,
		metrics:       newMetrics(),
	}
	if o.Registerer != nil {
		if err := c.metrics.register(o.Registerer); err != nil {
			return nil, fmt.Errorf("failed to register neighbor metrics: %w", err)
		}
	}
	return c, nil
}

func (c *Cache) Config() Config {
	return c.cfg
}

// NewTable creates a table whose evicted records are removed through the
// cache, so their packet buffers are released and hooks fire.
func (c *Cache) NewTable(name string, capacity int) Table {
	t := NewTable(name, capacity)
	c.Attach(t)
	return t
}

// Attach takes ownership of an externally constructed table.
func (c *Cache) Attach(t Table) {
	t.Register(func(r *Record) {
		c.remove(t, r, "evicted")
	})
	c.tables = append(c.tables, t)
}

func (c *Cache) Tables() []Table {
	return c.tables
}

// Close removes every record of every attached table.
func (c *Cache) Close() {
	for _, t := range c.tables {
		t.Flush()
	}
}

// Add creates a record for ll in t. It returns nil if the table rejects the
// insertion.
func (c *Cache) Add(t Table, ip netip.Addr, ll LinkAddr, isRouter bool, state State) *Record {
	r := t.Add(ll)
	if r == nil {
		logger.Debug("[NUD] %s: dropping %s (%s) in state %s", t.Name(), ip, ll, state)
		return nil
	}

	r.IP = ip
	r.IsRouter = isRouter
	r.State = state
	if c.queue != nil {
		r.Packet = c.queue.Alloc()
	}
	r.Reachable = stimer.New(c.clock)
	r.SendNS = stimer.New(c.clock)
	r.NSCount = 0

	c.notify(t, r, ll, false)
	return r
}

// Remove releases r's resources and deletes it from t. A nil or already
// removed record is ignored.
func (c *Cache) Remove(t Table, r *Record) {
	c.remove(t, r, "removed")
}

func (c *Cache) remove(t Table, r *Record, reason string) {
	if r == nil {
		return
	}
	ll, ok := t.Key(r)
	if !ok {
		return
	}

	if c.queue != nil && r.Packet != nil {
		c.queue.Release(r.Packet)
		r.Packet = nil
	}
	c.notify(t, r, ll, true)
	t.Remove(r)

	c.metrics.removals.WithLabelValues(t.Name(), reason).Inc()
	logger.Debug("[NUD] %s: removed %s (%s), %s", t.Name(), r.IP, ll, reason)
}

func (c *Cache) notify(t Table, r *Record, ll LinkAddr, removed bool) {
	if c.stateChanged == nil {
		return
	}
	c.stateChanged(Event{
		Table:    t.Name(),
		LinkAddr: ll,
		IP:       r.IP,
		State:    r.State,
		IsRouter: r.IsRouter,
		Removed:  removed,
	})
}

// Lookup returns the first record in t whose address equals ip.
func (c *Cache) Lookup(t Table, ip netip.Addr) *Record {
	if !ip.IsValid() {
		return nil
	}
	for r := t.Head(); r != nil; r = t.Next(r) {
		if r.IP == ip {
			return r
		}
	}
	return nil
}

func (c *Cache) LookupLinkAddr(t Table, ll LinkAddr) *Record {
	return t.Get(ll)
}

// LinkAddrOf returns the link-layer address r is stored under.
func (c *Cache) LinkAddrOf(t Table, r *Record) (LinkAddr, bool) {
	if r == nil {
		return LinkAddr{}, false
	}
	return t.Key(r)
}

func (c *Cache) IPFromLinkAddr(t Table, ll LinkAddr) (netip.Addr, bool) {
	r := t.Get(ll)
	if r == nil {
		return netip.Addr{}, false
	}
	return r.IP, true
}

func (c *Cache) LinkAddrFromIP(t Table, ip netip.Addr) (LinkAddr, bool) {
	return c.LinkAddrOf(t, c.Lookup(t, ip))
}

// Count returns the number of live records in t.
func (c *Cache) Count(t Table) int {
	n := 0
	for r := t.Head(); r != nil; r = t.Next(r) {
		n++
	}
	return n
}

// LeastLifetime returns the record whose reachable timer expires first, or
// nil for an empty table.
func (c *Cache) LeastLifetime(t Table) *Record {
	var (
		expiring *Record
		least    time.Duration
	)
	for r := t.Head(); r != nil; r = t.Next(r) {
		remaining := r.Reachable.Remaining()
		if expiring == nil || remaining < least {
			expiring = r
			least = remaining
		}
	}
	return expiring
}
