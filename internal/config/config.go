package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/hostinger/nd6relay/internal/neighbor"
	"github.com/hostinger/nd6relay/internal/relay"
)

type Config struct {
	// Interface is the link the node discovers neighbors on.
	Interface string `yaml:"interface"`
	// Role is "router" or "leaf".
	Role string `yaml:"role"`
	// Address is this node's mesh address. Its subnet field is the node's
	// prefix and its last field the host id.
	Address netip.Addr `yaml:"address"`
	// SuperRouter is the fallback relay for unknown in-subnet destinations.
	SuperRouter netip.Addr `yaml:"super_router"`
	// TopLevel marks this node as the super router itself.
	TopLevel bool `yaml:"top_level"`

	NeighborCacheSize int              `yaml:"neighbor_cache_size"`
	Tables            relay.TableSizes `yaml:"tables"`
	ND                neighbor.Config  `yaml:"nd"`

	TickInterval time.Duration `yaml:"tick_interval"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
	// PingPrivileged uses raw ICMP sockets instead of unprivileged datagram
	// sockets.
	PingPrivileged bool `yaml:"ping_privileged"`

	// QueueBufSize enables per-neighbor packet buffering when non-zero.
	QueueBufSize datasize.ByteSize `yaml:"queue_buf_size"`
	// SnapLen is the capture length for the advertisement sniffer.
	SnapLen datasize.ByteSize `yaml:"snap_len"`

	// KernelMirror copies the neighbor cache into the kernel table.
	KernelMirror bool `yaml:"kernel_mirror"`
	// KernelRoutes prunes kernel default routes through unreachable routers.
	KernelRoutes bool `yaml:"kernel_routes"`

	API   string `yaml:"api"`
	Debug bool   `yaml:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		Role:              "router",
		NeighborCacheSize: 16,
		Tables: relay.TableSizes{
			InSubnet:  8,
			OutSubnet: 8,
			Leaf:      16,
		},
		ND:           neighbor.DefaultConfig(),
		TickInterval: time.Second,
		PingInterval: 10 * time.Second,
		PingTimeout:  time.Second,
		SnapLen:      1600 * datasize.B,
		API:          "127.0.0.1:54321",
	}
}

// Load reads a YAML file on top of the defaults. The result is not
// validated, so callers can apply overrides first and then call Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (m *Config) RelayRole() (relay.Role, error) {
	return relay.ParseRole(m.Role)
}

func (m *Config) Goal() relay.Goal {
	if m.TopLevel {
		return relay.GoalSuperRouter
	}
	return relay.GoalNone
}

func (m *Config) Validate() error {
	var errs []error

	if _, err := m.RelayRole(); err != nil {
		errs = append(errs, err)
	}
	if !m.Address.IsValid() || !m.Address.Is6() {
		errs = append(errs, fmt.Errorf("address: %q is not an IPv6 address", m.Address))
	}
	if m.SuperRouter.IsValid() && !m.SuperRouter.Is6() {
		errs = append(errs, fmt.Errorf("super_router: %q is not an IPv6 address", m.SuperRouter))
	}
	if m.NeighborCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("neighbor_cache_size: must be positive, got %d", m.NeighborCacheSize))
	}
	if m.Role == "router" && (m.Tables.InSubnet <= 0 || m.Tables.OutSubnet <= 0 || m.Tables.Leaf <= 0) {
		errs = append(errs, fmt.Errorf("tables: all router tables need a positive size, got %+v", m.Tables))
	}
	if m.ND.MaxMulticastSolicit <= 0 || m.ND.MaxUnicastSolicit <= 0 {
		errs = append(errs, errors.New("nd: solicitation limits must be positive"))
	}
	if m.ND.ReachableTime <= 0 || m.ND.RetransTimer <= 0 {
		errs = append(errs, errors.New("nd: reachable_time and retrans_timer must be positive"))
	}
	if m.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval: must be positive, got %s", m.TickInterval))
	}

	return errors.Join(errs...)
}
