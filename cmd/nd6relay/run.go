package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/spf13/cobra"
	"github.com/vishvananda/netlink"
	"golang.org/x/sync/errgroup"

	"github.com/hostinger/nd6relay/internal/api"
	"github.com/hostinger/nd6relay/internal/config"
	"github.com/hostinger/nd6relay/internal/defrt"
	"github.com/hostinger/nd6relay/internal/kernel"
	"github.com/hostinger/nd6relay/internal/logger"
	"github.com/hostinger/nd6relay/internal/ndp"
	"github.com/hostinger/nd6relay/internal/node"
)

var runCmdArgs struct {
	ConfigPath string
	Interface  string
	Role       string
	Address    string
	API        string
	Debug      bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the neighbor cache and relay on an interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	flags := runCmd.Flags()
	flags.StringVarP(&runCmdArgs.ConfigPath, "config", "c", "", "Path to the configuration file")
	flags.StringVar(&runCmdArgs.Interface, "interface", "", "Interface to monitor for neighbor updates")
	flags.StringVar(&runCmdArgs.Role, "role", "", "Relay role: router or leaf")
	flags.StringVar(&runCmdArgs.Address, "address", "", "Mesh address of this node")
	flags.StringVar(&runCmdArgs.API, "api", "", "Address for the API server")
	flags.BoolVar(&runCmdArgs.Debug, "debug", false, "Enable debug logging")
}

// loadConfig reads the config file, if any, and applies explicitly set flags
// on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if runCmdArgs.ConfigPath != "" {
		loaded, err := config.Load(runCmdArgs.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("interface") {
		cfg.Interface = runCmdArgs.Interface
	}
	if flags.Changed("role") {
		cfg.Role = runCmdArgs.Role
	}
	if flags.Changed("address") {
		addr, err := netip.ParseAddr(runCmdArgs.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid --address: %w", err)
		}
		cfg.Address = addr
	}
	if flags.Changed("api") {
		cfg.API = runCmdArgs.API
	}
	if flags.Changed("debug") {
		cfg.Debug = runCmdArgs.Debug
	}

	if cfg.Interface == "" {
		return nil, errors.New("an interface is required, set --interface or interface in the config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	logger.Init(cfg.Debug)
	defer logger.Sync()

	link, err := netlink.LinkByName(cfg.Interface)
	if err != nil {
		return fmt.Errorf("failed to find interface %s: %w", cfg.Interface, err)
	}
	attrs := link.Attrs()

	srcIP, err := linkLocalAddr(link)
	if err != nil {
		return err
	}

	tx, err := pcap.OpenLive(cfg.Interface, int32(cfg.SnapLen.Bytes()), false, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("failed to open %s for sending: %w", cfg.Interface, err)
	}
	defer tx.Close()

	// The emitter resolves unicast targets from the cache, which only exists
	// once the manager is built.
	var nm *node.Manager
	emitter := ndp.NewEmitter(tx, attrs.HardwareAddr, srcIP, func(ip netip.Addr) (net.HardwareAddr, bool) {
		ll, ok := nm.ResolveLinkAddr(ip)
		if !ok {
			return nil, false
		}
		return ll.HardwareAddr(), true
	})

	opts := []node.Option{
		node.WithSolicitor(emitter),
		node.WithProber(ndp.NewProber(cfg.PingTimeout, cfg.PingPrivileged)),
		node.WithDiscover(func() {
			if err := emitter.SolicitRouters(); err != nil {
				logger.Warn("Failed to send router solicitation: %v", err)
			}
		}),
	}
	if cfg.KernelMirror {
		mirror := kernel.NewMirror(attrs.Index, node.NeighborCacheTable)
		opts = append(opts, node.WithStateChanged(mirror.HandleEvent))
	}
	if cfg.KernelRoutes {
		opts = append(opts, node.WithDefaultRoutes(defrt.NewKernel(attrs.Index)))
	}

	nm, err = node.NewManager(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize neighbor manager: %w", err)
	}
	defer nm.Cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handlers := &api.API{NM: nm}
	server := &http.Server{
		Addr:              cfg.API,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sniffer := ndp.NewSniffer(cfg.Interface, int(cfg.SnapLen.Bytes()), nm.HandleAdvert)

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return nm.Run(ctx)
	})
	wg.Go(func() error {
		return sniffer.Run(ctx)
	})
	wg.Go(func() error {
		logger.Info("API server listening on %s", cfg.API)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	wg.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down, cleaning up neighbor entries")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// linkLocalAddr returns the first IPv6 link-local address of link.
func linkLocalAddr(link netlink.Link) (netip.Addr, error) {
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V6)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to list addresses of %s: %w", link.Attrs().Name, err)
	}
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if ok && ip.Is6() && ip.IsLinkLocalUnicast() {
			return ip, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%s has no IPv6 link-local address", link.Attrs().Name)
}
