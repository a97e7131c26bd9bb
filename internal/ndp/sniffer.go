package ndp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/vishvananda/netlink"

	"github.com/hostinger/nd6relay/internal/logger"
	"github.com/hostinger/nd6relay/internal/neighbor"
)

// Advert is a Neighbor Advertisement heard on the link.
type Advert struct {
	Target    netip.Addr
	LinkAddr  neighbor.LinkAddr
	Router    bool
	Solicited bool
}

// Sniffer captures Neighbor Advertisements on one interface.
type Sniffer struct {
	iface   string
	snapLen int
	handle  func(Advert)
}

func NewSniffer(iface string, snapLen int, handle func(Advert)) *Sniffer {
	return &Sniffer{
		iface:   iface,
		snapLen: snapLen,
		handle:  handle,
	}
}

// Run captures until ctx is canceled.
func (m *Sniffer) Run(ctx context.Context) error {
	if err := m.waitLinkUp(ctx); err != nil {
		return err
	}

	handle, err := pcap.OpenLive(m.iface, int32(m.snapLen), true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", m.iface, err)
	}
	defer handle.Close()

	filter := "inbound and icmp6 and ip6[40] == 136"
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("failed to set BPF filter on %s: %w", m.iface, err)
	}

	logger.Info("[Sniffer-Event] Listening for NA packets on %s", m.iface)
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetChan := packetSource.Packets()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Sniffer-Event] Stopping sniffer on %s", m.iface)
			return ctx.Err()
		case pkt := <-packetChan:
			if pkt == nil {
				return nil
			}
			m.handlePacket(pkt)
		}
	}
}

func (m *Sniffer) waitLinkUp(ctx context.Context) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         10 * time.Second,
	}
	b.Reset()

	for attempt := 1; ; attempt++ {
		link, err := netlink.LinkByName(m.iface)
		if err == nil && (link.Attrs().Flags&net.FlagUp) != 0 {
			return nil
		}
		wait := b.NextBackOff()
		logger.Info("[Sniffer-Event] Waiting for %s to become UP... (attempt %d, retry in %s)", m.iface, attempt, wait)

		select {
		case <-ctx.Done():
			logger.Info("[Sniffer-Event] Aborting sniffer start on %s: context cancelled", m.iface)
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (m *Sniffer) handlePacket(pkt gopacket.Packet) {
	advert, ok := ParseAdvert(pkt)
	if !ok {
		logger.Debug("[Sniffer-Event] [%s] NA received but no usable target or MAC", m.iface)
		return
	}
	logger.Debug("[Sniffer-Event] [%s] NA %s is at %s (router=%t)", m.iface, advert.Target, advert.LinkAddr, advert.Router)
	m.handle(advert)
}

// ParseAdvert extracts the advertised target and its link-layer address. The
// target link-layer address option wins over the Ethernet source.
func ParseAdvert(pkt gopacket.Packet) (Advert, bool) {
	naLayer := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement)
	if naLayer == nil {
		return Advert{}, false
	}
	na := naLayer.(*layers.ICMPv6NeighborAdvertisement)

	target, ok := netip.AddrFromSlice(na.TargetAddress)
	if !ok || target.IsMulticast() || target.IsUnspecified() {
		return Advert{}, false
	}

	var hw net.HardwareAddr
	for _, opt := range na.Options {
		if opt.Type == layers.ICMPv6OptTargetAddress {
			hw = net.HardwareAddr(opt.Data)
			break
		}
	}
	if hw == nil {
		if ethLayer := pkt.Layer(layers.LayerTypeEthernet); ethLayer != nil {
			hw = ethLayer.(*layers.Ethernet).SrcMAC
		}
	}

	ll, err := neighbor.LinkAddrFrom(hw)
	if err != nil || ll.IsNull() {
		return Advert{}, false
	}

	return Advert{
		Target:    target.Unmap(),
		LinkAddr:  ll,
		Router:    na.Router(),
		Solicited: na.Solicited(),
	}, true
}
