package ndp

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const hopLimit = 255

var allRouters = netip.MustParseAddr("ff02::2")

// PacketWriter puts a frame on the wire. *pcap.Handle implements it.
type PacketWriter interface {
	WritePacketData(data []byte) error
}

// Resolver maps an on-link IPv6 address to its link-layer address.
type Resolver func(ip netip.Addr) (net.HardwareAddr, bool)

// Emitter builds Neighbor and Router Solicitations and writes them to the
// link.
type Emitter struct {
	w       PacketWriter
	srcMAC  net.HardwareAddr
	srcIP   netip.Addr
	resolve Resolver
}

// NewEmitter sends from srcMAC/srcIP; srcIP is normally the interface's
// link-local address. resolve is used for unicast solicitations.
func NewEmitter(w PacketWriter, srcMAC net.HardwareAddr, srcIP netip.Addr, resolve Resolver) *Emitter {
	return &Emitter{
		w:       w,
		srcMAC:  srcMAC,
		srcIP:   srcIP,
		resolve: resolve,
	}
}

// Solicit sends a Neighbor Solicitation for target. An invalid src uses the
// emitter's address; an invalid dst sends to target's solicited-node
// multicast group.
func (m *Emitter) Solicit(src, dst, target netip.Addr) error {
	if !src.IsValid() {
		src = m.srcIP
	}

	var dstMAC net.HardwareAddr
	if dst.IsValid() {
		hw, ok := m.resolve(dst)
		if !ok {
			return fmt.Errorf("no link-layer address for %s", dst)
		}
		dstMAC = hw
	} else {
		dst = SolicitedNodeMulticast(target)
		dstMAC = MulticastMAC(dst)
	}

	frame, err := BuildNeighborSolicitation(m.srcMAC, dstMAC, src, dst, target)
	if err != nil {
		return err
	}
	if err := m.w.WritePacketData(frame); err != nil {
		return fmt.Errorf("failed to send NS for %s: %w", target, err)
	}
	return nil
}

// SolicitRouters sends a Router Solicitation to all routers on the link.
func (m *Emitter) SolicitRouters() error {
	frame, err := BuildRouterSolicitation(m.srcMAC, m.srcIP)
	if err != nil {
		return err
	}
	if err := m.w.WritePacketData(frame); err != nil {
		return fmt.Errorf("failed to send RS: %w", err)
	}
	return nil
}

// BuildNeighborSolicitation serializes an Ethernet framed NS carrying the
// source link-layer address option.
func BuildNeighborSolicitation(srcMAC, dstMAC net.HardwareAddr, src, dst, target netip.Addr) ([]byte, error) {
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   hopLimit,
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      net.IP(src.AsSlice()),
		DstIP:      net.IP(dst.AsSlice()),
	}
	icmp6 := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0),
	}
	if err := icmp6.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, err
	}

	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: net.IP(target.AsSlice()),
	}
	// The option must be absent when the source is unspecified.
	if !src.IsUnspecified() {
		ns.Options = layers.ICMPv6Options{
			{Type: layers.ICMPv6OptSourceAddress, Data: srcMAC},
		}
	}

	return serialize(srcMAC, dstMAC, ip6, icmp6, ns)
}

// BuildRouterSolicitation serializes an Ethernet framed RS to ff02::2.
func BuildRouterSolicitation(srcMAC net.HardwareAddr, src netip.Addr) ([]byte, error) {
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   hopLimit,
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      net.IP(src.AsSlice()),
		DstIP:      net.IP(allRouters.AsSlice()),
	}
	icmp6 := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeRouterSolicitation, 0),
	}
	if err := icmp6.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, err
	}

	rs := &layers.ICMPv6RouterSolicitation{
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptSourceAddress, Data: srcMAC},
		},
	}

	return serialize(srcMAC, MulticastMAC(allRouters), ip6, icmp6, rs)
}

func serialize(srcMAC, dstMAC net.HardwareAddr, l ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv6,
	}
	if err := gopacket.SerializeLayers(buf, opts, append([]gopacket.SerializableLayer{eth}, l...)...); err != nil {
		return nil, fmt.Errorf("failed to serialize packet: %w", err)
	}
	return buf.Bytes(), nil
}

// SolicitedNodeMulticast returns ff02::1:ffXX:XXXX for target.
func SolicitedNodeMulticast(target netip.Addr) netip.Addr {
	t := target.As16()
	return netip.AddrFrom16([16]byte{
		0xff, 0x02, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0x01, 0xff, t[13], t[14], t[15],
	})
}

// MulticastMAC maps an IPv6 multicast group to its 33:33:xx:xx:xx:xx
// Ethernet address.
func MulticastMAC(group netip.Addr) net.HardwareAddr {
	g := group.As16()
	return net.HardwareAddr{0x33, 0x33, g[12], g[13], g[14], g[15]}
}
