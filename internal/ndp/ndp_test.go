package ndp

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostinger/nd6relay/internal/neighbor"
)

type captureWriter struct {
	frames [][]byte
	err    error
}

func (m *captureWriter) WritePacketData(data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.frames = append(m.frames, append([]byte(nil), data...))
	return nil
}

var (
	srcMAC  = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	peerMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
	srcIP   = netip.MustParseAddr("fe80::1")
)

func decode(t *testing.T, frame []byte) gopacket.Packet {
	t.Helper()
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())
	return pkt
}

func newEmitter(w PacketWriter) *Emitter {
	return NewEmitter(w, srcMAC, srcIP, func(ip netip.Addr) (net.HardwareAddr, bool) {
		if ip == netip.MustParseAddr("fe80::2") {
			return peerMAC, true
		}
		return nil, false
	})
}

func TestSolicitMulticast(t *testing.T) {
	w := &captureWriter{}
	target := netip.MustParseAddr("2001:db8::aa:bbcc")

	require.NoError(t, newEmitter(w).Solicit(netip.Addr{}, netip.Addr{}, target))
	require.Len(t, w.frames, 1)

	pkt := decode(t, w.frames[0])
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, net.HardwareAddr{0x33, 0x33, 0xff, 0xaa, 0xbb, 0xcc}, eth.DstMAC)
	assert.Equal(t, srcMAC, eth.SrcMAC)

	ip6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	assert.Equal(t, uint8(255), ip6.HopLimit)
	assert.Equal(t, "ff02::1:ffaa:bbcc", ip6.DstIP.String())
	assert.Equal(t, "fe80::1", ip6.SrcIP.String())

	ns := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation).(*layers.ICMPv6NeighborSolicitation)
	assert.Equal(t, target.String(), ns.TargetAddress.String())
	require.Len(t, ns.Options, 1)
	assert.Equal(t, layers.ICMPv6OptSourceAddress, ns.Options[0].Type)
	assert.Equal(t, []byte(srcMAC), ns.Options[0].Data)
}

func TestSolicitUnicast(t *testing.T) {
	w := &captureWriter{}
	peer := netip.MustParseAddr("fe80::2")

	require.NoError(t, newEmitter(w).Solicit(netip.Addr{}, peer, peer))

	pkt := decode(t, w.frames[0])
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, peerMAC, eth.DstMAC)
	ip6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	assert.Equal(t, "fe80::2", ip6.DstIP.String())
}

func TestSolicitUnresolved(t *testing.T) {
	w := &captureWriter{}
	peer := netip.MustParseAddr("fe80::3")

	assert.Error(t, newEmitter(w).Solicit(netip.Addr{}, peer, peer))
	assert.Empty(t, w.frames)
}

func TestSolicitWriteError(t *testing.T) {
	w := &captureWriter{err: errors.New("link down")}

	err := newEmitter(w).Solicit(netip.Addr{}, netip.Addr{}, netip.MustParseAddr("fe80::9"))
	assert.ErrorContains(t, err, "link down")
}

func TestSolicitRouters(t *testing.T) {
	w := &captureWriter{}

	require.NoError(t, newEmitter(w).SolicitRouters())

	pkt := decode(t, w.frames[0])
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, net.HardwareAddr{0x33, 0x33, 0, 0, 0, 0x02}, eth.DstMAC)
	assert.NotNil(t, pkt.Layer(layers.LayerTypeICMPv6RouterSolicitation))
}

func buildAdvert(t *testing.T, flags uint8, opts layers.ICMPv6Options) gopacket.Packet {
	t.Helper()

	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   hopLimit,
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      net.ParseIP("fe80::2"),
		DstIP:      net.ParseIP("fe80::1"),
	}
	icmp6 := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0),
	}
	require.NoError(t, icmp6.SetNetworkLayerForChecksum(ip6))
	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         flags,
		TargetAddress: net.ParseIP("2001:db8:0:5::9"),
		Options:       opts,
	}

	frame, err := serialize(peerMAC, srcMAC, ip6, icmp6, na)
	require.NoError(t, err)
	return decode(t, frame)
}

func TestParseAdvertWithOption(t *testing.T) {
	optMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x99}
	pkt := buildAdvert(t, 0xc0, layers.ICMPv6Options{
		{Type: layers.ICMPv6OptTargetAddress, Data: optMAC},
	})

	advert, ok := ParseAdvert(pkt)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("2001:db8:0:5::9"), advert.Target)
	assert.Equal(t, neighbor.LinkAddr{0x02, 0, 0, 0, 0, 0x99}, advert.LinkAddr)
	assert.True(t, advert.Router)
	assert.True(t, advert.Solicited)
}

func TestParseAdvertFallsBackToEthernetSource(t *testing.T) {
	pkt := buildAdvert(t, 0x20, nil)

	advert, ok := ParseAdvert(pkt)
	require.True(t, ok)
	assert.Equal(t, neighbor.LinkAddr{0x02, 0, 0, 0, 0, 0x02}, advert.LinkAddr)
	assert.False(t, advert.Router)
}

func TestParseAdvertIgnoresOtherPackets(t *testing.T) {
	frame, err := BuildRouterSolicitation(srcMAC, srcIP)
	require.NoError(t, err)

	_, ok := ParseAdvert(decode(t, frame))
	assert.False(t, ok)
}

func TestSolicitedNodeMulticast(t *testing.T) {
	group := SolicitedNodeMulticast(netip.MustParseAddr("fe80::2aa:ff:fe28:9c5a"))
	assert.Equal(t, netip.MustParseAddr("ff02::1:ff28:9c5a"), group)
	assert.Equal(t, net.HardwareAddr{0x33, 0x33, 0xff, 0x28, 0x9c, 0x5a}, MulticastMAC(group))
}
