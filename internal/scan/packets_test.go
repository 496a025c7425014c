package scan

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

func TestBuildARPRequest_Layout(t *testing.T) {
	srcMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	frame := buildARPRequest(srcMAC, net.IPv4(192, 168, 1, 10).To4(), net.IPv4(192, 168, 1, 20).To4())

	require.Len(t, frame, 42)
	assert.Equal(t, broadcastMAC, net.HardwareAddr(frame[0:6]))
	assert.Equal(t, srcMAC, net.HardwareAddr(frame[6:12]))
	assert.Equal(t, uint16(etherTypeARP), binary.BigEndian.Uint16(frame[12:14]))

	arp := frame[14:]
	require.Len(t, arp, 28)
	assert.Equal(t, uint16(0x0001), binary.BigEndian.Uint16(arp[0:2]), "hardware type")
	assert.Equal(t, uint16(0x0800), binary.BigEndian.Uint16(arp[2:4]), "protocol type")
	assert.Equal(t, byte(6), arp[4], "hardware length")
	assert.Equal(t, byte(4), arp[5], "protocol length")
	assert.Equal(t, uint16(0x0001), binary.BigEndian.Uint16(arp[6:8]), "opcode request")
	assert.Equal(t, srcMAC, net.HardwareAddr(arp[8:14]))
	assert.Equal(t, "192.168.1.10", net.IP(arp[14:18]).String())
	assert.Equal(t, net.HardwareAddr{0, 0, 0, 0, 0, 0}, net.HardwareAddr(arp[18:24]), "target MAC zero")
	assert.Equal(t, "192.168.1.20", net.IP(arp[24:28]).String())
}

func TestParseARPReply_RoundTrip(t *testing.T) {
	// Build a reply by flipping the opcode of a request.
	srcMAC := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, 0x11, 0x22}
	frame := buildARPRequest(srcMAC, net.IPv4(192, 168, 1, 20).To4(), net.IPv4(192, 168, 1, 10).To4())
	binary.BigEndian.PutUint16(frame[20:22], 0x0002)

	ip, mac, ok := parseARPReply(frame)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.20", ip)
	assert.Equal(t, "aa:bb:cc:00:11:22", mac)

	// Requests are not replies.
	req := buildARPRequest(srcMAC, net.IPv4(192, 168, 1, 20).To4(), net.IPv4(192, 168, 1, 10).To4())
	_, _, ok = parseARPReply(req)
	assert.False(t, ok)
}

func TestICMPEchoRequest_Layout(t *testing.T) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: 0x1234, Seq: 0x5678},
	}
	wire, err := msg.Marshal(nil)
	require.NoError(t, err)

	require.Len(t, wire, 8)
	assert.Equal(t, byte(0x08), wire[0], "type echo request")
	assert.Equal(t, byte(0x00), wire[1], "code")
	assert.Equal(t, uint16(0x1234), binary.BigEndian.Uint16(wire[4:6]))
	assert.Equal(t, uint16(0x5678), binary.BigEndian.Uint16(wire[6:8]))

	// The ones-complement sum over the whole packet, checksum included,
	// must fold to 0xffff.
	var sum uint32
	for i := 0; i < len(wire); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(wire[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	assert.Equal(t, uint32(0xffff), sum)

	// Round-trip through the parser unchanged.
	parsed, err := icmp.ParseMessage(1, wire)
	require.NoError(t, err)
	echo, ok := parsed.Body.(*icmp.Echo)
	require.True(t, ok)
	assert.Equal(t, 0x1234, echo.ID)
	assert.Equal(t, 0x5678, echo.Seq)
}

func TestBuildNeighborSolicitation(t *testing.T) {
	srcMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	srcIP := netip.MustParseAddr("fe80::211:22ff:fe33:4455")

	frame, err := buildNeighborSolicitation(srcMAC, srcIP)
	require.NoError(t, err)
	require.Len(t, frame, 86) // Ethernet 14 + IPv6 40 + NS 24 + SLL option 8

	assert.Equal(t, allNodesMAC, net.HardwareAddr(frame[0:6]))
	assert.Equal(t, uint16(etherTypeIPv6), binary.BigEndian.Uint16(frame[12:14]))

	ip := frame[14:54]
	assert.Equal(t, byte(6<<4), ip[0]&0xf0)
	assert.Equal(t, byte(58), ip[6], "next header ICMPv6")
	assert.Equal(t, byte(255), ip[7], "hop limit")
	assert.Equal(t, "ff02::1", net.IP(ip[24:40]).String())

	body := frame[54:]
	assert.Equal(t, byte(135), body[0], "neighbor solicitation type")
	// Source link-layer option trailer: type 1, length 1, MAC.
	opt := body[24:32]
	assert.Equal(t, byte(1), opt[0])
	assert.Equal(t, byte(1), opt[1])
	assert.Equal(t, srcMAC, net.HardwareAddr(opt[2:8]))

	// Recomputing the pseudo-header checksum over the packet with its
	// checksum field in place folds to zero.
	src := srcIP.As16()
	dst := allNodesAddr.As16()
	assert.Equal(t, uint16(0), icmpv6Checksum(src[:], dst[:], body))
}

func TestParseNeighborAdvertisement(t *testing.T) {
	frame := make([]byte, 86)
	copy(frame[0:6], []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})  // dst
	copy(frame[6:12], []byte{0xd4, 0x61, 0x9d, 0x01, 0x02, 0x03}) // src
	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv6)

	ip := frame[14:]
	ip[0] = 6 << 4
	ip[6] = 58
	ip[7] = 255
	copy(ip[8:24], net.ParseIP("fe80::d661:9dff:fe01:203"))
	copy(ip[24:40], net.ParseIP("fe80::211:22ff:fe33:4455"))
	ip[40] = 136 // Neighbor Advertisement

	addr, mac, ok := parseNeighborAdvertisement(frame)
	require.True(t, ok)
	assert.Equal(t, "fe80::d661:9dff:fe01:203", addr)
	assert.Equal(t, "d4:61:9d:01:02:03", mac)

	// Multicast source MAC is rejected.
	frame[6] = 0x33
	_, _, ok = parseNeighborAdvertisement(frame)
	assert.False(t, ok)
}

func TestBuildNodeStatusRequest(t *testing.T) {
	request := buildNodeStatusRequest(0x1234)

	// A NetBIOS "*" node status request is exactly 50 bytes.
	require.Len(t, request, 50)

	assert.Equal(t, uint16(0x1234), binary.BigEndian.Uint16(request[0:2]))
	assert.Equal(t, uint16(0x0001), binary.BigEndian.Uint16(request[4:6]), "questions")

	assert.Equal(t, byte(0x20), request[12], "encoded name length")
	assert.Equal(t, byte('C'), request[13])
	assert.Equal(t, byte('K'), request[14])
	for i := 0; i < 15; i++ {
		assert.Equal(t, byte('C'), request[15+2*i])
		assert.Equal(t, byte('A'), request[16+2*i])
	}
	assert.Equal(t, byte(0x00), request[45], "name terminator")
	assert.Equal(t, uint16(0x0021), binary.BigEndian.Uint16(request[46:48]), "NBSTAT type")
	assert.Equal(t, uint16(0x0001), binary.BigEndian.Uint16(request[48:50]), "IN class")
}

func TestParseNodeStatusResponse(t *testing.T) {
	// Synthesize a response: 50-byte echo of the question section, then
	// TTL + RDLENGTH + name table.
	resp := make([]byte, 50)
	binary.BigEndian.PutUint16(resp[6:8], 1) // answer count

	var table []byte
	table = append(table, 2) // name count
	table = append(table, []byte("WORKSTATION1   ")...)
	table = append(table, 0x00, 0x04, 0x00) // suffix 0x00, flags: unique
	table = append(table, []byte("WORKGROUP      ")...)
	table = append(table, 0x00, 0x84, 0x00) // suffix 0x00, flags: group
	table = append(table, 0xd4, 0x61, 0x9d, 0x01, 0x02, 0x03)

	resp = append(resp, 0, 0, 0, 0) // TTL
	rdlen := make([]byte, 2)
	binary.BigEndian.PutUint16(rdlen, uint16(len(table)))
	resp = append(resp, rdlen...)
	resp = append(resp, table...)

	name, workgroup, mac, ok := parseNodeStatusResponse(resp)
	require.True(t, ok)
	assert.Equal(t, "WORKSTATION1", name)
	assert.Equal(t, "WORKGROUP", workgroup)
	assert.Equal(t, "d4:61:9d:01:02:03", mac)
}

func TestParseSSDPResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"LOCATION: http://192.168.1.30:9197/dmr\r\n" +
		"SERVER: SHP, UPnP/1.0, Samsung UPnP SDK/1.0\r\n" +
		"ST: upnp:rootdevice\r\n\r\n"

	location, server, ok := parseSSDPResponse([]byte(raw))
	require.True(t, ok)
	assert.Equal(t, "http://192.168.1.30:9197/dmr", location)
	assert.Contains(t, server, "Samsung")

	ip, ok := ssdpHostIP(location)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.30", ip)

	// LOCATION with a DNS hostname is rejected.
	_, ok = ssdpHostIP("http://device.local:9197/dmr")
	assert.False(t, ok)
}

func TestServiceNameForPort(t *testing.T) {
	assert.Equal(t, "SSH", ServiceNameForPort(22))
	assert.Equal(t, "Printer", ServiceNameForPort(9100))
	assert.Equal(t, "", ServiceNameForPort(12345))
}

func TestHostsIn_SkipsNetworkAndBroadcast(t *testing.T) {
	_, subnet, err := net.ParseCIDR("192.168.1.0/24")
	require.NoError(t, err)

	hosts := hostsIn(subnet)
	require.Len(t, hosts, 254)
	assert.Equal(t, "192.168.1.1", hosts[0].String())
	assert.Equal(t, "192.168.1.254", hosts[len(hosts)-1].String())
}
