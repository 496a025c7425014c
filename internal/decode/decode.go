// Package decode turns raw Ethernet frames into Communication fields: L3
// classification, addresses, ports, transport protocol, well-known-port
// sub-protocol, and the L4 payload. The evidence harvest (HTTP Host, TLS
// SNI, reverse DNS) lives in hostname.go and is kept separate from the
// allocation-free frame parse.
package decode

import (
	"encoding/binary"
	"net"

	"github.com/discoveryd/engine/internal/model"
)

// Layer3Kind classifies the frame's network layer.
type Layer3Kind int

const (
	Layer3Unknown Layer3Kind = iota
	Layer3IPv4
	Layer3IPv6
	Layer3Ethernet // non-IP Ethernet (ARP and friends)
)

// Frame is the decoded view of a single Ethernet frame. IP/port fields are
// zero values when the frame carries no such layer.
type Frame struct {
	Kind    Layer3Kind
	SrcMAC  string
	DstMAC  string
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16

	IPVersion   int
	HeaderProto model.IPHeaderProtocol
	SubProtocol string

	Payload []byte // TCP or UDP payload; nil otherwise
}

const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86dd

	ipProtoICMP   = 1
	ipProtoIGMP   = 2
	ipProtoTCP    = 6
	ipProtoUDP    = 17
	ipProtoICMPv6 = 58
)

// ParseFrame decodes frame without allocating beyond the returned struct.
// It returns false when the buffer is too short to carry an Ethernet header.
func ParseFrame(frame []byte) (Frame, bool) {
	if len(frame) < 14 {
		return Frame{}, false
	}

	f := Frame{
		DstMAC: macString(frame[0:6]),
		SrcMAC: macString(frame[6:12]),
	}

	switch binary.BigEndian.Uint16(frame[12:14]) {
	case etherTypeIPv4:
		parseIPv4(&f, frame[14:])
	case etherTypeIPv6:
		parseIPv6(&f, frame[14:])
	default:
		f.Kind = Layer3Ethernet
	}
	return f, true
}

func parseIPv4(f *Frame, pkt []byte) {
	if len(pkt) < 20 || pkt[0]>>4 != 4 {
		f.Kind = Layer3Unknown
		return
	}
	ihl := int(pkt[0]&0x0f) * 4
	if ihl < 20 || len(pkt) < ihl {
		f.Kind = Layer3Unknown
		return
	}

	f.Kind = Layer3IPv4
	f.IPVersion = 4
	f.SrcIP = ipv4String(pkt[12:16])
	f.DstIP = ipv4String(pkt[16:20])

	proto := pkt[9]
	f.HeaderProto = headerProtoName(proto)
	parseTransport(f, proto, pkt[ihl:])
}

func parseIPv6(f *Frame, pkt []byte) {
	if len(pkt) < 40 || pkt[0]>>4 != 6 {
		f.Kind = Layer3Unknown
		return
	}

	f.Kind = Layer3IPv6
	f.IPVersion = 6
	f.SrcIP = ipv6String(pkt[8:24])
	f.DstIP = ipv6String(pkt[24:40])

	// Fixed header only; extension-header chains fall out as their
	// next-header protocol name with no ports.
	proto := pkt[6]
	f.HeaderProto = headerProtoName(proto)
	parseTransport(f, proto, pkt[40:])
}

func parseTransport(f *Frame, proto byte, payload []byte) {
	switch proto {
	case ipProtoTCP:
		if len(payload) < 20 {
			return
		}
		f.SrcPort = binary.BigEndian.Uint16(payload[0:2])
		f.DstPort = binary.BigEndian.Uint16(payload[2:4])
		dataOff := int(payload[12]>>4) * 4
		if dataOff >= 20 && len(payload) > dataOff {
			f.Payload = payload[dataOff:]
		}
	case ipProtoUDP:
		if len(payload) < 8 {
			return
		}
		f.SrcPort = binary.BigEndian.Uint16(payload[0:2])
		f.DstPort = binary.BigEndian.Uint16(payload[2:4])
		if len(payload) > 8 {
			f.Payload = payload[8:]
		}
	default:
		return
	}

	// Sub-protocol from destination port, falling back to source port.
	if sub := SubProtocolForPort(f.DstPort); sub != "" {
		f.SubProtocol = sub
	} else {
		f.SubProtocol = SubProtocolForPort(f.SrcPort)
	}
}

func headerProtoName(proto byte) model.IPHeaderProtocol {
	switch proto {
	case ipProtoTCP:
		return model.ProtoTCP
	case ipProtoUDP:
		return model.ProtoUDP
	case ipProtoICMP:
		return model.ProtoICMP
	case ipProtoICMPv6:
		return model.ProtoICMPv6
	case ipProtoIGMP:
		return model.IPHeaderProtocol("Igmp")
	default:
		return model.ProtoUnknown
	}
}

// subProtocolPorts is the closed table of well-known ports. Unknown ports
// yield no sub-protocol.
var subProtocolPorts = map[uint16]string{
	// Web
	80:  "HTTP",
	443: "HTTPS",
	// File transfer
	21:  "FTP",
	990: "FTPS",
	// Email
	25:  "SMTP",
	110: "POP3",
	143: "IMAP",
	// Domain and network services
	53:  "DNS",
	67:  "DHCP Server",
	68:  "DHCP Client",
	123: "NTP",
	// Remote access
	22:   "SSH",
	23:   "Telnet",
	3389: "RDP",
	// Windows networking
	445: "SMB",
	137: "NetBIOS Name Service",
	138: "NetBIOS Datagram Service",
	139: "NetBIOS Session Service",
	// Misc
	2238:  "Immich",
	5353:  "mDNS",
	27020: "Valve",
	27015: "Dota 2",
	3722:  "Apple X Server AID",
	58726: "OAS",
	59632: "WMI",
}

// SubProtocolForPort maps a well-known port to its label, or "".
func SubProtocolForPort(port uint16) string {
	return subProtocolPorts[port]
}

const hexdigits = "0123456789abcdef"

func macString(b []byte) string {
	out := make([]byte, 0, 17)
	for i, v := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexdigits[v>>4], hexdigits[v&0x0f])
	}
	return string(out)
}

func ipv4String(b []byte) string {
	out := make([]byte, 0, 15)
	for i, v := range b {
		if i > 0 {
			out = append(out, '.')
		}
		out = appendDecimal(out, v)
	}
	return string(out)
}

func appendDecimal(out []byte, v byte) []byte {
	if v >= 100 {
		out = append(out, '0'+v/100)
	}
	if v >= 10 {
		out = append(out, '0'+(v/10)%10)
	}
	return append(out, '0'+v%10)
}

func ipv6String(b []byte) string {
	// net.IP.String applies RFC 5952 compression; a fixed 16-byte copy keeps
	// the frame buffer unreferenced.
	ip := make(net.IP, 16)
	copy(ip, b)
	return ip.String()
}
