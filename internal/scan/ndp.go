package scan

import (
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"time"

	"github.com/mdlayher/ndp"
	"github.com/mdlayher/packet"

	"github.com/discoveryd/engine/internal/logging"
)

const etherTypeIPv6 = 0x86dd

// allNodesMAC is the Ethernet multicast address for ff02::1.
var allNodesMAC = net.HardwareAddr{0x33, 0x33, 0x00, 0x00, 0x00, 0x01}

// ndpScanner multicasts a Neighbor Solicitation per link-local interface and
// records the Neighbor Advertisements that come back.
type ndpScanner struct{}

func (n *ndpScanner) Type() Type        { return TypeNDP }
func (n *ndpScanner) RequiresRaw() bool { return true }

func (n *ndpScanner) Run(ctx context.Context, _ []*net.IPNet, cfg Config, emit func(Result)) {
	logger := logging.WithComponent("scan.ndp")
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond

	for _, target := range linkLocalInterfaces() {
		if ctx.Err() != nil {
			return
		}

		conn, err := packet.Listen(target.iface, packet.Raw, etherTypeIPv6, nil)
		if err != nil {
			logger.Error("ndp socket failed", "iface", target.iface.Name, "error", err)
			continue
		}
		n.scanInterface(ctx, conn, target, timeout, emit)
		conn.Close()
	}
}

type ndpTarget struct {
	iface *net.Interface
	addr  netip.Addr // link-local source
}

func linkLocalInterfaces() []ndpTarget {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []ndpTarget
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok || !addr.Is6() || addr.Is4In6() || !addr.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, ndpTarget{iface: &ifaces[i], addr: addr})
			break
		}
	}
	return out
}

func (n *ndpScanner) scanInterface(ctx context.Context, conn *packet.Conn, target ndpTarget, timeout time.Duration, emit func(Result)) {
	start := time.Now()
	deadline := start.Add(timeout)

	frame, err := buildNeighborSolicitation(target.iface.HardwareAddr, target.addr)
	if err != nil {
		return
	}
	conn.WriteTo(frame, &packet.Addr{HardwareAddr: allNodesMAC})

	seen := map[string]bool{}
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		nn, _, err := conn.ReadFrom(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			return
		}
		ip, mac, ok := parseNeighborAdvertisement(buf[:nn])
		if !ok || seen[ip] {
			continue
		}
		seen[ip] = true
		emit(Result{
			Type:           TypeNDP,
			IP:             ip,
			MAC:            mac,
			ResponseTimeMS: time.Since(start).Milliseconds(),
		})
	}
}

var allNodesAddr = netip.MustParseAddr("ff02::1")

// buildNeighborSolicitation assembles the full Ethernet frame: IPv6 header
// with hop limit 255, then the NS message with a Source Link-Layer Address
// option, with the ICMPv6 pseudo-header checksum filled in.
func buildNeighborSolicitation(srcMAC net.HardwareAddr, srcIP netip.Addr) ([]byte, error) {
	ns := &ndp.NeighborSolicitation{
		TargetAddress: netip.IPv6Unspecified(),
		Options: []ndp.Option{
			&ndp.LinkLayerAddress{Direction: ndp.Source, Addr: srcMAC},
		},
	}
	icmp, err := ndp.MarshalMessage(ns)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 14+40+len(icmp))
	copy(frame[0:6], allNodesMAC)
	copy(frame[6:12], srcMAC)
	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv6)

	ip := frame[14:54]
	ip[0] = 6 << 4
	binary.BigEndian.PutUint16(ip[4:6], uint16(len(icmp)))
	ip[6] = 58  // next header: ICMPv6
	ip[7] = 255 // hop limit
	src := srcIP.As16()
	dst := allNodesAddr.As16()
	copy(ip[8:24], src[:])
	copy(ip[24:40], dst[:])

	body := frame[54:]
	copy(body, icmp)
	csum := icmpv6Checksum(src[:], dst[:], body)
	binary.BigEndian.PutUint16(body[2:4], csum)

	return frame, nil
}

// icmpv6Checksum is the ones-complement sum over the IPv6 pseudo-header
// (src, dst, ICMPv6 length, next-header 58) and the ICMPv6 packet.
func icmpv6Checksum(src, dst, icmp []byte) uint16 {
	var sum uint32

	add16 := func(b []byte) {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}

	add16(src)
	add16(dst)
	sum += uint32(len(icmp))
	sum += 58
	add16(icmp)

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// parseNeighborAdvertisement extracts (source IPv6, Ethernet source MAC)
// from a Neighbor Advertisement frame, rejecting multicast source MACs.
func parseNeighborAdvertisement(frame []byte) (string, string, bool) {
	// Ethernet (14) + IPv6 (40) + ICMPv6 NA (24)
	if len(frame) < 78 {
		return "", "", false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != etherTypeIPv6 {
		return "", "", false
	}

	ip := frame[14:]
	if ip[6] != 58 { // next header: ICMPv6
		return "", "", false
	}
	icmp := ip[40:]
	if len(icmp) == 0 || icmp[0] != 136 { // Neighbor Advertisement
		return "", "", false
	}

	srcMAC := net.HardwareAddr(frame[6:12])
	if srcMAC[0]&0x01 != 0 { // multicast source
		return "", "", false
	}

	srcIP := net.IP(ip[8:24])
	return srcIP.String(), srcMAC.String(), true
}
