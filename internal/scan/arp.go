package scan

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/mdlayher/packet"

	"github.com/discoveryd/engine/internal/logging"
)

const etherTypeARP = 0x0806

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// arpScanner broadcasts an ARP request per host address and collects the
// replies arriving on the same raw socket.
type arpScanner struct{}

func (a *arpScanner) Type() Type        { return TypeARP }
func (a *arpScanner) RequiresRaw() bool { return true }

func (a *arpScanner) Run(ctx context.Context, subnets []*net.IPNet, cfg Config, emit func(Result)) {
	logger := logging.WithComponent("scan.arp")
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	delay := time.Duration(cfg.DelayMS) * time.Millisecond

	for _, subnet := range subnets {
		if ctx.Err() != nil {
			return
		}
		iface, srcIP, srcMAC := interfaceFor(subnet)
		if iface == nil {
			logger.Warn("no interface found for subnet", "subnet", subnet.String())
			continue
		}

		conn, err := packet.Listen(iface, packet.Raw, etherTypeARP, nil)
		if err != nil {
			logger.Error("arp socket failed", "iface", iface.Name, "error", err)
			continue
		}
		a.scanSubnet(ctx, conn, subnet, srcIP, srcMAC, timeout, delay, emit)
		conn.Close()
	}
}

func (a *arpScanner) scanSubnet(ctx context.Context, conn *packet.Conn, subnet *net.IPNet, srcIP net.IP, srcMAC net.HardwareAddr, timeout, delay time.Duration, emit func(Result)) {
	start := time.Now()
	deadline := start.Add(timeout)

	seen := map[string]bool{}
	done := make(chan struct{})

	// Receiver: parse ARP replies until the deadline.
	go func() {
		defer close(done)
		buf := make([]byte, 128)
		for time.Now().Before(deadline) {
			if ctx.Err() != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
					continue
				}
				return
			}
			ip, mac, ok := parseARPReply(buf[:n])
			if !ok || seen[ip] {
				continue
			}
			seen[ip] = true
			emit(Result{
				Type:           TypeARP,
				IP:             ip,
				MAC:            mac,
				ResponseTimeMS: time.Since(start).Milliseconds(),
			})
		}
	}()

	for _, host := range hostsIn(subnet) {
		if ctx.Err() != nil {
			break
		}
		if host.Equal(srcIP) {
			continue
		}
		frame := buildARPRequest(srcMAC, srcIP.To4(), host.To4())
		conn.WriteTo(frame, &packet.Addr{HardwareAddr: broadcastMAC})
		time.Sleep(delay)
	}

	<-done
}

// buildARPRequest assembles the 42-byte Ethernet+ARP request frame: opcode
// 0x0001, hardware type 0x0001, protocol type 0x0800, target MAC zero.
func buildARPRequest(srcMAC net.HardwareAddr, srcIP, targetIP net.IP) []byte {
	frame := make([]byte, 42)

	copy(frame[0:6], broadcastMAC)
	copy(frame[6:12], srcMAC)
	binary.BigEndian.PutUint16(frame[12:14], etherTypeARP)

	arp := frame[14:]
	binary.BigEndian.PutUint16(arp[0:2], 0x0001) // hardware type: Ethernet
	binary.BigEndian.PutUint16(arp[2:4], 0x0800) // protocol type: IPv4
	arp[4] = 6                                   // hardware address length
	arp[5] = 4                                   // protocol address length
	binary.BigEndian.PutUint16(arp[6:8], 0x0001) // opcode: request
	copy(arp[8:14], srcMAC)
	copy(arp[14:18], srcIP)
	// target MAC stays zero
	copy(arp[24:28], targetIP)

	return frame
}

// parseARPReply extracts (sender IP, sender MAC) from an ARP reply frame.
func parseARPReply(frame []byte) (string, string, bool) {
	if len(frame) < 42 {
		return "", "", false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != etherTypeARP {
		return "", "", false
	}
	arp := frame[14:]
	if binary.BigEndian.Uint16(arp[6:8]) != 0x0002 { // opcode: reply
		return "", "", false
	}
	mac := net.HardwareAddr(arp[8:14]).String()
	ip := net.IP(arp[14:18]).String()
	return ip, mac, true
}

// interfaceFor finds the up, non-loopback interface whose IPv4 lies inside
// subnet, returning its IP and MAC.
func interfaceFor(subnet *net.IPNet) (*net.Interface, net.IP, net.HardwareAddr) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, nil
	}
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			if subnet.Contains(ipnet.IP) {
				return &ifaces[i], ipnet.IP.To4(), iface.HardwareAddr
			}
		}
	}
	return nil, nil, nil
}
