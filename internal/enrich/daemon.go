package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/dns/dnsmessage"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/logging"
)

const (
	mdnsPort      = 5353
	maxPacketSize = 4096

	browseInterval = 60 * time.Second
)

var (
	mdnsIPv4Addr = net.ParseIP("224.0.0.251")
	mdnsIPv6Addr = net.ParseIP("ff02::fb")
)

// DNSEntry is one append-only log record of a resolved mDNS event.
type DNSEntry struct {
	IP        string
	Hostname  string
	Services  []string
	Timestamp time.Time
}

// Daemon is the long-lived mDNS browser. It joins the multicast groups on
// every multicast-capable interface, periodically queries the configured
// service types, and folds every response into three structures: an
// (ip -> hostname) map, an (ip -> service set) map, and an append-only log.
type Daemon struct {
	serviceTypes []string
	clk          clock.Clock
	logger       *logging.Logger

	mu        sync.RWMutex
	hostnames map[string]string
	services  map[string]map[string]bool
	entries   []DNSEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDaemon constructs the daemon browsing serviceTypes (bare types like
// "_ipp._tcp"; the ".local." suffix is appended on the wire).
func NewDaemon(serviceTypes []string, clk clock.Clock, logger *logging.Logger) *Daemon {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Daemon{
		serviceTypes: serviceTypes,
		clk:          clk,
		logger:       logger.WithComponent("mdns"),
		hostnames:    make(map[string]string),
		services:     make(map[string]map[string]bool),
	}
}

// HostnameFor returns the cached hostname for ip. Implements the decoder's
// mDNS fallback.
func (d *Daemon) HostnameFor(ip string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.hostnames[ip]
	return h, ok
}

// ServicesFor returns the set of mDNS service types seen for ip.
func (d *Daemon) ServicesFor(ip string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.services[ip]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Entries returns a copy of the append-only resolution log.
func (d *Daemon) Entries() []DNSEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DNSEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Start binds the mDNS sockets and launches the receive and browse loops.
// An IPv6 bind failure degrades to IPv4-only.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	ifaces := multicastInterfaces()

	conn4, err := listenMDNS(ctx, "udp4", ":5353")
	if err != nil {
		return fmt.Errorf("enrich: bind udp4 mdns: %w", err)
	}
	pc4 := ipv4.NewPacketConn(conn4)
	for _, iface := range ifaces {
		if err := pc4.JoinGroup(iface, &net.UDPAddr{IP: mdnsIPv4Addr}); err != nil {
			d.logger.Warn("failed to join IPv4 mDNS group", "iface", iface.Name, "error", err)
		}
	}

	var pc6 *ipv6.PacketConn
	if conn6, err := listenMDNS(ctx, "udp6", "[::]:5353"); err != nil {
		d.logger.Warn("udp6 mdns bind failed, continuing with IPv4 only", "error", err)
	} else {
		pc6 = ipv6.NewPacketConn(conn6)
		for _, iface := range ifaces {
			if err := pc6.JoinGroup(iface, &net.UDPAddr{IP: mdnsIPv6Addr}); err != nil {
				d.logger.Warn("failed to join IPv6 mDNS group", "iface", iface.Name, "error", err)
			}
		}
	}

	d.wg.Add(2)
	go d.receiveIPv4(ctx, pc4)
	go d.browseLoop(ctx, pc4)

	if pc6 != nil {
		d.wg.Add(1)
		go d.receiveIPv6(ctx, pc6)
	}

	return nil
}

// Stop cancels the daemon loops and waits for them to exit.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// listenMDNS binds the mDNS port with SO_REUSEADDR/SO_REUSEPORT so the
// daemon coexists with any other responder on the host.
func listenMDNS(ctx context.Context, network, address string) (net.PacketConn, error) {
	var lc net.ListenConfig
	lc.Control = func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if opErr != nil {
				return
			}
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		if err != nil {
			return err
		}
		return opErr
	}
	return lc.ListenPacket(ctx, network, address)
}

func multicastInterfaces() []*net.Interface {
	all, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []*net.Interface
	for i := range all {
		iface := all[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		out = append(out, &all[i])
	}
	return out
}

func (d *Daemon) receiveIPv4(ctx context.Context, pc *ipv4.PacketConn) {
	defer d.wg.Done()
	defer pc.Close()

	pc.SetMulticastLoopback(false)
	buf := make([]byte, maxPacketSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			pc.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, _, src, err := pc.ReadFrom(buf)
			if err != nil {
				if errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "closed network connection") {
					return
				}
				continue
			}
			d.ingest(buf[:n], src)
		}
	}
}

func (d *Daemon) receiveIPv6(ctx context.Context, pc *ipv6.PacketConn) {
	defer d.wg.Done()
	defer pc.Close()

	pc.SetMulticastLoopback(false)
	buf := make([]byte, maxPacketSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			pc.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, _, src, err := pc.ReadFrom(buf)
			if err != nil {
				if errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "closed network connection") {
					return
				}
				continue
			}
			d.ingest(buf[:n], src)
		}
	}
}

// ingest parses one packet and folds it into the caches. Parse errors are
// common for malformed or non-DNS packets and are ignored silently.
func (d *Daemon) ingest(data []byte, src net.Addr) {
	parsed, err := parseMDNSPacket(data)
	if err != nil {
		return
	}
	if parsed.Hostname == "" && len(parsed.Services) == 0 {
		return
	}

	ips := parsed.Addresses
	if len(ips) == 0 && src != nil {
		if udpAddr, ok := src.(*net.UDPAddr); ok {
			ips = []string{udpAddr.IP.String()}
		}
	}

	now := d.clk.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ip := range ips {
		if parsed.Hostname != "" {
			d.hostnames[ip] = parsed.Hostname
		}
		if len(parsed.Services) > 0 {
			set := d.services[ip]
			if set == nil {
				set = make(map[string]bool)
				d.services[ip] = set
			}
			for _, s := range parsed.Services {
				set[s] = true
			}
		}
		d.entries = append(d.entries, DNSEntry{
			IP:        ip,
			Hostname:  parsed.Hostname,
			Services:  parsed.Services,
			Timestamp: now,
		})
	}
}

// browseLoop periodically multicasts PTR queries for every configured
// service type; responses arrive on the receive loops.
func (d *Daemon) browseLoop(ctx context.Context, pc *ipv4.PacketConn) {
	defer d.wg.Done()

	ticker := time.NewTicker(browseInterval)
	defer ticker.Stop()

	d.browse(pc)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.browse(pc)
		}
	}
}

func (d *Daemon) browse(pc *ipv4.PacketConn) {
	dst := &net.UDPAddr{IP: mdnsIPv4Addr, Port: mdnsPort}
	for _, svc := range d.serviceTypes {
		query, err := buildPTRQuery(svc + ".local.")
		if err != nil {
			continue
		}
		pc.SetMulticastTTL(255)
		if _, err := pc.WriteTo(query, nil, dst); err != nil {
			d.logger.Debug("mdns query write failed", "service", svc, "error", err)
		}
	}
}

func buildPTRQuery(name string) ([]byte, error) {
	dnsName, err := dnsmessage.NewName(name)
	if err != nil {
		return nil, err
	}
	msg := dnsmessage.Message{
		Questions: []dnsmessage.Question{{
			Name:  dnsName,
			Type:  dnsmessage.TypePTR,
			Class: dnsmessage.ClassINET,
		}},
	}
	return msg.Pack()
}
