// Package capture runs one raw AF_PACKET listener per up, non-loopback
// interface, decodes each Ethernet frame, and submits the resulting
// observation to the writer channel. A full channel blocks the interface
// task (backpressure) rather than dropping frames.
package capture

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/mdlayher/packet"

	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/decode"
	"github.com/discoveryd/engine/internal/logging"
	"github.com/discoveryd/engine/internal/store"
)

// etherTypeAll captures every protocol on the interface (ETH_P_ALL).
const etherTypeAll = 0x0003

// Submitter is the writer-channel surface the capture tasks feed.
type Submitter interface {
	Submit(ctx context.Context, obs store.Observation) error
}

// Service owns one capture task per interface.
type Service struct {
	submitter Submitter
	resolver  *decode.Resolver
	clk       clock.Clock
	logger    *logging.Logger

	interfaces []string // empty means all up, non-loopback interfaces

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the capture service. interfaces narrows the capture set;
// empty captures everywhere.
func New(submitter Submitter, resolver *decode.Resolver, clk clock.Clock, logger *logging.Logger, interfaces []string) *Service {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		submitter:  submitter,
		resolver:   resolver,
		clk:        clk,
		logger:     logger.WithComponent("capture"),
		interfaces: interfaces,
	}
}

// Start enumerates interfaces and launches one listener task per eligible
// interface. A listen failure on one interface is reported and skipped;
// the others are unaffected.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)

	ifaces, err := s.eligibleInterfaces()
	if err != nil {
		return err
	}
	if len(ifaces) == 0 {
		s.logger.Warn("no capturable interfaces found")
		return nil
	}

	for _, iface := range ifaces {
		conn, err := packet.Listen(iface, packet.Raw, etherTypeAll, nil)
		if err != nil {
			s.logger.Error("packet capture failed on interface", "iface", iface.Name, "error", err)
			continue
		}
		s.wg.Add(1)
		go s.run(ctx, conn, iface.Name)
		s.logger.Info("capturing", "iface", iface.Name)
	}
	return nil
}

// Stop cancels all capture tasks and waits for them to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) eligibleInterfaces() ([]*net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, name := range s.interfaces {
		wanted[name] = true
	}

	var out []*net.Interface
	for i := range all {
		iface := all[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(wanted) > 0 && !wanted[iface.Name] {
			continue
		}
		out = append(out, &all[i])
	}
	return out, nil
}

func (s *Service) run(ctx context.Context, conn *packet.Conn, ifaceName string) {
	defer s.wg.Done()
	defer conn.Close()

	buf := make([]byte, 9000) // jumbo-frame headroom

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Read deadline keeps the loop responsive to cancellation.
			conn.SetReadDeadline(time.Now().Add(1 * time.Second))

			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
					continue
				}
				if strings.Contains(err.Error(), "closed network connection") {
					return
				}
				s.logger.Error("capture read failed, stopping interface task", "iface", ifaceName, "error", err)
				return
			}

			obs, ok := s.observe(buf[:n], ifaceName)
			if !ok {
				continue
			}
			if err := s.submitter.Submit(ctx, obs); err != nil {
				return // context cancelled while blocked on a full channel
			}
		}
	}
}

// observe decodes a frame into an Observation, harvesting hostname and DHCP
// evidence. Harvest failures never propagate into capture.
func (s *Service) observe(frame []byte, ifaceName string) (store.Observation, bool) {
	f, ok := decode.ParseFrame(frame)
	if !ok || f.Kind == decode.Layer3Unknown {
		return store.Observation{}, false
	}

	obs := store.Observation{
		Interface:   ifaceName,
		ObservedAt:  s.clk.Now().UTC(),
		Src:         store.Peer{MAC: f.SrcMAC, IP: f.SrcIP},
		Dst:         store.Peer{MAC: f.DstMAC, IP: f.DstIP},
		SrcPort:     f.SrcPort,
		DstPort:     f.DstPort,
		IPVersion:   f.IPVersion,
		HeaderProto: f.HeaderProto,
		SubProtocol: f.SubProtocol,
		Bytes:       int64(len(frame)),
	}

	if s.resolver != nil {
		obs.Src.Hostname = s.resolver.HostnameHint(f, f.SrcIP)
		obs.Dst.Hostname = s.resolver.HostnameHint(f, f.DstIP)
	}

	// DHCP client broadcasts carry hostname, vendor class, and client id.
	if f.DstPort == 67 && len(f.Payload) > 0 {
		harvestDHCP(&obs.Src, f.Payload)
	}

	return obs, true
}

func harvestDHCP(peer *store.Peer, payload []byte) {
	pkt, err := dhcpv4.FromBytes(payload)
	if err != nil || pkt.OpCode != dhcpv4.OpcodeBootRequest {
		return
	}
	if opt := pkt.Options.Get(dhcpv4.OptionHostName); opt != nil {
		peer.Hostname = string(opt)
	}
	if opt := pkt.Options.Get(dhcpv4.OptionClassIdentifier); opt != nil {
		peer.DHCPVendorClass = string(opt)
	}
	if opt := pkt.Options.Get(dhcpv4.OptionClientIdentifier); opt != nil {
		peer.DHCPClientID = hex.EncodeToString(opt)
	}
}
