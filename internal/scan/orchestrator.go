package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/logging"
	"github.com/discoveryd/engine/internal/store"
)

// ErrScanInProgress is returned by StartScan while a scan is running.
var ErrScanInProgress = errors.New("scan already in progress")

// ErrPrivilegeMissing marks a phase skipped by the capability gate.
var ErrPrivilegeMissing = errors.New("scan privilege missing")

// Status is the orchestrator's externally visible state.
type Status struct {
	Running         bool       `json:"running"`
	ScanID          string     `json:"scan_id,omitempty"` // id of the running or last scan
	ScanTypes       []Type     `json:"scan_types"`
	ProgressPercent int        `json:"progress_percent"`
	DiscoveredCount int        `json:"discovered_count"`
	LastScanTime    *time.Time `json:"last_scan_time,omitempty"`
	CurrentPhase    string     `json:"current_phase,omitempty"`
}

// Config holds the per-scan tunables.
type Config struct {
	EnabledScanners []Type   `json:"enabled_scanners"`
	Ports           []uint16 `json:"ports"`
	TimeoutMS       int      `json:"timeout_ms"`
	DelayMS         int      `json:"delay_ms"`
	ICMPConcurrency int      `json:"icmp_concurrency"`
	TCPConcurrency  int      `json:"tcp_concurrency"`
	Communities     []string `json:"communities"`
}

// DefaultPorts is the TCP-connect scanner's default target set.
var DefaultPorts = []uint16{22, 80, 443, 445, 3389, 5353, 5900, 8080, 8443, 9100}

// DefaultConfig mirrors the spec's scanner defaults.
func DefaultConfig() Config {
	return Config{
		EnabledScanners: []Type{TypeARP, TypeNDP, TypeNetBIOS, TypeSSDP, TypeSNMP},
		Ports:           append([]uint16(nil), DefaultPorts...),
		TimeoutMS:       1000,
		DelayMS:         10,
		ICMPConcurrency: 50,
		TCPConcurrency:  100,
		Communities:     []string{"public", "private"},
	}
}

// Submitter is the dedicated result channel into the writer.
type Submitter interface {
	SubmitScanResult(ctx context.Context, r store.ScanResultMsg) error
}

// scanner is one phase implementation. Run streams results through emit and
// returns when the phase completes or ctx is cancelled.
type scanner interface {
	Type() Type
	RequiresRaw() bool
	Run(ctx context.Context, subnets []*net.IPNet, cfg Config, emit func(Result))
}

// Orchestrator owns scan state and runs phases sequentially.
type Orchestrator struct {
	submitter Submitter
	clk       clock.Clock
	logger    *logging.Logger

	scanners     map[Type]scanner
	capabilities Capabilities
	subnetsFn    func() []*net.IPNet

	mu     sync.RWMutex
	status Status
	config Config
	stop   bool

	resultHook func(Result)

	wg sync.WaitGroup
}

// SetResultHook registers a callback invoked for every scan result, in
// addition to the writer submission. The enrichment layer uses it to chase
// SSDP description URLs. Must be set before StartScan.
func (o *Orchestrator) SetResultHook(hook func(Result)) {
	o.mu.Lock()
	o.resultHook = hook
	o.mu.Unlock()
}

// New constructs the orchestrator with the full production scanner set.
func New(submitter Submitter, clk clock.Clock, logger *logging.Logger, cfg Config) *Orchestrator {
	o := newWithScanners(submitter, clk, logger, cfg, []scanner{
		&arpScanner{},
		&ndpScanner{},
		&icmpScanner{},
		&portScanner{},
		&ssdpScanner{},
		&netbiosScanner{},
		&snmpScanner{},
	})
	o.capabilities = CheckPrivileges()
	return o
}

func newWithScanners(submitter Submitter, clk clock.Clock, logger *logging.Logger, cfg Config, scanners []scanner) *Orchestrator {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	byType := make(map[Type]scanner, len(scanners))
	for _, s := range scanners {
		byType[s.Type()] = s
	}
	return &Orchestrator{
		submitter: submitter,
		clk:       clk,
		logger:    logger.WithComponent("scan"),
		scanners:  byType,
		subnetsFn: localSubnets,
		config:    cfg,
		capabilities: Capabilities{ // overridden in New; permissive for tests
			CanARP: true, CanICMP: true, CanNDP: true,
			CanPort: true, CanSSDP: true, CanNetBIOS: true, CanSNMP: true,
		},
	}
}

// Capabilities returns the privilege-derived capability set.
func (o *Orchestrator) Capabilities() Capabilities {
	return o.capabilities
}

// GetStatus returns a snapshot of the scan state.
func (o *Orchestrator) GetStatus() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := o.status
	st.ScanTypes = append([]Type(nil), o.status.ScanTypes...)
	return st
}

// GetConfig returns a copy of the current configuration.
func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cfg := o.config
	cfg.EnabledScanners = append([]Type(nil), o.config.EnabledScanners...)
	cfg.Ports = append([]uint16(nil), o.config.Ports...)
	cfg.Communities = append([]string(nil), o.config.Communities...)
	return cfg
}

// SetConfig replaces the configuration. Takes effect on the next scan.
func (o *Orchestrator) SetConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
}

// StartScan launches the given phases in order. It returns
// ErrScanInProgress if a scan is already running.
func (o *Orchestrator) StartScan(ctx context.Context, types []Type) error {
	if len(types) == 0 {
		types = o.GetConfig().EnabledScanners
	}

	o.mu.Lock()
	if o.status.Running {
		o.mu.Unlock()
		return ErrScanInProgress
	}
	o.stop = false
	o.status.Running = true
	o.status.ScanID = uuid.NewString()
	o.status.ScanTypes = append([]Type(nil), types...)
	o.status.ProgressPercent = 0
	o.status.DiscoveredCount = 0
	o.status.CurrentPhase = "starting"
	o.mu.Unlock()

	o.wg.Add(1)
	go o.runScan(ctx, types)
	return nil
}

// StopScan requests cancellation. The flag is checked only between phases:
// the running phase is not interrupted at subnet boundaries and runs to
// completion, then the loop exits before the next phase.
func (o *Orchestrator) StopScan() {
	o.mu.Lock()
	o.stop = true
	o.mu.Unlock()
}

// Wait blocks until the current scan (if any) finishes. Used in shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) stopped() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stop
}

func (o *Orchestrator) runScan(ctx context.Context, types []Type) {
	defer o.wg.Done()

	cfg := o.GetConfig()
	subnets := o.subnetsFn()

	totalPhases := len(types)
	completed := 0

	var dmu sync.Mutex
	discovered := map[string]bool{}
	discoveredCount := func() int {
		dmu.Lock()
		defer dmu.Unlock()
		return len(discovered)
	}

	for _, t := range types {
		if o.stopped() || ctx.Err() != nil {
			break
		}

		s, ok := o.scanners[t]
		if !ok {
			o.logger.Warn("unknown scan type", "type", t)
			completed++
			continue
		}
		if s.RequiresRaw() && !o.rawCapable(t) {
			o.logger.Info("skipping scan phase, privilege missing", "type", t)
			completed++
			o.updateProgress(completed, totalPhases, discoveredCount())
			continue
		}

		o.setPhase(fmt.Sprintf("%s scan", t))

		s.Run(ctx, subnets, cfg, func(r Result) {
			if r.IP != "" {
				dmu.Lock()
				discovered[r.IP] = true
				count := len(discovered)
				dmu.Unlock()

				o.mu.Lock()
				o.status.DiscoveredCount = count
				o.mu.Unlock()
			}
			o.emit(ctx, r)
		})

		completed++
		o.updateProgress(completed, totalPhases, discoveredCount())
	}

	now := o.clk.Now().UTC()
	o.mu.Lock()
	o.status.Running = false
	o.status.ProgressPercent = 100
	o.status.LastScanTime = &now
	o.status.CurrentPhase = ""
	o.mu.Unlock()
}

func (o *Orchestrator) rawCapable(t Type) bool {
	switch t {
	case TypeARP:
		return o.capabilities.CanARP
	case TypeICMP:
		return o.capabilities.CanICMP
	case TypeNDP:
		return o.capabilities.CanNDP
	default:
		return true
	}
}

func (o *Orchestrator) setPhase(phase string) {
	o.mu.Lock()
	o.status.CurrentPhase = phase
	o.mu.Unlock()
}

// updateProgress computes floor(100 * completed / total), saturating both
// the multiplication and the division.
func (o *Orchestrator) updateProgress(completed, total, discovered int) {
	if total < 1 {
		total = 1
	}
	percent := 100
	if completed <= math.MaxInt/100 {
		percent = completed * 100 / total
	}
	if percent > 100 {
		percent = 100
	}
	o.mu.Lock()
	o.status.ProgressPercent = percent
	o.status.DiscoveredCount = discovered
	o.mu.Unlock()
}

// emit converts a Result to the writer's scan-result message.
func (o *Orchestrator) emit(ctx context.Context, r Result) {
	o.mu.RLock()
	hook := o.resultHook
	o.mu.RUnlock()
	if hook != nil {
		hook(r)
	}

	details, _ := json.Marshal(r)

	msg := store.ScanResultMsg{
		Peer:           store.Peer{MAC: r.MAC, IP: r.IP},
		ScanType:       string(r.Type),
		ScannedAt:      o.clk.Now().UTC(),
		ResponseTimeMS: r.ResponseTimeMS,
		Details:        string(details),
		NetBIOSName:    r.NetBIOSName,
	}
	if r.NetBIOSName != "" {
		msg.Peer.Hostname = r.NetBIOSName
	}
	if r.SNMP != nil && r.SNMP.SysName != "" {
		msg.Peer.Hostname = r.SNMP.SysName
	}
	if r.Port > 0 {
		port := r.Port
		msg.OpenPort = &port
		msg.Protocol = "tcp"
		msg.ServiceName = r.ServiceName
	}

	if err := o.submitter.SubmitScanResult(ctx, msg); err != nil {
		o.logger.Debug("scan result submit failed", "error", err)
	}
}

// localSubnets derives the IPv4 scan targets from the up, non-loopback
// interface addresses.
func localSubnets() []*net.IPNet {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []*net.IPNet
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
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
			out = append(out, ipnet)
		}
	}
	return out
}

// hostsIn enumerates the host addresses of an IPv4 subnet, skipping the
// network and broadcast addresses for /24-or-smaller networks.
func hostsIn(ipnet *net.IPNet) []net.IP {
	var out []net.IP
	ones, bits := ipnet.Mask.Size()
	skipEdges := bits-ones <= 8

	base := ipnet.IP.Mask(ipnet.Mask)
	if base == nil {
		return nil
	}
	netLast := base[len(base)-1]
	bcastLast := netLast | ^ipnet.Mask[len(ipnet.Mask)-1]

	for ip := base; ipnet.Contains(ip); incIP(ip) {
		if skipEdges && (ip[len(ip)-1] == netLast || ip[len(ip)-1] == bcastLast) {
			continue
		}
		host := make(net.IP, len(ip))
		copy(host, ip)
		out = append(out, host)
	}
	return out
}

func incIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}
