// Package store implements the writer core and endpoint identity store
// (spec sections 4.C/4.D): a single SQLite connection that owns all writes,
// fed by a bounded channel of Observations, batching them into retried
// IMMEDIATE transactions, and resolving each observation's MAC/IP/hostname
// into a stable Endpoint identity.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/config"
	"github.com/discoveryd/engine/internal/logging"
	"github.com/discoveryd/engine/internal/model"

	_ "modernc.org/sqlite"
)

// ErrBusy is returned (internally, and wrapped into a log line) when the
// retry ladder in flush is exhausted without a successful commit.
var ErrBusy = errors.New("store: database busy, batch dropped")

// Peer describes one side of an observed flow, before identity resolution.
type Peer struct {
	MAC             string
	IP              string
	Hostname        string
	DHCPClientID    string
	DHCPVendorClass string
}

// Observation is the writer channel's message type: a single captured flow,
// produced by internal/capture + internal/decode, not yet resolved to
// endpoint ids.
type Observation struct {
	Interface   string
	ObservedAt  time.Time
	Src         Peer
	Dst         Peer
	SrcPort     uint16
	DstPort     uint16
	IPVersion   int
	HeaderProto model.IPHeaderProtocol
	SubProtocol string
	Bytes       int64 // frame size, fed into internet-destination counters
}

// ScanResultMsg is the scan orchestrator's dedicated result channel message
// (spec 4.F: "Results are streamed to the writer via a dedicated channel").
type ScanResultMsg struct {
	Peer           Peer
	ScanType       string
	ScannedAt      time.Time
	ResponseTimeMS int64
	Details        string
	OpenPort       *int // non-nil when this result also reports an open port
	Protocol       string
	ServiceName    string

	// Device-reported identity fields, applied to the endpoint when non-empty.
	SSDPModel        string
	SSDPFriendlyName string
	NetBIOSName      string
}

// Store owns the sole writing SQLite connection plus the bounded channel
// feeding it.
type Store struct {
	db     *sql.DB
	clk    clock.Clock
	logger *logging.Logger
	cfg    *config.Config

	localNets []*net.IPNet

	obsCh  chan Observation
	scanCh chan ScanResultMsg

	// namelessHook fires when an endpoint with a local IP is created or
	// refreshed without a valid display name; the enrichment layer hangs
	// its on-demand hostname probe off it.
	namelessHook func(ip string)

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.RWMutex
	retentionDays   int
	cleanupInterval time.Duration
}

// Open creates or opens the SQLite database at path, applies the schema, and
// constructs (but does not start) the writer. cidrs are the local-network
// prefixes computed once at startup from enumerated interface addresses
// (4.D.4); they decide the internet-destination diversion.
func Open(cfg *config.Config, clk clock.Clock, logger *logging.Logger, cidrs []string) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}

	dsn := dsnFor(cfg.DatabasePath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.DatabasePath, err)
	}
	db.SetMaxOpenConns(1) // single-writer invariant (spec 5)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	bufSize := cfg.Writer.ChannelBufferSize
	if bufSize <= 0 {
		bufSize = 50000
	}

	s := &Store{
		db:              db,
		clk:             clk,
		logger:          logger.WithComponent("store"),
		cfg:             cfg,
		obsCh:           make(chan Observation, bufSize),
		scanCh:          make(chan ScanResultMsg, 4096),
		retentionDays:   cfg.Writer.DataRetentionDays,
		cleanupInterval: cfg.CleanupInterval(),
	}

	if err := s.loadLocalNets(cidrs); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadSettings(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// loadLocalNets parses the enumerated interface CIDRs into the local-network
// membership cache (4.D.4), excluding catch-all 0.0.0.0/0 and ::/0.
func (s *Store) loadLocalNets(cidrs []string) error {
	for _, c := range cidrs {
		if c == "0.0.0.0/0" || c == "::/0" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			s.logger.Warn("skipping invalid local network CIDR", "cidr", c, "error", err)
			continue
		}
		s.localNets = append(s.localNets, ipnet)
	}
	return nil
}

func (s *Store) isLocalIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range s.localNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

var (
	resolvedPathMu sync.Mutex
	resolvedPaths  = map[string]string{}
)

// dsnFor maps a DATABASE_URL value (plain path, sqlite:// URL, or :memory:)
// to a modernc.org/sqlite DSN. Relative paths are resolved to absolute once
// and cached, so a later working-directory change cannot split the database.
func dsnFor(path string) string {
	if path == "" {
		path = "discoveryd.db"
	}
	path = strings.TrimPrefix(path, "sqlite://")
	if path != ":memory:" && !filepath.IsAbs(path) {
		resolvedPathMu.Lock()
		if abs, ok := resolvedPaths[path]; ok {
			path = abs
		} else if abs, err := filepath.Abs(path); err == nil {
			resolvedPaths[path] = abs
			path = abs
		}
		resolvedPathMu.Unlock()
	}
	return path + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(30000)"
}

func (s *Store) loadSettings() error {
	row := s.db.QueryRow(`SELECT value FROM settings WHERE key = 'cleanup_interval_seconds'`)
	var v string
	if err := row.Scan(&v); err == nil {
		if n, err := strconv.Atoi(v); err == nil {
			s.cleanupInterval = time.Duration(n) * time.Second
		}
	} else if errors.Is(err, sql.ErrNoRows) {
		s.setSetting("cleanup_interval_seconds", defaultCleanupIntervalSeconds)
	}

	row = s.db.QueryRow(`SELECT value FROM settings WHERE key = 'data_retention_days'`)
	if err := row.Scan(&v); err == nil {
		if n, err := strconv.Atoi(v); err == nil {
			s.retentionDays = n
		}
	} else if errors.Is(err, sql.ErrNoRows) {
		s.setSetting("data_retention_days", defaultRetentionDays)
	}
	return nil
}

func (s *Store) setSetting(key, value string) {
	_, _ = s.db.Exec(`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, s.clk.Now().UTC())
}

// GetSetting reads one settings row, or ("", false) when unset.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetSetting persists a settings value and updates the store's copy of the
// cleanup interval and retention days. A new retention value is used from the
// next cleanup pass; a new interval does not re-arm the running cleanup
// ticker, which keeps its period until the store is started again.
func (s *Store) SetSetting(key, value string) error {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, s.clk.Now().UTC()); err != nil {
		return err
	}

	if n, err := strconv.Atoi(value); err == nil {
		s.mu.Lock()
		switch key {
		case "cleanup_interval_seconds":
			s.cleanupInterval = time.Duration(n) * time.Second
		case "data_retention_days":
			s.retentionDays = n
		}
		s.mu.Unlock()
	}
	return nil
}

// SetNamelessHook registers the no-valid-name callback. Must be called
// before Start.
func (s *Store) SetNamelessHook(h func(ip string)) {
	s.namelessHook = h
}

// Submit sends obs to the writer channel, blocking (backpressure, not drop)
// when the channel is full, per spec 4.A/4.C.
func (s *Store) Submit(ctx context.Context, obs Observation) error {
	select {
	case s.obsCh <- obs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitScanResult sends a scan result to the writer via its dedicated
// channel (spec 4.F).
func (s *Store) SubmitScanResult(ctx context.Context, r ScanResultMsg) error {
	select {
	case s.scanCh <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the writer batching loop and the background cleanup task.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.writerLoop(ctx)
	go s.cleanupLoop(ctx)
}

// Stop cancels the background loops and waits for them to drain, then closes
// the database connection.
func (s *Store) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.db.Close()
}

const (
	batchMaxSize  = 100
	batchMaxDelay = 500 * time.Millisecond

	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 5000 * time.Millisecond
	retryMaxAttempt = 10
)

func (s *Store) writerLoop(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]Observation, 0, batchMaxSize)
	scanBatch := make([]ScanResultMsg, 0, batchMaxSize)
	timer := time.NewTimer(batchMaxDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 && len(scanBatch) == 0 {
			return
		}
		if err := s.flushBatch(batch, scanBatch); err != nil {
			s.logger.Error("batch dropped after retry exhaustion", "error", err, "size", len(batch)+len(scanBatch))
		}
		batch = batch[:0]
		scanBatch = scanBatch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case obs := <-s.obsCh:
			batch = append(batch, obs)
			if len(batch)+len(scanBatch) >= batchMaxSize {
				flush()
				timer.Reset(batchMaxDelay)
			}
		case r := <-s.scanCh:
			scanBatch = append(scanBatch, r)
			if len(batch)+len(scanBatch) >= batchMaxSize {
				flush()
				timer.Reset(batchMaxDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(batchMaxDelay)
		}
	}
}

// flushBatch begins an IMMEDIATE transaction, resolves every observation's
// endpoints, inserts rows, and commits — retrying on busy/locked per the
// exponential-backoff ladder in spec 4.C.
func (s *Store) flushBatch(batch []Observation, scanBatch []ScanResultMsg) error {
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempt; attempt++ {
		err := s.flushOnce(batch, scanBatch)
		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			// Non-retryable: row-level errors were already absorbed inside
			// flushOnce; this is a transaction-level failure.
			s.logger.Error("flush failed", "error", err)
			return err
		}
		lastErr = err
		delay := backoffDelay(attempt)
		s.logger.Warn("database busy, retrying batch", "attempt", attempt, "delay", delay)
		time.Sleep(delay)
	}
	return fmt.Errorf("%w: %v", ErrBusy, lastErr)
}

func backoffDelay(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 6 {
		shift = 6
	}
	d := retryBaseDelay * time.Duration(1<<uint(shift))
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d/2) + 1))
	return d + jitter
}

func isBusyErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database busy") || strings.Contains(msg, "busy")
}

func (s *Store) flushOnce(batch []Observation, scanBatch []ScanResultMsg) error {
	// _txlock=immediate in the DSN makes this an IMMEDIATE transaction.
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}

	for _, obs := range batch {
		if err := s.applyObservation(tx, obs); err != nil {
			if isConstraintErr(err) {
				continue // duplicates silently ignored (spec 4.C)
			}
			s.logger.Warn("row-level error applying observation", "error", err)
			continue
		}
	}
	for _, r := range scanBatch {
		if err := s.applyScanResult(tx, r); err != nil {
			if isConstraintErr(err) {
				continue
			}
			s.logger.Warn("row-level error applying scan result", "error", err)
			continue
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}

func isConstraintErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "constraint")
}

func (s *Store) applyObservation(tx *sql.Tx, obs Observation) error {
	// An internet-side src counts toward bytes_in, an internet-side dst
	// toward bytes_out.
	srcID, err := s.resolvePeerDirected(tx, obs.Src, obs.Interface, obs.ObservedAt, obs.Bytes, false)
	if err != nil {
		return err
	}
	dstID, err := s.resolvePeerDirected(tx, obs.Dst, obs.Interface, obs.ObservedAt, obs.Bytes, true)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO communications
		(interface, src_endpoint_id, dst_endpoint_id, observed_at, src_port, dst_port, ip_version, header_proto, sub_protocol)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.Interface, nullableID(srcID), nullableID(dstID), obs.ObservedAt,
		obs.SrcPort, obs.DstPort, obs.IPVersion, string(obs.HeaderProto), obs.SubProtocol)
	return err
}

func (s *Store) applyScanResult(tx *sql.Tx, r ScanResultMsg) error {
	endpointID, err := s.resolvePeer(tx, r.Peer, "scan", r.ScannedAt)
	if err != nil {
		return err
	}
	if endpointID == nil {
		return nil // internet-only or unresolvable; scan results only attach to endpoints
	}

	if _, err := tx.Exec(`INSERT INTO scan_results (endpoint_id, scan_type, scanned_at, response_time_ms, details)
		VALUES (?, ?, ?, ?, ?)`, *endpointID, r.ScanType, r.ScannedAt, r.ResponseTimeMS, r.Details); err != nil {
		return err
	}

	if r.OpenPort != nil {
		if _, err := tx.Exec(`INSERT INTO open_ports (endpoint_id, port, protocol, service_name, last_seen)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(endpoint_id, port, protocol) DO UPDATE SET service_name = excluded.service_name, last_seen = excluded.last_seen`,
			*endpointID, *r.OpenPort, r.Protocol, r.ServiceName, r.ScannedAt); err != nil {
			return err
		}
	}

	if r.SSDPModel != "" || r.SSDPFriendlyName != "" || r.NetBIOSName != "" {
		if _, err := tx.Exec(`UPDATE endpoints SET
			ssdp_model = COALESCE(NULLIF(?, ''), ssdp_model),
			ssdp_friendly_name = COALESCE(NULLIF(?, ''), ssdp_friendly_name),
			netbios_name = COALESCE(NULLIF(?, ''), netbios_name)
			WHERE id = ?`, r.SSDPModel, r.SSDPFriendlyName, r.NetBIOSName, *endpointID); err != nil {
			return err
		}
	}
	return nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
