package decode

import (
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/logging"
)

// httpHostHeaders are scanned in order; the first matching header in the
// payload wins.
var httpHostHeaders = []string{
	"host:",
	"server:",
	"location:",
	"x-host:",
	"x-forwarded-host:",
	"x-forwarded-server:",
	"referer:",
	"report-uri:",
}

// HTTPHost scans an HTTP payload's text lines for a hostname-bearing header
// and returns the sanitized value, or "".
func HTTPHost(payload []byte) string {
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.ToLower(strings.TrimRight(line, "\r"))
		for _, header := range httpHostHeaders {
			if v, ok := strings.CutPrefix(line, header); ok {
				return SanitizeHostname(strings.TrimSpace(v))
			}
		}
	}
	return ""
}

// SanitizeHostname keeps ASCII alphanumerics, '.', and '-'; any other
// character resets the accumulator, so the result is the trailing clean run.
func SanitizeHostname(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.Reset()
		}
	}
	return b.String()
}

// MDNSCache is the slice of the enrichment daemon's state the resolver falls
// back to when reverse DNS yields nothing.
type MDNSCache interface {
	HostnameFor(ip string) (string, bool)
}

const (
	dnsCacheTTL  = 5 * time.Minute
	dnsCacheMax  = 10000
	dnsCacheTrim = 1000
)

type dnsEntry struct {
	hostname string
	storedAt time.Time
}

// Resolver derives a hostname hint for a peer from the packet payload
// (HTTP Host on port 80, TLS SNI on port 443) or, for other traffic, from a
// TTL-bounded reverse-DNS cache with an mDNS fallback.
type Resolver struct {
	clk    clock.Clock
	logger *logging.Logger
	mdns   MDNSCache

	// lookupAddr is swappable for tests; defaults to net.LookupAddr.
	lookupAddr func(ip string) ([]string, error)

	mu    sync.Mutex
	cache map[string]dnsEntry
}

// NewResolver constructs a Resolver. mdns may be nil (no fallback).
func NewResolver(clk clock.Clock, logger *logging.Logger, mdns MDNSCache) *Resolver {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		clk:        clk,
		logger:     logger.WithComponent("decode"),
		mdns:       mdns,
		lookupAddr: net.LookupAddr,
		cache:      make(map[string]dnsEntry),
	}
}

// HostnameHint returns the best hostname evidence for the peer at peerIP
// given the decoded frame, or "".
func (r *Resolver) HostnameHint(f Frame, peerIP string) string {
	switch {
	case f.DstPort == 80 || f.SrcPort == 80:
		if h := HTTPHost(f.Payload); h != "" {
			return h
		}
	case f.DstPort == 443 || f.SrcPort == 443:
		if sni, err := ParseSNI(f.Payload); err == nil && sni != "" {
			return SanitizeHostname(sni)
		}
	}
	if peerIP == "" {
		return ""
	}
	return r.reverseLookup(peerIP)
}

func (r *Resolver) reverseLookup(ip string) string {
	now := r.clk.Now()

	r.mu.Lock()
	if e, ok := r.cache[ip]; ok && now.Sub(e.storedAt) < dnsCacheTTL {
		r.mu.Unlock()
		return e.hostname
	}
	r.mu.Unlock()

	hostname := ""
	names, err := r.lookupAddr(ip)
	if err == nil && len(names) > 0 {
		hostname = strings.TrimSuffix(names[0], ".")
	}
	// A no-answer or an echo of the input falls through to the mDNS cache.
	if hostname == "" || hostname == ip {
		hostname = ""
		if r.mdns != nil {
			if h, ok := r.mdns.HostnameFor(ip); ok {
				hostname = h
			}
		}
	}

	r.mu.Lock()
	r.cache[ip] = dnsEntry{hostname: hostname, storedAt: now}
	if len(r.cache) > dnsCacheMax {
		r.trimOldestLocked()
	}
	r.mu.Unlock()

	return hostname
}

// trimOldestLocked removes the oldest dnsCacheTrim entries. Caller holds mu.
func (r *Resolver) trimOldestLocked() {
	type aged struct {
		ip string
		at time.Time
	}
	entries := make([]aged, 0, len(r.cache))
	for ip, e := range r.cache {
		entries = append(entries, aged{ip: ip, at: e.storedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for i := 0; i < dnsCacheTrim && i < len(entries); i++ {
		delete(r.cache, entries[i].ip)
	}
}

// CacheSize reports the number of cached reverse-DNS entries.
func (r *Resolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
