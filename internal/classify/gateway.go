package classify

import (
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/discoveryd/engine/internal/clock"
)

const gatewayCacheTTL = 60 * time.Second

// GatewayCache resolves and caches the default gateway IP by parsing the
// platform routing table (`ip route show default`, falling back to
// `route -n`), refreshed every 60 seconds.
type GatewayCache struct {
	clk clock.Clock

	// runCommand is swappable for tests.
	runCommand func(name string, args ...string) (string, error)

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
	valid    bool
}

// NewGatewayCache constructs the cache around the real routing commands.
func NewGatewayCache(clk clock.Clock) *GatewayCache {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &GatewayCache{
		clk: clk,
		runCommand: func(name string, args ...string) (string, error) {
			out, err := exec.Command(name, args...).Output()
			return string(out), err
		},
	}
}

// Gateway returns the default gateway IP, or "" when none is detectable.
func (g *GatewayCache) Gateway() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now()
	if g.valid && now.Sub(g.cachedAt) < gatewayCacheTTL {
		return g.cached
	}

	gw := ""
	if out, err := g.runCommand("ip", "route", "show", "default"); err == nil {
		gw = parseIPRouteDefault(out)
	}
	if gw == "" {
		if out, err := g.runCommand("route", "-n"); err == nil {
			gw = parseRouteN(out)
		}
	}

	g.cached = gw
	g.cachedAt = now
	g.valid = true
	return gw
}

// parseIPRouteDefault handles "default via <gateway_ip> dev <interface>".
func parseIPRouteDefault(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == "default" && fields[1] == "via" {
			return fields[2]
		}
	}
	return ""
}

// parseRouteN handles the "0.0.0.0  <gateway_ip>  ..." row of route -n.
func parseRouteN(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "0.0.0.0") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			return fields[1]
		}
	}
	return ""
}
