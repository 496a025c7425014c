// Package classify infers an endpoint's network role (gateway/internet),
// device type, vendor, and model from layered evidence: user overrides,
// device-reported values, network observations, and pattern tables. The
// caches it consults (gateway, local networks, mDNS services) are injected
// at construction, never ambient.
package classify

import (
	"net"
	"strings"
)

// ServiceCache is the slice of the mDNS daemon's state the classifier
// consults: the service types seen for an IP.
type ServiceCache interface {
	ServicesFor(ip string) []string
}

// Engine holds the injected caches. All methods are safe for concurrent use.
type Engine struct {
	localNets []*net.IPNet
	gateway   *GatewayCache
	services  ServiceCache
}

// NewEngine builds the classification engine. cidrs is the local-network
// set computed at startup; services may be nil (no mDNS evidence).
func NewEngine(cidrs []string, gateway *GatewayCache, services ServiceCache) *Engine {
	e := &Engine{gateway: gateway, services: services}
	for _, c := range cidrs {
		if c == "0.0.0.0/0" || c == "::/0" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(c); err == nil {
			e.localNets = append(e.localNets, ipnet)
		}
	}
	return e
}

func (e *Engine) isLocalIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range e.localNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (e *Engine) servicesFor(ip string) []string {
	if e.services == nil {
		return nil
	}
	return e.services.ServicesFor(ip)
}

// ClassifyEndpoint returns "gateway", "internet", or "" for a plain local
// device. It depends only on ip, hostname, the local-networks set, and the
// gateway cache.
func (e *Engine) ClassifyEndpoint(ip, hostname string) string {
	ipIsLocal := ip != "" && e.isLocalIP(ip)

	if ip != "" {
		if e.gateway != nil && e.gateway.Gateway() == ip {
			return ClassGateway
		}
		if commonRouterIPs[ip] {
			return ClassGateway
		}
		if !ipIsLocal {
			return ClassInternet
		}
	}

	if hostname != "" {
		if isRouterHostname(hostname) {
			return ClassGateway
		}
		// Hostname-based internet classification only applies without a
		// local IP; ISP suffixes on local devices would misclassify.
		if !ipIsLocal && isInternetHostname(hostname) {
			return ClassInternet
		}
	}

	return ""
}

func isRouterHostname(hostname string) bool {
	lower := strings.ToLower(hostname)
	if lower == "gw" || lower == "udm" {
		return true
	}
	for _, p := range routerHostnamePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, p := range routerHostnamePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// isInternetHostname reports whether hostname looks like a public domain:
// has a dot, is not an IP literal, and does not end in a local suffix.
func isInternetHostname(hostname string) bool {
	if strings.Contains(hostname, ":") {
		return false
	}
	allDigitsAndDots := true
	for _, r := range hostname {
		if r != '.' && (r < '0' || r > '9') {
			allDigitsAndDots = false
			break
		}
	}
	if allDigitsAndDots {
		return false
	}

	lower := strings.ToLower(hostname)
	if !strings.Contains(lower, ".") {
		return false
	}
	for _, suffix := range localHostnameSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return true
}
