// Package enrich runs the always-on multicast DNS browse daemon and the
// on-demand hostname/model probes that backfill endpoint names, mDNS
// service sets, and SSDP-reported models.
package enrich

import (
	"net"
	"strings"

	"golang.org/x/net/dns/dnsmessage"
)

// parsedPacket holds what one mDNS packet contributed: a hostname, the
// service types seen, and the per-address A/AAAA bindings.
type parsedPacket struct {
	Hostname  string
	Services  []string
	Addresses []string          // IPs bound to Hostname via A/AAAA records
	TXT       map[string]string
}

// parseMDNSPacket extracts device information from raw mDNS packet data.
func parseMDNSPacket(data []byte) (*parsedPacket, error) {
	var parser dnsmessage.Parser
	if _, err := parser.Start(data); err != nil {
		return nil, err
	}

	result := &parsedPacket{TXT: make(map[string]string)}

	if err := parser.SkipAllQuestions(); err != nil {
		return nil, err
	}

	// Answers carry the service announcements; authority and additional
	// sections often carry the A/AAAA bindings.
	for {
		rr, err := parser.Answer()
		if err != nil {
			break
		}
		extractRecord(rr, result)
	}
	for {
		rr, err := parser.Authority()
		if err != nil {
			break
		}
		extractRecord(rr, result)
	}
	for {
		rr, err := parser.Additional()
		if err != nil {
			break
		}
		extractRecord(rr, result)
	}

	return result, nil
}

func extractRecord(rr dnsmessage.Resource, result *parsedPacket) {
	name := rr.Header.Name.String()

	switch body := rr.Body.(type) {
	case *dnsmessage.PTRResource:
		// Service discovery: _services._dns-sd._udp.local -> service types
		// Or service instance: _googlecast._tcp.local -> device instance
		ptr := body.PTR.String()
		if strings.Contains(name, "_tcp") || strings.Contains(name, "_udp") {
			result.addService(extractServiceType(name))
		}
		// PTR might also point to a hostname
		if strings.HasSuffix(ptr, ".local.") && !strings.Contains(ptr, "_") {
			result.Hostname = strings.TrimSuffix(ptr, ".local.")
		}

	case *dnsmessage.AResource:
		if strings.HasSuffix(name, ".local.") && !strings.Contains(name, "_") {
			result.Hostname = strings.TrimSuffix(name, ".local.")
			result.Addresses = append(result.Addresses, net.IP(body.A[:]).String())
		}

	case *dnsmessage.AAAAResource:
		if strings.HasSuffix(name, ".local.") && !strings.Contains(name, "_") {
			result.Hostname = strings.TrimSuffix(name, ".local.")
			result.Addresses = append(result.Addresses, net.IP(body.AAAA[:]).String())
		}

	case *dnsmessage.SRVResource:
		result.addService(extractServiceType(name))
		// Target is often the hostname
		target := body.Target.String()
		if strings.HasSuffix(target, ".local.") && !strings.Contains(target, "_") {
			result.Hostname = strings.TrimSuffix(target, ".local.")
		}

	case *dnsmessage.TXTResource:
		for _, txt := range body.TXT {
			if idx := strings.Index(txt, "="); idx > 0 {
				result.TXT[txt[:idx]] = txt[idx+1:]
			}
		}
		result.addService(extractServiceType(name))
	}
}

func (p *parsedPacket) addService(svc string) {
	if svc == "" {
		return
	}
	for _, s := range p.Services {
		if s == svc {
			return
		}
	}
	p.Services = append(p.Services, svc)
}

// extractServiceType extracts _service._proto from a DNS name, e.g.
// "My Chromecast._googlecast._tcp.local." -> "_googlecast._tcp".
func extractServiceType(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		if strings.HasPrefix(part, "_") && i+1 < len(parts) {
			next := parts[i+1]
			if next == "_tcp" || next == "_udp" {
				return part + "." + next
			}
		}
	}
	return ""
}
