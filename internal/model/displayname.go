package model

import (
	"net"
	"regexp"
	"strings"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValidDisplayName reports whether s is non-empty, not a UUID, not an
// IPv6 literal (contains ':'), and not an IPv4 literal (four dot-separated
// octets each parseable as a uint8).
func IsValidDisplayName(s string) bool {
	if s == "" {
		return false
	}
	if uuidPattern.MatchString(s) {
		return false
	}
	if strings.Contains(s, ":") {
		return false
	}
	if isIPv4Literal(s) {
		return false
	}
	return true
}

func isIPv4Literal(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.To4() != nil
}
