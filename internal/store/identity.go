package store

import (
	"database/sql"
	"net"
	"strings"
	"time"

	"github.com/discoveryd/engine/internal/model"
	"github.com/discoveryd/engine/internal/network"
)

// gatewayVendorFragments match the registry manufacturer strings of vendors
// eligible for the similar-MAC lookup (4.D.5 step 2) — multi-NIC routers
// with sequential MACs.
var gatewayVendorFragments = []string{
	"commscope", "arris", "netgear", "linksys", "ubiquiti", "mikrotik",
	"cisco", "juniper", "fortinet", "tp-link", "asus", "d-link", "belkin",
	"zyxel", "huawei",
}

func isGatewayVendor(vendor string) bool {
	if vendor == "" {
		return false
	}
	for _, f := range gatewayVendorFragments {
		if strings.Contains(vendor, f) {
			return true
		}
	}
	return false
}

var hostnameSuffixesToStrip = []string{".local", ".lan", ".home", ".internal", ".localdomain", ".localhost"}

// resolvePeer applies the full 4.D filter/lookup/attribute pipeline for one
// side of an Observation (or one ScanResultMsg target) and returns the
// resolved endpoint id, or nil when the peer is absent, rejected, or
// diverted to the internet-destinations table.
func (s *Store) resolvePeer(tx *sql.Tx, p Peer, iface string, observedAt time.Time) (*int64, error) {
	return s.resolvePeerDirected(tx, p, iface, observedAt, 0, false)
}

// resolvePeerDirected additionally accounts the frame size to the internet
// destination's directional byte counters when the peer diverts.
func (s *Store) resolvePeerDirected(tx *sql.Tx, p Peer, iface string, observedAt time.Time, bytes int64, outbound bool) (*int64, error) {
	mac := strings.ToLower(strings.TrimSpace(p.MAC))
	ip := strings.TrimSpace(p.IP)
	hostname := normalizeHostname(p.Hostname)
	dhcpClientID := strings.ToLower(strings.TrimSpace(p.DHCPClientID))

	// 4.D.1 — reject before any lookup.
	if mac == "" && ip == "" && dhcpClientID == "" {
		return nil, nil
	}
	if mac != "" && isBroadcastOrMulticastMAC(mac) {
		return nil, nil
	}
	if ip != "" && isMulticastOrBroadcastIP(ip) {
		return nil, nil
	}
	if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() == nil && parsed.IsUnspecified() {
		return nil, nil // the unspecified IPv6 address (::) is never recorded
	}

	// 4.D.3 — EUI-64 extraction, used when no MAC was directly observed.
	if mac == "" && ip != "" {
		if derived, ok := extractEUI64MAC(ip); ok {
			mac = derived
		}
	}

	if ip != "" && isLinkLocalNonEUI64(ip, mac, p.MAC) {
		return nil, nil
	}

	// 4.D.2 — randomized MACs are stored as attributes but excluded from lookup.
	macLookup := mac
	if mac != "" && network.IsLocallyAdministered(mac) {
		macLookup = ""
	}

	// 4.D.4 — internet-destination diversion.
	if ip != "" && !s.isLocalIP(ip) {
		key := hostname
		if key == "" {
			key = ip
		}
		if err := s.upsertInternetDestination(tx, key, observedAt, bytes, outbound); err != nil {
			return nil, err
		}
		return nil, nil
	}

	endpointID, err := s.lookupEndpoint(tx, macLookup, ip, hostname, dhcpClientID)
	if err != nil {
		return nil, err
	}
	if endpointID == nil {
		id, err := s.insertEndpoint(tx, observedAt)
		if err != nil {
			return nil, err
		}
		endpointID = &id
	} else if macLookup != "" {
		// Opportunistic MAC-duplicate merge (4.D.7) on a MAC hit.
		if survivor, err := s.mergeMACDuplicates(tx, macLookup); err != nil {
			s.logger.Warn("mac-duplicate merge failed", "error", err)
		} else if survivor != nil {
			endpointID = survivor
		}
	}

	if err := s.insertAttribute(tx, *endpointID, mac, ip, hostname, dhcpClientID, p.DHCPVendorClass, observedAt); err != nil {
		return nil, err
	}

	return endpointID, nil
}

// lookupEndpoint implements 4.D.5's lookup order.
func (s *Store) lookupEndpoint(tx *sql.Tx, mac, ip, hostname, dhcpClientID string) (*int64, error) {
	if mac != "" {
		if id, err := s.lookupByMAC(tx, mac); err != nil {
			return nil, err
		} else if id != nil {
			return id, nil
		}
		if id, err := s.lookupBySimilarMAC(tx, mac); err != nil {
			return nil, err
		} else if id != nil {
			return id, nil
		}
	}
	if dhcpClientID != "" {
		if id, err := s.lookupByDHCPClientID(tx, dhcpClientID); err != nil {
			return nil, err
		} else if id != nil {
			return id, nil
		}
	}
	if mac == "" && dhcpClientID == "" && ip != "" {
		if id, err := s.lookupByIP(tx, ip); err != nil {
			return nil, err
		} else if id != nil {
			return id, nil
		}
	}
	return nil, nil
}

func (s *Store) lookupByMAC(tx *sql.Tx, mac string) (*int64, error) {
	rows, err := tx.Query(`
		SELECT e.id, e.name FROM endpoints e
		JOIN endpoint_attributes a ON a.endpoint_id = e.id
		WHERE LOWER(a.mac) = ?`, mac)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bestID int64
	var bestHasName bool
	found := false
	for rows.Next() {
		var id int64
		var name sql.NullString
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		hasName := name.Valid && model.IsValidDisplayName(name.String)
		if !found || (hasName && !bestHasName) || (hasName == bestHasName && id < bestID) {
			bestID = id
			bestHasName = hasName
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return &bestID, nil
}

// lookupBySimilarMAC matches the first 5 of 6 octets, restricted to
// gateway-vendor MACs (4.D.5 step 2).
func (s *Store) lookupBySimilarMAC(tx *sql.Tx, mac string) (*int64, error) {
	vendor := strings.ToLower(network.LookupVendor(mac))
	if !isGatewayVendor(vendor) {
		return nil, nil
	}
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return nil, nil
	}
	prefix := strings.Join(parts[:5], ":")

	rows, err := tx.Query(`
		SELECT DISTINCT e.id FROM endpoints e
		JOIN endpoint_attributes a ON a.endpoint_id = e.id
		WHERE LOWER(a.mac) LIKE ? ORDER BY e.id LIMIT 1`, prefix+":%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		return &id, nil
	}
	return nil, nil
}

func (s *Store) lookupByDHCPClientID(tx *sql.Tx, clientID string) (*int64, error) {
	row := tx.QueryRow(`SELECT id FROM endpoints WHERE LOWER(dhcp_client_id) = ? ORDER BY id LIMIT 1`, clientID)
	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

func (s *Store) lookupByIP(tx *sql.Tx, ip string) (*int64, error) {
	row := tx.QueryRow(`SELECT endpoint_id FROM endpoint_attributes WHERE ip = ? ORDER BY endpoint_id LIMIT 1`, ip)
	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

func (s *Store) insertEndpoint(tx *sql.Tx, observedAt time.Time) (int64, error) {
	res, err := tx.Exec(`INSERT INTO endpoints (created_at) VALUES (?)`, observedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// insertAttribute implements 4.D.6: it only inserts a row if it adds
// information, updates DHCP fields when previously null, and promotes the
// hostname to the endpoint's canonical name if it becomes the first valid
// display name — triggering the IPv6-sibling merge.
func (s *Store) insertAttribute(tx *sql.Tx, endpointID int64, mac, ip, hostname, dhcpClientID, dhcpVendorClass string, observedAt time.Time) error {
	if mac == "" && hostname == ip {
		return nil // adds no information
	}

	_, err := tx.Exec(`INSERT OR IGNORE INTO endpoint_attributes
		(endpoint_id, mac, ip, hostname, dhcp_client_id, dhcp_vendor_class, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		endpointID, mac, ip, hostname, nullIfEmpty(dhcpClientID), nullIfEmpty(dhcpVendorClass), observedAt)
	if err != nil {
		return err
	}

	if dhcpClientID != "" || dhcpVendorClass != "" {
		if _, err := tx.Exec(`UPDATE endpoints SET
			dhcp_client_id = COALESCE(dhcp_client_id, NULLIF(?, '')),
			dhcp_vendor_class = COALESCE(dhcp_vendor_class, NULLIF(?, ''))
			WHERE id = ?`, dhcpClientID, dhcpVendorClass, endpointID); err != nil {
			return err
		}
	}

	row := tx.QueryRow(`SELECT name FROM endpoints WHERE id = ?`, endpointID)
	var name sql.NullString
	if err := row.Scan(&name); err != nil {
		return err
	}
	hasValidName := name.Valid && model.IsValidDisplayName(name.String)

	switch {
	case hostname != "" && model.IsValidDisplayName(hostname):
		if !hasValidName {
			if _, err := tx.Exec(`UPDATE endpoints SET name = ? WHERE id = ?`, hostname, endpointID); err != nil {
				return err
			}
			if err := s.mergeIPv6Siblings(tx, endpointID); err != nil {
				s.logger.Warn("ipv6 sibling merge failed", "error", err)
			}
		}
	case !hasValidName && ip != "" && s.namelessHook != nil:
		s.namelessHook(ip)
	}

	return nil
}

func (s *Store) upsertInternetDestination(tx *sql.Tx, hostname string, observedAt time.Time, bytes int64, outbound bool) error {
	bytesIn, bytesOut := bytes, int64(0)
	if outbound {
		bytesIn, bytesOut = 0, bytes
	}
	_, err := tx.Exec(`INSERT INTO internet_destinations (hostname, first_seen, last_seen, packet_count, bytes_in, bytes_out)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(hostname) DO UPDATE SET
			last_seen = excluded.last_seen,
			packet_count = packet_count + 1,
			bytes_in = bytes_in + excluded.bytes_in,
			bytes_out = bytes_out + excluded.bytes_out`,
		hostname, observedAt, observedAt, bytesIn, bytesOut)
	return err
}

func normalizeHostname(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return ""
	}
	for _, suffix := range hostnameSuffixesToStrip {
		h = strings.TrimSuffix(h, suffix)
	}
	if !model.IsValidDisplayName(h) && isUUIDLike(h) {
		return ""
	}
	return h
}

func isUUIDLike(s string) bool {
	return !model.IsValidDisplayName(s) && strings.Count(s, "-") == 4 && len(strings.ReplaceAll(s, "-", "")) == 32
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isBroadcastOrMulticastMAC reports whether mac is the broadcast address or
// has the multicast bit (LSB of the first octet) set.
func isBroadcastOrMulticastMAC(mac string) bool {
	if mac == "ff:ff:ff:ff:ff:ff" {
		return true
	}
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) == 0 {
		return false
	}
	return hw[0]&0x01 != 0
}

func isMulticastOrBroadcastIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] >= 224 || ipStr == "255.255.255.255"
	}
	return ip.IsMulticast()
}

var linkLocalV6 = func() *net.IPNet {
	_, n, _ := net.ParseCIDR("fe80::/10")
	return n
}()

// isLinkLocalNonEUI64 rejects an IPv6 link-local address that does not
// encode an EUI-64 MAC, unless a MAC was independently supplied or derived
// (4.D.1 last bullet, 4.D.3).
func isLinkLocalNonEUI64(ipStr, derivedMAC, observedMAC string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.To4() != nil {
		return false
	}
	if !linkLocalV6.Contains(ip) {
		return false
	}
	if observedMAC != "" {
		return false
	}
	return derivedMAC == ""
}

// extractEUI64MAC reconstructs the 48-bit MAC from an IPv6 interface-id
// encoding the pattern ...:xxFF:FExx:... (4.D.3).
func extractEUI64MAC(ipStr string) (string, bool) {
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.To4() != nil {
		return "", false
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return "", false
	}
	iid := ip16[8:16]
	if iid[3] != 0xff || iid[4] != 0xfe {
		return "", false
	}
	mac := make([]byte, 6)
	copy(mac[0:3], iid[0:3])
	copy(mac[3:6], iid[5:8])
	mac[0] ^= 0x02 // flip U/L bit
	return formatMAC(mac), true
}

func formatMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = hexByte(v)
	}
	return strings.Join(parts, ":")
}

// ipv6Slash64 returns the /64 network prefix of an IPv6 address as its
// lowercase hex string (16 hex chars), or "" if ip is not IPv6.
func ipv6Slash64(ipStr string) string {
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.To4() != nil {
		return ""
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return ""
	}
	var b strings.Builder
	for _, v := range ip16[:8] {
		b.WriteString(hexByte(v))
	}
	return b.String()
}

func hexByte(b byte) string {
	const hexdigits = "0123456789abcdef"
	return string([]byte{hexdigits[b>>4], hexdigits[b&0x0f]})
}
