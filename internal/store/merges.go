package store

import (
	"database/sql"
	"strings"

	"github.com/discoveryd/engine/internal/model"
	"github.com/discoveryd/engine/internal/network"
)

// mergeMACDuplicates implements 4.D.7: all endpoints sharing mac become
// candidates for merge into the one with a non-empty valid name (or lowest
// id). It returns the surviving endpoint id (even when nothing needed
// merging), so callers can keep resolving against the right identity.
func (s *Store) mergeMACDuplicates(tx *sql.Tx, mac string) (*int64, error) {
	rows, err := tx.Query(`
		SELECT DISTINCT e.id, e.name, e.custom_vendor, e.manual_device_type
		FROM endpoints e
		JOIN endpoint_attributes a ON a.endpoint_id = e.id
		WHERE LOWER(a.mac) = ?`, mac)
	if err != nil {
		return nil, err
	}
	var cands []macMergeCandidate
	for rows.Next() {
		var c macMergeCandidate
		if err := rows.Scan(&c.id, &c.name, &c.customVendor, &c.deviceType); err != nil {
			rows.Close()
			return nil, err
		}
		cands = append(cands, c)
	}
	rows.Close()

	if len(cands) < 2 {
		if len(cands) == 1 {
			return &cands[0].id, nil
		}
		return nil, nil
	}

	winner := cands[0]
	for _, c := range cands[1:] {
		winnerHasName := winner.name.Valid && model.IsValidDisplayName(winner.name.String)
		cHasName := c.name.Valid && model.IsValidDisplayName(c.name.String)
		if (cHasName && !winnerHasName) || (cHasName == winnerHasName && c.id < winner.id) {
			winner = c
		}
	}

	winnerVendor := strings.ToLower(network.LookupVendor(mac))

	for _, c := range cands {
		if c.id == winner.id {
			continue
		}
		skip, err := s.shouldSkipMACMerge(tx, winner, c, mac, winnerVendor)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		if err := s.mergeEndpoint(tx, c.id, winner.id); err != nil {
			return nil, err
		}
	}

	return &winner.id, nil
}

type macMergeCandidate struct {
	id                             int64
	name, customVendor, deviceType sql.NullString
}

// shouldSkipMACMerge implements the four skip conditions of 4.D.7.
func (s *Store) shouldSkipMACMerge(tx *sql.Tx, winner, cand macMergeCandidate, mergeMAC, winnerVendor string) (bool, error) {
	if winner.customVendor.Valid && cand.customVendor.Valid && winner.customVendor.String != cand.customVendor.String {
		return true, nil
	}
	if winner.deviceType.Valid && cand.deviceType.Valid && winner.deviceType.String != cand.deviceType.String {
		return true, nil
	}

	if ok, err := sharesIPv4Slash24(tx, winner.id, cand.id); err != nil {
		return false, err
	} else if !ok {
		return true, nil
	}

	otherMACs, err := macsForEndpoint(tx, cand.id)
	if err != nil {
		return false, err
	}
	for _, m := range otherMACs {
		if m == mergeMAC {
			continue
		}
		v := strings.ToLower(network.LookupVendor(m))
		if v != "" && winnerVendor != "" && v != winnerVendor {
			return true, nil
		}
	}
	return false, nil
}

// sharesIPv4Slash24 reports whether the two endpoints have at least one pair
// of attached IPv4 addresses in the same /24, or whether both lack IPv4
// attributes entirely (IPv6-only endpoints bypass this check).
func sharesIPv4Slash24(tx *sql.Tx, a, b int64) (bool, error) {
	aIPs, err := ipv4sForEndpoint(tx, a)
	if err != nil {
		return false, err
	}
	bIPs, err := ipv4sForEndpoint(tx, b)
	if err != nil {
		return false, err
	}
	if len(aIPs) == 0 && len(bIPs) == 0 {
		return true, nil // IPv6-only: bypasses this check
	}
	for _, x := range aIPs {
		px := slash24(x)
		for _, y := range bIPs {
			if px == slash24(y) {
				return true, nil
			}
		}
	}
	return false, nil
}

func slash24(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	return strings.Join(parts[:3], ".")
}

func ipv4sForEndpoint(tx *sql.Tx, id int64) ([]string, error) {
	rows, err := tx.Query(`SELECT DISTINCT ip FROM endpoint_attributes WHERE endpoint_id = ? AND ip NOT LIKE '%:%'`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		out = append(out, ip)
	}
	return out, nil
}

func macsForEndpoint(tx *sql.Tx, id int64) ([]string, error) {
	rows, err := tx.Query(`SELECT DISTINCT mac FROM endpoint_attributes WHERE endpoint_id = ? AND mac != ''`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// mergeEndpoint re-points every dependent row from loser to winner (4.D.7's
// "merging re-points communications, endpoint_attributes ... then deletes
// the merged endpoint"), all within the caller's transaction.
func (s *Store) mergeEndpoint(tx *sql.Tx, loser, winner int64) error {
	if loser == winner {
		return nil
	}
	if _, err := tx.Exec(`UPDATE communications SET src_endpoint_id = ? WHERE src_endpoint_id = ?`, winner, loser); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE communications SET dst_endpoint_id = ? WHERE dst_endpoint_id = ?`, winner, loser); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE OR IGNORE endpoint_attributes SET endpoint_id = ? WHERE endpoint_id = ?`, winner, loser); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM endpoint_attributes WHERE endpoint_id = ?`, loser); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE OR IGNORE open_ports SET endpoint_id = ? WHERE endpoint_id = ?`, winner, loser); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM open_ports WHERE endpoint_id = ?`, loser); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE scan_results SET endpoint_id = ? WHERE endpoint_id = ?`, winner, loser); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM endpoints WHERE id = ?`, loser); err != nil {
		return err
	}
	return nil
}

// mergeIPv6Siblings implements 4.D.8's opportunistic pass: when endpointID
// just acquired a valid name, merge every other endpoint that shares an
// IPv6 /64 prefix with it and whose own name is still an IPv6 literal.
func (s *Store) mergeIPv6Siblings(tx *sql.Tx, endpointID int64) error {
	prefixes, err := ipv6Slash64sForEndpoint(tx, endpointID)
	if err != nil {
		return err
	}
	if len(prefixes) == 0 {
		return nil
	}

	rows, err := tx.Query(`
		SELECT DISTINCT e.id, a.ip FROM endpoints e
		JOIN endpoint_attributes a ON a.endpoint_id = e.id
		WHERE a.ip LIKE '%:%' AND e.id != ? AND e.name LIKE '%:%'`, endpointID)
	if err != nil {
		return err
	}
	type row struct {
		id int64
		ip string
	}
	var siblings []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.ip); err != nil {
			rows.Close()
			return err
		}
		siblings = append(siblings, r)
	}
	rows.Close()

	seen := map[int64]bool{}
	for _, sib := range siblings {
		if seen[sib.id] {
			continue
		}
		p := ipv6Slash64(sib.ip)
		if p == "" || linkLocalV6Prefix(p) || !prefixes[p] {
			continue
		}
		if err := s.mergeEndpoint(tx, sib.id, endpointID); err != nil {
			return err
		}
		seen[sib.id] = true
	}
	return nil
}

func ipv6Slash64sForEndpoint(tx *sql.Tx, id int64) (map[string]bool, error) {
	rows, err := tx.Query(`SELECT DISTINCT ip FROM endpoint_attributes WHERE endpoint_id = ? AND ip LIKE '%:%'`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		if p := ipv6Slash64(ip); p != "" {
			out[p] = true
		}
	}
	return out, nil
}

func linkLocalV6Prefix(prefix string) bool {
	return strings.HasPrefix(strings.ToLower(prefix), "fe8") || strings.HasPrefix(strings.ToLower(prefix), "fe9") ||
		strings.HasPrefix(strings.ToLower(prefix), "fea") || strings.HasPrefix(strings.ToLower(prefix), "feb")
}
