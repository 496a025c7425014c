package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// cleanupLoop runs the periodic retention/compaction/merge task (4.C).
func (s *Store) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	s.mu.RLock()
	interval := s.cleanupInterval
	s.mu.RUnlock()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runCleanup(); err != nil {
				s.logger.Error("cleanup pass failed", "error", err)
			}
		}
	}
}

// runCleanup deletes retention-expired rows, dedups attributes, runs the
// two global merge passes, and VACUUMs when substantial changes were made.
func (s *Store) runCleanup() error {
	s.mu.RLock()
	retentionDays := s.retentionDays
	s.mu.RUnlock()
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := s.clk.Now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var changed int64

	res, err := tx.Exec(`DELETE FROM communications WHERE observed_at < ?`, cutoff)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		changed += n
	}

	res, err = tx.Exec(`
		DELETE FROM endpoint_attributes
		WHERE observed_at < ?
		AND endpoint_id NOT IN (
			SELECT src_endpoint_id FROM communications WHERE src_endpoint_id IS NOT NULL
			UNION SELECT dst_endpoint_id FROM communications WHERE dst_endpoint_id IS NOT NULL
		)`, cutoff)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		changed += n
	}

	// Dedup endpoint_attributes to one row per (endpoint_id, mac, ip, hostname):
	// the UNIQUE constraint already enforces this going forward, but a
	// pre-existing backlog (e.g. from a schema without the constraint) is
	// swept here too.
	res, err = tx.Exec(`
		DELETE FROM endpoint_attributes
		WHERE id NOT IN (
			SELECT MIN(id) FROM endpoint_attributes
			GROUP BY endpoint_id, mac, ip, hostname
		)`)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		changed += n
	}

	mergedHostname, err := s.mergeHostnameDuplicates(tx)
	if err != nil {
		return err
	}
	changed += mergedHostname

	mergedIPv6, err := s.mergeIPv6SiblingsGlobal(tx)
	if err != nil {
		return err
	}
	changed += mergedIPv6

	if err := tx.Commit(); err != nil {
		return err
	}

	if changed > 0 {
		if _, err := s.db.Exec(`VACUUM`); err != nil {
			s.logger.Warn("vacuum failed", "error", err)
		}
	}
	return nil
}

// mergeHostnameDuplicates implements 4.D.9: endpoints whose canonical name
// is equal case-insensitively are merged, keeping the lowest id.
func (s *Store) mergeHostnameDuplicates(tx *sql.Tx) (int64, error) {
	rows, err := tx.Query(`
		SELECT id, name FROM endpoints
		WHERE name IS NOT NULL AND name != ''
		ORDER BY LOWER(name), id`)
	if err != nil {
		return 0, err
	}
	type row struct {
		id   int64
		name string
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.name); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()

	var merged int64
	groups := map[string][]row{}
	for _, r := range all {
		key := strings.ToLower(r.name)
		groups[key] = append(groups[key], r)
	}
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		winner := g[0].id
		for _, r := range g {
			if r.id < winner {
				winner = r.id
			}
		}
		for _, r := range g {
			if r.id == winner {
				continue
			}
			if err := s.mergeEndpoint(tx, r.id, winner); err != nil {
				return merged, err
			}
			merged++
		}
	}
	return merged, nil
}

// mergeIPv6SiblingsGlobal implements 4.D.8's cleanup-time global pass: group
// endpoints by shared /64 prefix (excluding fe80::/10); where more than one
// endpoint shares a prefix and at least one has a non-colon name, merge the
// colon-named (unresolved) ones into it.
func (s *Store) mergeIPv6SiblingsGlobal(tx *sql.Tx) (int64, error) {
	rows, err := tx.Query(`
		SELECT DISTINCT e.id, e.name, a.ip FROM endpoints e
		JOIN endpoint_attributes a ON a.endpoint_id = e.id
		WHERE a.ip LIKE '%:%'`)
	if err != nil {
		return 0, err
	}
	type row struct {
		id   int64
		name sql.NullString
		ip   string
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.name, &r.ip); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()

	type member struct {
		id      int64
		hasName bool
	}
	groups := map[string][]member{}
	for _, r := range all {
		p := ipv6Slash64(r.ip)
		if p == "" || linkLocalV6Prefix(p) {
			continue
		}
		hasName := r.name.Valid && !strings.Contains(r.name.String, ":") && r.name.String != ""
		groups[p] = append(groups[p], member{id: r.id, hasName: hasName})
	}

	var merged int64
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		var winner *member
		for i := range g {
			if g[i].hasName {
				winner = &g[i]
				break
			}
		}
		if winner == nil {
			continue
		}
		seen := map[int64]bool{winner.id: true}
		for _, m := range g {
			if seen[m.id] || m.hasName {
				continue
			}
			if err := s.mergeEndpoint(tx, m.id, winner.id); err != nil {
				return merged, err
			}
			seen[m.id] = true
			merged++
		}
	}
	return merged, nil
}
