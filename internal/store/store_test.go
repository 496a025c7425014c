package store

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/config"
	"github.com/discoveryd/engine/internal/model"
)

var testCIDRs = []string{"192.168.1.0/24", "10.0.0.0/24", "fd00:aaaa:bbbb:cccc::/64", "fe80::/10"}

func openTestStore(t *testing.T) (*Store, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))

	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	s, err := Open(cfg, clk, nil, testCIDRs)
	require.NoError(t, err)
	t.Cleanup(func() { s.db.Close() })
	return s, clk
}

// resolveInTx runs resolvePeer in its own committed transaction.
func resolveInTx(t *testing.T, s *Store, p Peer, at time.Time) *int64 {
	t.Helper()
	tx, err := s.db.Begin()
	require.NoError(t, err)
	id, err := s.resolvePeer(tx, p, "test0", at)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func countRows(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(query, args...).Scan(&n))
	return n
}

func endpointName(t *testing.T, s *Store, id int64) sql.NullString {
	t.Helper()
	var name sql.NullString
	require.NoError(t, s.db.QueryRow(`SELECT name FROM endpoints WHERE id = ?`, id).Scan(&name))
	return name
}

func TestResolvePeer_InternetDiversion(t *testing.T) {
	s, clk := openTestStore(t)

	id := resolveInTx(t, s, Peer{IP: "8.8.8.8", Hostname: "dns.google"}, clk.Now())
	assert.Nil(t, id, "internet peers resolve to no endpoint")

	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM internet_destinations WHERE hostname = 'dns.google'`))
	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM endpoints`))

	// Repeat observations bump the packet counter, not the row count.
	resolveInTx(t, s, Peer{IP: "8.8.8.8", Hostname: "dns.google"}, clk.Now())
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM internet_destinations`))
	var packets int64
	require.NoError(t, s.db.QueryRow(`SELECT packet_count FROM internet_destinations WHERE hostname = 'dns.google'`).Scan(&packets))
	assert.Equal(t, int64(2), packets)
}

func TestApplyObservation_EndToEnd(t *testing.T) {
	s, clk := openTestStore(t)

	tx, err := s.db.Begin()
	require.NoError(t, err)
	obs := Observation{
		Interface:   "eth0",
		ObservedAt:  clk.Now(),
		Src:         Peer{MAC: "00:11:22:33:44:55", IP: "192.168.1.100"},
		Dst:         Peer{MAC: "aa:bb:cc:dd:ee:ff", IP: "8.8.8.8"},
		SrcPort:     54321,
		DstPort:     443,
		IPVersion:   4,
		HeaderProto: model.ProtoTCP,
		SubProtocol: "HTTPS",
	}
	require.NoError(t, s.applyObservation(tx, obs))
	require.NoError(t, tx.Commit())

	// One local endpoint with a null name, one internet destination keyed
	// by the raw IP (no hostname evidence), one communications row.
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM endpoints`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM endpoints WHERE name IS NULL`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM internet_destinations WHERE hostname = '8.8.8.8'`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM communications WHERE sub_protocol = 'HTTPS' AND dst_endpoint_id IS NULL`))
}

func TestResolvePeer_Filters(t *testing.T) {
	s, clk := openTestStore(t)

	// Broadcast and multicast MACs are rejected.
	assert.Nil(t, resolveInTx(t, s, Peer{MAC: "ff:ff:ff:ff:ff:ff", IP: "192.168.1.5"}, clk.Now()))
	assert.Nil(t, resolveInTx(t, s, Peer{MAC: "01:00:5e:00:00:fb", IP: "192.168.1.5"}, clk.Now()))

	// Multicast and broadcast IPs are rejected.
	assert.Nil(t, resolveInTx(t, s, Peer{MAC: "00:11:22:33:44:55", IP: "224.0.0.251"}, clk.Now()))
	assert.Nil(t, resolveInTx(t, s, Peer{MAC: "00:11:22:33:44:55", IP: "255.255.255.255"}, clk.Now()))
	assert.Nil(t, resolveInTx(t, s, Peer{IP: "ff02::fb"}, clk.Now()))

	// Link-local IPv6 without an EUI-64 interface id and without a MAC.
	assert.Nil(t, resolveInTx(t, s, Peer{IP: "fe80::1"}, clk.Now()))

	// Empty observation.
	assert.Nil(t, resolveInTx(t, s, Peer{}, clk.Now()))

	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM endpoints`))
}

func TestResolvePeer_EUI64Extraction(t *testing.T) {
	s, clk := openTestStore(t)

	id := resolveInTx(t, s, Peer{IP: "fe80::d48f:2ff:fefb:b5"}, clk.Now())
	require.NotNil(t, id)

	var mac string
	require.NoError(t, s.db.QueryRow(`SELECT mac FROM endpoint_attributes WHERE endpoint_id = ?`, *id).Scan(&mac))
	assert.Equal(t, "d6:8f:02:fb:00:b5", mac)
}

func TestResolvePeer_SameMACSameEndpoint(t *testing.T) {
	s, clk := openTestStore(t)

	a := resolveInTx(t, s, Peer{MAC: "00:11:22:33:44:55", IP: "192.168.1.10"}, clk.Now())
	b := resolveInTx(t, s, Peer{MAC: "00:11:22:33:44:55", IP: "192.168.1.11"}, clk.Now())
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, *a, *b)
}

func TestResolvePeer_RandomizedMACNotUsedForLookup(t *testing.T) {
	s, clk := openTestStore(t)

	// A locally administered MAC resolves by IP instead; the MAC is still
	// stored as an attribute.
	a := resolveInTx(t, s, Peer{MAC: "d2:11:22:33:44:55", IP: "192.168.1.20"}, clk.Now())
	require.NotNil(t, a)
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM endpoint_attributes WHERE mac = 'd2:11:22:33:44:55'`))

	// Same randomized MAC on a different IP creates a fresh endpoint.
	b := resolveInTx(t, s, Peer{MAC: "d2:11:22:33:44:55", IP: "192.168.1.21"}, clk.Now())
	require.NotNil(t, b)
	assert.NotEqual(t, *a, *b)

	// With a DHCP client id correlator, the endpoints resolve together.
	c := resolveInTx(t, s, Peer{MAC: "d2:11:22:33:44:56", IP: "192.168.1.22", DHCPClientID: "01aabbcc"}, clk.Now())
	d := resolveInTx(t, s, Peer{MAC: "d2:11:22:33:44:57", IP: "192.168.1.23", DHCPClientID: "01AABBCC"}, clk.Now())
	require.NotNil(t, c)
	require.NotNil(t, d)
	assert.Equal(t, *c, *d, "DHCP client id lookup is case-insensitive")
}

func TestHostnamePromotion(t *testing.T) {
	s, clk := openTestStore(t)

	id := resolveInTx(t, s, Peer{MAC: "00:11:22:33:44:66", IP: "192.168.1.30", Hostname: "My-Laptop.local"}, clk.Now())
	require.NotNil(t, id)

	name := endpointName(t, s, *id)
	require.True(t, name.Valid)
	assert.Equal(t, "my-laptop", name.String, "hostname normalized and promoted")

	// An IP-literal hostname is never promoted to the display name.
	id2 := resolveInTx(t, s, Peer{MAC: "00:11:22:33:44:67", IP: "192.168.1.31", Hostname: "192.168.1.31"}, clk.Now())
	require.NotNil(t, id2)
	assert.False(t, endpointName(t, s, *id2).Valid)

	// Names, once valid, are not overwritten by later hostnames.
	resolveInTx(t, s, Peer{MAC: "00:11:22:33:44:66", IP: "192.168.1.30", Hostname: "other-name"}, clk.Now())
	assert.Equal(t, "my-laptop", endpointName(t, s, *id).String)
}

func TestMACDuplicateMerge(t *testing.T) {
	s, clk := openTestStore(t)
	now := clk.Now()

	// Two endpoints sharing a MAC with IPs in the same /24; one named.
	tx, err := s.db.Begin()
	require.NoError(t, err)
	e1, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	require.NoError(t, s.insertAttribute(tx, e1, "a8:bb:cc:dd:ee:01", "192.168.1.10", "", "", "", now))
	e2, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	require.NoError(t, s.insertAttribute(tx, e2, "a8:bb:cc:dd:ee:01", "192.168.1.10", "my-laptop", "", "", now))
	require.NoError(t, tx.Commit())

	// The next observation of that MAC runs the opportunistic merge.
	id := resolveInTx(t, s, Peer{MAC: "a8:bb:cc:dd:ee:01", IP: "192.168.1.10"}, now)
	require.NotNil(t, id)

	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM endpoints`))
	assert.Equal(t, "my-laptop", endpointName(t, s, *id).String, "named endpoint survives")
}

func TestRandomizedMACSameIPResolvesTogether(t *testing.T) {
	s, clk := openTestStore(t)

	// A locally administered MAC is excluded from MAC lookup, so the
	// second observation finds the first endpoint by IP and promotes the
	// hostname; one endpoint survives.
	a := resolveInTx(t, s, Peer{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.10"}, clk.Now())
	b := resolveInTx(t, s, Peer{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.10", Hostname: "my-laptop"}, clk.Now())
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, *a, *b)
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM endpoints`))
	assert.Equal(t, "my-laptop", endpointName(t, s, *a).String)
}

func TestMACDuplicateMerge_SkipsConflicts(t *testing.T) {
	s, clk := openTestStore(t)
	now := clk.Now()

	tx, err := s.db.Begin()
	require.NoError(t, err)
	e1, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	require.NoError(t, s.insertAttribute(tx, e1, "a8:bb:cc:dd:ee:02", "192.168.1.10", "host-a", "", "", now))
	_, err = tx.Exec(`UPDATE endpoints SET custom_vendor = 'VendorA' WHERE id = ?`, e1)
	require.NoError(t, err)

	e2, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	require.NoError(t, s.insertAttribute(tx, e2, "a8:bb:cc:dd:ee:02", "192.168.1.11", "", "", "", now))
	_, err = tx.Exec(`UPDATE endpoints SET custom_vendor = 'VendorB' WHERE id = ?`, e2)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	resolveInTx(t, s, Peer{MAC: "a8:bb:cc:dd:ee:02", IP: "192.168.1.10"}, now)

	// Conflicting explicit custom_vendor values block the merge.
	assert.Equal(t, 2, countRows(t, s, `SELECT COUNT(*) FROM endpoints`))
}

func TestIPv6SiblingMergeOnNaming(t *testing.T) {
	s, clk := openTestStore(t)
	now := clk.Now()

	// Sibling with an IPv6-literal name on the same /64.
	tx, err := s.db.Begin()
	require.NoError(t, err)
	sib, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	_, err = tx.Exec(`UPDATE endpoints SET name = 'fd00:aaaa:bbbb:cccc::20' WHERE id = ?`, sib)
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO endpoint_attributes (endpoint_id, mac, ip, hostname, observed_at) VALUES (?, '', 'fd00:aaaa:bbbb:cccc::20', '', ?)`, sib, now)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// A peer on the same /64 acquires a valid name; the sibling merges in.
	id := resolveInTx(t, s, Peer{MAC: "00:11:22:33:44:77", IP: "fd00:aaaa:bbbb:cccc::10", Hostname: "media-box"}, now)
	require.NotNil(t, id)

	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM endpoints`))
	assert.Equal(t, "media-box", endpointName(t, s, *id).String)
}

func TestCleanup_GlobalIPv6AndHostnameMerges(t *testing.T) {
	s, clk := openTestStore(t)
	now := clk.Now()

	tx, err := s.db.Begin()
	require.NoError(t, err)

	// Two endpoints on one /64: one named, one with a colon name.
	named, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	_, err = tx.Exec(`UPDATE endpoints SET name = 'nas' WHERE id = ?`, named)
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO endpoint_attributes (endpoint_id, mac, ip, hostname, observed_at) VALUES (?, '', 'fd00:aaaa:bbbb:cccc::30', '', ?)`, named, now)
	require.NoError(t, err)

	colon, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	_, err = tx.Exec(`UPDATE endpoints SET name = 'fd00:aaaa:bbbb:cccc::31' WHERE id = ?`, colon)
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO endpoint_attributes (endpoint_id, mac, ip, hostname, observed_at) VALUES (?, '', 'fd00:aaaa:bbbb:cccc::31', '', ?)`, colon, now)
	require.NoError(t, err)

	// Two endpoints whose names differ only by case.
	h1, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	_, err = tx.Exec(`UPDATE endpoints SET name = 'Printer' WHERE id = ?`, h1)
	require.NoError(t, err)
	h2, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	_, err = tx.Exec(`UPDATE endpoints SET name = 'printer' WHERE id = ?`, h2)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, s.runCleanup())

	// Colon-named sibling merged into the named one; case-duplicates
	// merged keeping the lowest id.
	assert.Equal(t, 2, countRows(t, s, `SELECT COUNT(*) FROM endpoints`))
	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM endpoints WHERE name LIKE '%:%'`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM endpoints WHERE LOWER(name) = 'printer'`))
}

func TestCleanup_RetentionDeletesOldCommunications(t *testing.T) {
	s, clk := openTestStore(t)

	old := clk.Now().Add(-40 * 24 * time.Hour)
	tx, err := s.db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO communications (interface, observed_at, src_port, dst_port, ip_version, header_proto) VALUES ('eth0', ?, 1, 2, 4, 'Tcp')`, old)
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO communications (interface, observed_at, src_port, dst_port, ip_version, header_proto) VALUES ('eth0', ?, 1, 2, 4, 'Tcp')`, clk.Now())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, s.runCleanup())
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM communications`))
}

func TestApplyScanResult(t *testing.T) {
	s, clk := openTestStore(t)
	now := clk.Now()

	port := 9100
	tx, err := s.db.Begin()
	require.NoError(t, err)
	msg := ScanResultMsg{
		Peer:        Peer{MAC: "00:11:22:33:44:88", IP: "192.168.1.40"},
		ScanType:    "port",
		ScannedAt:   now,
		OpenPort:    &port,
		Protocol:    "tcp",
		ServiceName: "Printer",
		NetBIOSName: "OFFICEPRN",
	}
	require.NoError(t, s.applyScanResult(tx, msg))
	require.NoError(t, tx.Commit())

	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM scan_results WHERE scan_type = 'port'`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM open_ports WHERE port = 9100 AND service_name = 'Printer'`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM endpoints WHERE netbios_name = 'OFFICEPRN'`))

	// Re-reporting the same port updates last_seen, no duplicate row.
	tx, err = s.db.Begin()
	require.NoError(t, err)
	require.NoError(t, s.applyScanResult(tx, msg))
	require.NoError(t, tx.Commit())
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM open_ports`))
}

func TestDisplayNameValidityInvariant(t *testing.T) {
	s, clk := openTestStore(t)

	hostnames := []string{
		"my-laptop", "192.168.1.50", "fe80::1", "34887b21-9413-022c-352a-67966809b46c", "printer.local",
	}
	for i, h := range hostnames {
		mac := formatMAC([]byte{0x00, 0x22, 0x33, 0x44, 0x55, byte(i)})
		resolveInTx(t, s, Peer{MAC: mac, IP: "192.168.1.5" + string(rune('0'+i)), Hostname: h}, clk.Now())
	}

	// Every stored name is a valid display name.
	rows, err := s.db.Query(`SELECT name FROM endpoints WHERE name IS NOT NULL`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		assert.True(t, model.IsValidDisplayName(name), "stored name %q must be valid", name)
	}
}

func TestInternetDestinationByteCounters(t *testing.T) {
	s, clk := openTestStore(t)

	tx, err := s.db.Begin()
	require.NoError(t, err)
	obs := Observation{
		Interface:   "eth0",
		ObservedAt:  clk.Now(),
		Src:         Peer{MAC: "00:11:22:33:44:99", IP: "192.168.1.90"},
		Dst:         Peer{IP: "8.8.4.4"},
		IPVersion:   4,
		HeaderProto: model.ProtoUDP,
		Bytes:       500,
	}
	require.NoError(t, s.applyObservation(tx, obs))

	// Reply direction: internet host is now the source.
	reply := obs
	reply.Src, reply.Dst = obs.Dst, obs.Src
	reply.Bytes = 1200
	require.NoError(t, s.applyObservation(tx, reply))
	require.NoError(t, tx.Commit())

	var bytesIn, bytesOut int64
	require.NoError(t, s.db.QueryRow(
		`SELECT bytes_in, bytes_out FROM internet_destinations WHERE hostname = '8.8.4.4'`).Scan(&bytesIn, &bytesOut))
	assert.Equal(t, int64(1200), bytesIn)
	assert.Equal(t, int64(500), bytesOut)
}

func TestSettingsRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	// Defaults are seeded at first startup.
	v, ok, err := s.GetSetting("data_retention_days")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "30", v)

	require.NoError(t, s.SetSetting("data_retention_days", "7"))
	v, ok, err = s.GetSetting("data_retention_days")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "7", v)

	s.mu.RLock()
	assert.Equal(t, 7, s.retentionDays, "writer tunable applied immediately")
	s.mu.RUnlock()

	_, ok, err = s.GetSetting("never-set")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestControlTokenRoundTrip(t *testing.T) {
	s, clk := openTestStore(t)
	now := clk.Now()

	tx, err := s.db.Begin()
	require.NoError(t, err)
	id, err := s.insertEndpoint(tx, now)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	token := model.DeviceControlToken{
		EndpointID: id,
		Controller: "samsung",
		State:      model.DeviceControlPaired,
		Token:      []byte("secret"),
		UpdatedAt:  now,
	}
	require.NoError(t, s.SaveControlToken(token))

	got, ok, err := s.GetControlToken(id, "samsung")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.DeviceControlPaired, got.State)
	assert.Equal(t, []byte("secret"), got.Token)

	_, ok, err = s.GetControlToken(id, "lg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.GetControlToken(id, "bogus")
	assert.Error(t, err)
}

func TestBackoffDelayLadder(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(attempt)
		shift := attempt - 1
		if shift > 6 {
			shift = 6
		}
		base := retryBaseDelay * time.Duration(1<<uint(shift))
		if base > retryMaxDelay {
			base = retryMaxDelay
		}
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.LessOrEqual(t, d, base+base/2, "attempt %d jitter bound", attempt)
	}
}

func TestDSNFor(t *testing.T) {
	assert.Contains(t, dsnFor(":memory:"), ":memory:?")
	assert.Contains(t, dsnFor("sqlite:///var/lib/d.db"), "/var/lib/d.db?")
	assert.Contains(t, dsnFor("/abs/path.db"), "_pragma=journal_mode(WAL)")

	// Relative paths resolve to absolute, and the resolution is cached.
	first := dsnFor("rel.db")
	assert.True(t, filepath.IsAbs(first[:len(first)-len(first[strings.Index(first, "?"):])]))
	assert.Equal(t, first, dsnFor("rel.db"))
}
