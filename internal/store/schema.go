package store

// schema is applied idempotently on every Open. Tables mirror spec section 6's
// external-interface list: endpoints, endpoint_attributes, communications,
// internet_destinations, open_ports, scan_results, settings, plus the three
// device-controller token tables carried over from original_source/.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS endpoints (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at         DATETIME NOT NULL,
	name               TEXT,
	custom_name        TEXT,
	custom_vendor      TEXT,
	custom_model       TEXT,
	manual_device_type TEXT,
	auto_device_type   TEXT,
	ssdp_model         TEXT,
	ssdp_friendly_name TEXT,
	netbios_name       TEXT,
	dhcp_client_id     TEXT,
	dhcp_vendor_class  TEXT
);

CREATE INDEX IF NOT EXISTS idx_endpoints_name ON endpoints(name);
CREATE INDEX IF NOT EXISTS idx_endpoints_name_lower ON endpoints(LOWER(name));

CREATE TABLE IF NOT EXISTS endpoint_attributes (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint_id       INTEGER NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
	mac               TEXT NOT NULL DEFAULT '',
	ip                TEXT NOT NULL,
	hostname          TEXT NOT NULL DEFAULT '',
	dhcp_client_id    TEXT,
	dhcp_vendor_class TEXT,
	observed_at       DATETIME NOT NULL,
	UNIQUE(endpoint_id, mac, ip, hostname)
);

CREATE INDEX IF NOT EXISTS idx_attrs_endpoint ON endpoint_attributes(endpoint_id);
CREATE INDEX IF NOT EXISTS idx_attrs_mac ON endpoint_attributes(mac);
CREATE INDEX IF NOT EXISTS idx_attrs_ip ON endpoint_attributes(ip);
CREATE INDEX IF NOT EXISTS idx_attrs_hostname ON endpoint_attributes(hostname);
CREATE INDEX IF NOT EXISTS idx_attrs_dhcp_client_id ON endpoint_attributes(dhcp_client_id);
CREATE INDEX IF NOT EXISTS idx_attrs_dhcp_vendor_class ON endpoint_attributes(dhcp_vendor_class);

CREATE TABLE IF NOT EXISTS communications (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	interface       TEXT NOT NULL,
	src_endpoint_id INTEGER REFERENCES endpoints(id) ON DELETE SET NULL,
	dst_endpoint_id INTEGER REFERENCES endpoints(id) ON DELETE SET NULL,
	observed_at     DATETIME NOT NULL,
	src_port        INTEGER NOT NULL,
	dst_port        INTEGER NOT NULL,
	ip_version      INTEGER NOT NULL,
	header_proto    TEXT NOT NULL,
	sub_protocol    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_comm_observed_at ON communications(observed_at);
CREATE INDEX IF NOT EXISTS idx_comm_src ON communications(src_endpoint_id);
CREATE INDEX IF NOT EXISTS idx_comm_dst ON communications(dst_endpoint_id);

CREATE TABLE IF NOT EXISTS internet_destinations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname     TEXT NOT NULL UNIQUE,
	first_seen   DATETIME NOT NULL,
	last_seen    DATETIME NOT NULL,
	packet_count INTEGER NOT NULL DEFAULT 0,
	bytes_in     INTEGER NOT NULL DEFAULT 0,
	bytes_out    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_internet_hostname ON internet_destinations(hostname);
CREATE INDEX IF NOT EXISTS idx_internet_last_seen ON internet_destinations(last_seen);

CREATE TABLE IF NOT EXISTS open_ports (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint_id  INTEGER NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
	port         INTEGER NOT NULL,
	protocol     TEXT NOT NULL,
	service_name TEXT NOT NULL DEFAULT '',
	last_seen    DATETIME NOT NULL,
	UNIQUE(endpoint_id, port, protocol)
);

CREATE INDEX IF NOT EXISTS idx_ports_endpoint ON open_ports(endpoint_id);

CREATE TABLE IF NOT EXISTS scan_results (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint_id      INTEGER NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
	scan_type        TEXT NOT NULL,
	scanned_at       DATETIME NOT NULL,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	details          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scan_results_endpoint ON scan_results(endpoint_id);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS samsung_tokens (
	endpoint_id INTEGER PRIMARY KEY REFERENCES endpoints(id) ON DELETE CASCADE,
	state       TEXT NOT NULL,
	token       BLOB,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS lg_tokens (
	endpoint_id INTEGER PRIMARY KEY REFERENCES endpoints(id) ON DELETE CASCADE,
	state       TEXT NOT NULL,
	token       BLOB,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS lg_thinq_auth (
	endpoint_id INTEGER PRIMARY KEY REFERENCES endpoints(id) ON DELETE CASCADE,
	state       TEXT NOT NULL,
	token       BLOB,
	updated_at  DATETIME NOT NULL
);
`

const defaultCleanupIntervalSeconds = "30"
const defaultRetentionDays = "30"
