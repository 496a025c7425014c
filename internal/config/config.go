// Package config loads the engine's HCL configuration file and applies the
// spec-mandated environment variable overrides on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the top-level decoded configuration.
type Config struct {
	DatabasePath  string         `hcl:"database_path,optional"`
	Capture       CaptureConfig  `hcl:"capture,block"`
	Writer        WriterConfig   `hcl:"writer,block"`
	Enrichment    EnrichConfig   `hcl:"enrichment,block"`
	Scan          ScanConfig     `hcl:"scan,block"`
	GatewayVendor []VendorEntry  `hcl:"gateway_vendor,block"`
}

// CaptureConfig controls the per-interface packet capture frontend (4.A).
type CaptureConfig struct {
	Interfaces []string `hcl:"interfaces,optional"`
}

// WriterConfig controls the single-writer batching/retention core (4.C).
type WriterConfig struct {
	ChannelBufferSize      int `hcl:"channel_buffer_size,optional"`
	DataRetentionDays      int `hcl:"data_retention_days,optional"`
	CleanupIntervalSeconds int `hcl:"cleanup_interval_seconds,optional"`
}

// EnrichConfig controls the always-on mDNS/SSDP enrichment daemons (4.E).
type EnrichConfig struct {
	MDNSServiceTypes []string `hcl:"mdns_service_types,optional"`
}

// ScanConfig holds the active-scan orchestrator defaults (4.F/4.G).
type ScanConfig struct {
	ARPTimeoutMS      int `hcl:"arp_timeout_ms,optional"`
	NDPTimeoutMS      int `hcl:"ndp_timeout_ms,optional"`
	ICMPConcurrency   int `hcl:"icmp_concurrency,optional"`
	TCPConcurrency    int `hcl:"tcp_concurrency,optional"`
	TCPTimeoutMS      int `hcl:"tcp_timeout_ms,optional"`
	SSDPTimeoutMS     int `hcl:"ssdp_timeout_ms,optional"`
	NetBIOSTimeoutMS  int `hcl:"netbios_timeout_ms,optional"`
	SNMPCommunities   []string `hcl:"snmp_communities,optional"`
}

// VendorEntry is one gateway_vendor block of the HCL file. The blocks are
// decoded into Config.GatewayVendor, but nothing reads them: gateway
// classification and the similar-MAC lookup use their built-in tables.
type VendorEntry struct {
	Name   string   `hcl:"name,label"`
	Hosts  []string `hcl:"hosts"`
}

// Default returns the built-in configuration used when no HCL file is
// present, matching the constants spec.md names throughout section 4-6.
func Default() *Config {
	return &Config{
		DatabasePath: "discoveryd.db",
		Writer: WriterConfig{
			ChannelBufferSize:      50000,
			DataRetentionDays:      30,
			CleanupIntervalSeconds: 30,
		},
		Enrichment: EnrichConfig{
			MDNSServiceTypes: []string{
				"_airplay._tcp", "_raop._tcp", "_googlecast._tcp",
				"_hap._tcp", "_ipp._tcp", "_ipps._tcp", "_printer._tcp",
				"_spotify-connect._tcp", "_hue._tcp", "_home-assistant._tcp",
				"_adisk._tcp", "_smb._tcp", "_afpovertcp._tcp",
				"_roku-rcp._tcp", "_matter._tcp", "_companion-link._tcp",
			},
		},
		Scan: ScanConfig{
			ARPTimeoutMS:     1000,
			NDPTimeoutMS:     1000,
			ICMPConcurrency:  50,
			TCPConcurrency:   100,
			TCPTimeoutMS:     1000,
			SSDPTimeoutMS:    2000,
			NetBIOSTimeoutMS: 1000,
			SNMPCommunities:  []string{"public", "private"},
		},
	}
}

// Load reads the HCL file at path (if it exists), falling back to Default,
// then applies the DATABASE_URL/CHANNEL_BUFFER_SIZE/DATA_RETENTION_DAYS
// environment overrides per section 6's "Environment" interface.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			decoded := Default()
			if err := hclsimple.DecodeFile(path, nil, decoded); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
			cfg = decoded
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("CHANNEL_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Writer.ChannelBufferSize = n
		}
	}
	if v := os.Getenv("DATA_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Writer.DataRetentionDays = n
		}
	}
}

// CleanupInterval is a convenience accessor returning the configured
// cleanup period as a time.Duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Writer.CleanupIntervalSeconds) * time.Second
}

// RetentionPeriod returns the configured data retention window.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.Writer.DataRetentionDays) * 24 * time.Hour
}
