package network

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"testing"
)

func compactDBBytes(t *testing.T, entries map[string]OUIEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	for prefix, e := range entries {
		fmt.Fprintf(zw, "%s\t%s\t%s\n", prefix, e.Manufacturer, e.Country)
	}
	zw.Close()
	return buf.Bytes()
}

func TestLookupVendor_Empty(t *testing.T) {
	// Before any DB is loaded
	// Note: global state might affect this if tests run in parallel or order.
	// But we can override it using LoadFromBytes with an empty DB.

	if err := LoadFromBytes(compactDBBytes(t, nil)); err != nil {
		t.Fatal(err)
	}

	if got := LookupVendor("00:11:22:33:44:55"); got != "" {
		t.Errorf("Expected empty string, got %q", got)
	}
}

func TestLookupVendor_LPM(t *testing.T) {
	// Setup test DB with mixed lengths
	data := compactDBBytes(t, map[string]OUIEntry{
		"001122":    {Manufacturer: "Broadcom (OUI-24)"},  // 24-bit match
		"0011223":   {Manufacturer: "Chipset X (OUI-28)"}, // 28-bit match
		"001122334": {Manufacturer: "Device Y (OUI-36)"},  // 36-bit match
		"A8BBCC":    {Manufacturer: "Vendor B"},
	})

	if err := LoadFromBytes(data); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		mac  string
		want string
	}{
		{"00:11:22:AA:BB:CC", "Broadcom (OUI-24)"},
		{"00:11:22:30:00:00", "Chipset X (OUI-28)"}, // Matches 0011223...
		{"00:11:22:33:4F:FF", "Device Y (OUI-36)"},  // Matches 001122334...
		{"A8-BB-CC-DD-EE-FF", "Vendor B"},
		{"00:11:22", "Broadcom (OUI-24)"}, // Exact OUI
		{"00:11:2", ""},                   // Too short
		{"XX:YY:ZZ:00:00:00", ""},         // Unknown
		{"", ""},                          // Empty
	}

	for _, tt := range tests {
		t.Run(tt.mac, func(t *testing.T) {
			got := LookupVendor(tt.mac)
			if got != tt.want {
				t.Errorf("LookupVendor(%q) = %q; want %q", tt.mac, got, tt.want)
			}
		})
	}
}

func TestInitOUI_Embed(t *testing.T) {
	// This test depends on the actual embedded asset generated by
	// tools/oui-gen. Prefix 00:50:56 -> VMware, Inc. is part of the
	// curated seed set.
	InitOUI()

	got := LookupVendor("00:50:56:00:00:01")
	if got != "" && got != "VMware, Inc." {
		t.Logf("Got manufacturer: %s", got)
	}
}
