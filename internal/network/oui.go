// Package network resolves MAC addresses to manufacturers via an embedded
// snapshot of the IEEE OUI registries. The snapshot is produced by
// tools/oui-gen; lookups before a successful load resolve to "".
package network

import (
	"bytes"
	"embed"
	"strconv"
	"strings"
	"sync"

	"github.com/discoveryd/engine/internal/logging"
)

//go:embed assets/oui.db.gz
var ouiAsset embed.FS

var (
	ouiDB *OUIDB
	mu    sync.RWMutex
)

// InitOUI loads the vendor registry from the embedded asset.
func InitOUI() {
	logger := logging.WithComponent("oui")

	mu.Lock()
	defer mu.Unlock()

	f, err := ouiAsset.Open("assets/oui.db.gz")
	if err != nil {
		logger.Warn("embedded OUI registry missing", "error", err)
		return
	}
	defer f.Close()

	db, err := LoadCompactDB(f)
	if err != nil {
		logger.Error("failed to load embedded OUI registry", "error", err)
		return
	}

	ouiDB = db
	logger.Info("OUI registry loaded", "prefixes", len(db.Entries))
}

// LoadFromBytes replaces the registry with one decoded from data.
func LoadFromBytes(data []byte) error {
	mu.Lock()
	defer mu.Unlock()

	db, err := LoadCompactDB(bytes.NewReader(data))
	if err != nil {
		return err
	}
	ouiDB = db
	return nil
}

// normalizeMAC strips colon/dash/dot delimiters and uppercases, leaving
// raw hex like "001122334455". Partial prefixes pass through unchanged.
func normalizeMAC(mac string) string {
	raw := strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac)
	return strings.ToUpper(raw)
}

// IsLocallyAdministered reports whether the 0x02 bit of the first octet is
// set: a randomized/private MAC that carries no vendor identity. Accepts
// delimited or bare-hex strings.
func IsLocallyAdministered(mac string) bool {
	raw := normalizeMAC(mac)
	if len(raw) < 2 {
		return false
	}
	first, err := strconv.ParseUint(raw[:2], 16, 8)
	if err != nil {
		return false
	}
	return first&0x02 != 0
}

// LookupVendor returns the manufacturer for a MAC address, longest
// registration first (MA-S over MA-M over MA-L). Locally administered
// addresses report "Random MAC".
func LookupVendor(mac string) string {
	mu.RLock()
	defer mu.RUnlock()

	if ouiDB == nil {
		return ""
	}

	raw := normalizeMAC(mac)
	if len(raw) < 6 {
		return ""
	}

	if IsLocallyAdministered(raw) {
		return "Random MAC"
	}

	for _, width := range []int{9, 7, 6} { // MA-S (36-bit), MA-M (28-bit), MA-L (24-bit)
		if len(raw) < width {
			continue
		}
		if entry, ok := ouiDB.Entries[raw[:width]]; ok {
			return entry.Manufacturer
		}
	}

	return ""
}
