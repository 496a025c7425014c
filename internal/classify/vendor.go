package classify

import (
	"strings"

	"github.com/discoveryd/engine/internal/model"
	"github.com/discoveryd/engine/internal/network"
)

// canonicalVendorNames maps a lowercase fragment of the registry
// manufacturer string to the short vendor name the rule tables use.
var canonicalVendorNames = []struct {
	Fragment string
	Name     string
}{
	{"apple", "Apple"},
	{"samsung", "Samsung"},
	{"samjin", "Samjin"},
	{"wisol", "Wisol"},
	{"lg electronics", "LG"},
	{"lg innotek", "LG"},
	{"sony interactive", "Sony Interactive"},
	{"sony", "Sony"},
	{"nintendo", "Nintendo"},
	{"microsoft", "Microsoft"},
	{"google", "Google"},
	{"nest", "Nest"},
	{"amazon", "Amazon"},
	{"roku", "Roku"},
	{"sonos", "Sonos"},
	{"hewlett", "HP"},
	{"hp inc", "HP"},
	{"canon", "Canon"},
	{"seiko epson", "Epson"},
	{"brother", "Brother"},
	{"ubiquiti", "Ubiquiti"},
	{"mikrotik", "MikroTik"},
	{"netgear", "Netgear"},
	{"linksys", "Linksys"},
	{"cisco", "Cisco"},
	{"juniper", "Juniper"},
	{"fortinet", "Fortinet"},
	{"tp-link", "TP-Link"},
	{"asus", "ASUS"},
	{"d-link", "D-Link"},
	{"belkin", "Belkin"},
	{"zyxel", "ZyXEL"},
	{"huawei", "Huawei"},
	{"arris", "ARRIS"},
	{"commscope", "Commscope"},
	{"espressif", "Espressif"},
	{"philips lighting", "Philips Lighting"},
	{"signify", "Philips Lighting"},
	{"ecobee", "Ecobee"},
	{"irobot", "iRobot"},
	{"ring", "Ring"},
	{"wyze", "Wyze"},
	{"tcl", "TCL"},
	{"hisense", "Hisense"},
	{"vizio", "Vizio"},
	{"raspberry", "Raspberry Pi"},
	{"intel", "Intel"},
	{"dell", "Dell"},
	{"vmware", "VMware"},
	{"synology", "Synology"},
	{"eero", "eero"},
}

// vendorForMAC resolves a MAC to its canonical vendor name via the OUI
// registry, with the SmartThings sensor prefixes special-cased to Samsung.
func vendorForMAC(mac string) string {
	lower := strings.ToLower(mac)
	if strings.HasPrefix(lower, "70:2c:1f") || strings.HasPrefix(lower, "28:6d:97") {
		return "Samsung"
	}

	raw := network.LookupVendor(mac)
	if raw == "" || raw == "Random MAC" {
		return ""
	}
	rawLower := strings.ToLower(raw)
	for _, c := range canonicalVendorNames {
		if strings.Contains(rawLower, c.Fragment) {
			return c.Name
		}
	}
	return raw
}

func matchesVendorGroup(macs []string, group []string) bool {
	for _, mac := range macs {
		v := vendorForMAC(mac)
		if v == "" {
			continue
		}
		for _, g := range group {
			if v == g {
				return true
			}
		}
	}
	return false
}

// ouiVendor returns the canonical vendor of the first MAC that resolves.
func ouiVendor(macs []string) string {
	for _, mac := range macs {
		if v := vendorForMAC(mac); v != "" {
			return v
		}
	}
	return ""
}

// hostnameVendor derives a vendor from hostname conventions.
func hostnameVendor(hostname string) string {
	lower := strings.ToLower(hostname)
	for _, p := range hostnameVendorPatterns {
		if strings.Contains(lower, p.Substr) {
			return p.Vendor
		}
	}
	return ""
}

// vendorFromModel derives a vendor from TV/appliance model conventions.
func vendorFromModel(m string) string {
	upper := strings.ToUpper(m)
	lower := strings.ToLower(m)
	switch {
	case strings.HasPrefix(upper, "QN"), strings.HasPrefix(upper, "UN"), strings.HasPrefix(upper, "UA"),
		strings.HasPrefix(lower, "hw-"), strings.HasPrefix(lower, "wam"), strings.Contains(upper, "LS03"):
		return "Samsung"
	case strings.HasPrefix(upper, "OLED"), strings.HasPrefix(upper, "NANO"), strings.HasPrefix(upper, "QNED"):
		return "LG"
	case strings.HasPrefix(upper, "XR"), strings.HasPrefix(upper, "KD-"), strings.Contains(lower, "bravia"):
		return "Sony"
	case strings.Contains(lower, "vizio"):
		return "Vizio"
	case isRokuTVModel(upper):
		return "TCL"
	default:
		return ""
	}
}

// CharacterizeVendor picks the best vendor candidate: the user override,
// the OUI lookup, then hostname and model pattern matches.
func CharacterizeVendor(customVendor string, macs []string, hostname, deviceModel string) model.Characterized[string] {
	return model.Characterize(
		candidate(customVendor, model.SourceUserSet),
		candidate(ouiVendor(macs), model.SourceNetworkInferred),
		candidate(hostnameVendor(hostname), model.SourcePatternMatched),
		candidate(vendorFromModel(deviceModel), model.SourcePatternMatched),
	)
}

func candidate(value string, source model.DataSource) model.Characterized[string] {
	if value == "" {
		return model.Characterized[string]{}
	}
	return model.Characterized[string]{Value: value, Source: source}
}
