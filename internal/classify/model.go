package classify

import (
	"strings"

	"github.com/discoveryd/engine/internal/model"
)

// NormalizeModelName turns a raw TV/device model number into a friendly
// name, e.g. "QN43LS03TAFXZA" -> "Samsung The Frame", "HW-MS750" ->
// "Samsung Soundbar MS750". Soundbar prefixes are checked before TV-model
// patterns; that order is normative.
func NormalizeModelName(rawModel, vendor string) string {
	upper := strings.ToUpper(rawModel)
	lower := strings.ToLower(rawModel)

	// Soundbars first.
	if strings.HasPrefix(lower, "hw-") {
		return "Samsung Soundbar " + upper[3:]
	}
	if strings.HasPrefix(lower, "spk-") {
		return "Samsung Soundbar " + upper[4:]
	}
	if strings.HasPrefix(lower, "wam") {
		return "Samsung Wireless Speaker " + upper[3:]
	}
	if len(lower) > 2 && (strings.HasPrefix(lower, "sl") || strings.HasPrefix(lower, "sn") || strings.HasPrefix(lower, "sp")) &&
		lower[2] >= '0' && lower[2] <= '9' {
		return "LG Soundbar " + upper
	}
	if strings.HasPrefix(lower, "sc9") {
		return "LG Soundbar " + upper
	}
	if strings.HasPrefix(lower, "bar-") || strings.HasPrefix(lower, "bar ") {
		return "JBL " + upper
	}

	// AV receivers.
	if strings.HasPrefix(lower, "avr-") {
		return "Denon AVR " + upper[4:]
	}
	if strings.HasPrefix(lower, "rx-v") {
		return "Yamaha RX-V" + upper[4:]
	}
	if strings.HasPrefix(lower, "rx-a") {
		return "Yamaha Aventage RX-A" + upper[4:]
	}
	if len(lower) > 2 && (strings.HasPrefix(lower, "sr") || strings.HasPrefix(lower, "nr")) &&
		lower[2] >= '0' && lower[2] <= '9' {
		return "Marantz " + upper
	}
	if strings.HasPrefix(lower, "tx-nr") || strings.HasPrefix(lower, "tx-rz") {
		return "Onkyo " + upper
	}
	if strings.HasPrefix(lower, "vsx-") {
		return "Pioneer " + upper
	}

	vendorLower := strings.ToLower(vendor)
	isSamsung := strings.HasPrefix(upper, "QN") || strings.HasPrefix(upper, "UN") || strings.Contains(vendorLower, "samsung")
	isLG := strings.HasPrefix(upper, "OLED") || strings.Contains(upper, "NANO") || strings.Contains(upper, "QNED") || strings.Contains(vendorLower, "lg")
	isSony := strings.HasPrefix(upper, "XR") || strings.HasPrefix(upper, "KD") || strings.Contains(vendorLower, "sony")

	if isSamsung {
		// Format: [QN|UN][Size][Series][Variant]; skip panel type + size.
		series := lower
		if strings.HasPrefix(upper, "QN") || strings.HasPrefix(upper, "UN") {
			series = strings.TrimLeft(lower[2:], "0123456789")
		}
		for _, s := range samsungTVSeries {
			if strings.HasPrefix(series, s.Pattern) {
				return "Samsung " + s.Name
			}
		}
	}
	if isLG {
		for _, s := range lgTVSeries {
			if strings.Contains(lower, s.Pattern) {
				return "LG " + s.Name
			}
		}
	}
	if isSony {
		series := strings.TrimPrefix(lower, "xr")
		series = strings.TrimPrefix(series, "kd")
		series = strings.TrimLeft(series, "0123456789-")
		for _, s := range sonyTVSeries {
			if strings.HasPrefix(series, s.Pattern) {
				return "Sony " + s.Name
			}
		}
	}

	if isRokuTVModel(upper) {
		return "Roku TV"
	}

	return ""
}

// modelFromHostname extracts a model from hostname conventions (Roku serial,
// PS5, Xbox, iPhone, Galaxy, MacBook, ...).
func modelFromHostname(hostname string) string {
	lower := strings.ToLower(hostname)

	if strings.HasPrefix(lower, "roku-") || strings.HasPrefix(lower, "roku_") {
		parts := strings.FieldsFunc(hostname, func(r rune) bool { return r == '-' || r == '_' })
		if len(parts) >= 2 && !isAllHex(parts[1]) {
			return parts[1]
		}
	}
	if isRokuSerialNumber(strings.ToUpper(hostname)) {
		return "Roku TV"
	}

	if strings.HasPrefix(lower, "ps4") {
		return "PlayStation 4"
	}
	if strings.HasPrefix(lower, "ps5") {
		return "PlayStation 5"
	}

	if strings.HasPrefix(lower, "xbox") {
		parts := strings.FieldsFunc(hostname, func(r rune) bool { return r == '-' || r == '_' })
		var modelParts []string
		for _, p := range parts[1:] {
			if isAllHex(p) {
				break
			}
			modelParts = append(modelParts, p)
		}
		if len(modelParts) > 0 {
			return "Xbox " + strings.Join(modelParts, " ")
		}
		return "Xbox"
	}

	if strings.Contains(lower, "iphone") {
		after := strings.SplitN(lower, "iphone", 2)[1]
		version := strings.Trim(after, "-_")
		version = strings.ReplaceAll(version, "-", " ")
		version = strings.ReplaceAll(version, "_", " ")
		var kept []string
		for _, p := range strings.Fields(version) {
			if isAllHex(p) {
				break
			}
			kept = append(kept, p)
		}
		if len(kept) > 0 {
			return "iPhone " + strings.Join(kept, " ")
		}
		return "iPhone"
	}
	if strings.Contains(lower, "ipad") {
		after := strings.SplitN(lower, "ipad", 2)[1]
		variant := strings.Trim(after, "-_")
		variant = strings.ReplaceAll(variant, "-", " ")
		variant = strings.ReplaceAll(variant, "_", " ")
		if variant != "" && !isAllHex(variant) {
			return "iPad " + strings.TrimSpace(variant)
		}
		return "iPad"
	}

	if strings.Contains(lower, "macbook") {
		if strings.Contains(lower, "pro") {
			return "MacBook Pro"
		}
		if strings.Contains(lower, "air") {
			return "MacBook Air"
		}
		return "MacBook"
	}

	if strings.Contains(lower, "samsung") || strings.HasPrefix(lower, "galaxy") || strings.Contains(lower, "sm-") {
		parts := strings.FieldsFunc(hostname, func(r rune) bool {
			return r == '-' || r == '_' || r == ' ' || r == '.'
		})
		for _, p := range parts {
			upper := strings.ToUpper(p)
			if (strings.HasPrefix(upper, "QN") || strings.HasPrefix(upper, "UN") || strings.HasPrefix(upper, "UA")) && len(upper) >= 6 {
				return "Samsung TV " + upper
			}
		}
		joined := strings.ToUpper(lower)
		switch {
		case strings.Contains(joined, "SM-S9"), strings.Contains(joined, "SM-S8"):
			return "Galaxy S Series"
		case strings.Contains(joined, "SM-G99"):
			return "Galaxy S21"
		case strings.Contains(joined, "SM-G98"):
			return "Galaxy S20"
		case strings.Contains(joined, "SM-G97"):
			return "Galaxy S10"
		case strings.Contains(joined, "SM-N"):
			return "Galaxy Note"
		case strings.Contains(joined, "SM-A"):
			return "Galaxy A Series"
		case strings.Contains(joined, "SM-F"):
			return "Galaxy Z Series"
		case strings.HasPrefix(lower, "galaxy"):
			return "Galaxy"
		}
	}

	return ""
}

func isAllHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// modelFromMACWithContext infers a model from the MAC vendor plus scan
// evidence: Amazon with ADB/cast ports is a Fire TV, Amazon with no local
// services at all is an Echo.
func modelFromMACWithContext(mac string, hasSSDP, hasMDNS, hasOpenPorts bool, openPorts []int) string {
	lower := strings.ToLower(mac)
	if strings.HasPrefix(lower, "70:2c:1f") || strings.HasPrefix(lower, "28:6d:97") {
		return "SmartThings Sensor"
	}

	switch vendorForMAC(mac) {
	case "Amazon":
		if containsInt(openPorts, 5555) || containsInt(openPorts, 8008) || containsInt(openPorts, 8443) {
			return "Amazon Fire TV"
		}
		if hasSSDP || hasMDNS {
			return "Amazon Device"
		}
		if !hasOpenPorts {
			return "Amazon Echo"
		}
		return "Amazon Device"
	case "Google", "Nest":
		if containsInt(openPorts, 8008) || containsInt(openPorts, 8443) {
			return "Chromecast"
		}
		if hasMDNS {
			return "Google/Nest Speaker"
		}
		return "Google Device"
	case "Ring":
		return "Ring Device"
	case "Nintendo":
		return "Nintendo Switch"
	case "Sony Interactive":
		return "PlayStation"
	case "Sonos":
		return "Sonos Speaker"
	case "Roku":
		return "Roku"
	case "iRobot":
		return "Roomba"
	case "Ecobee":
		return "Ecobee Thermostat"
	case "Philips Lighting":
		return "Hue Device"
	case "TCL":
		return "Roku TV"
	case "Hisense":
		return "Hisense TV"
	case "Vizio":
		return "Vizio TV"
	case "Synology":
		return "Synology NAS"
	case "eero":
		return "eero Router"
	default:
		return ""
	}
}

// modelFromVendorAndType is the lowest-priority fallback, deriving a
// generic model from vendor and device class.
func modelFromVendorAndType(vendor, deviceType string) string {
	switch vendor {
	case "Samsung":
		switch deviceType {
		case ClassTV:
			return "Samsung Smart TV"
		case ClassPhone:
			return "Samsung Galaxy"
		case ClassAppliance:
			return "Samsung Appliance"
		case ClassSoundbar:
			return "Samsung Soundbar"
		default:
			return "Samsung Device"
		}
	case "LG":
		switch deviceType {
		case ClassTV:
			return "LG Smart TV"
		case ClassAppliance:
			return "LG ThinQ Appliance"
		case ClassSoundbar:
			return "LG Soundbar"
		default:
			return "LG Device"
		}
	case "Sony":
		switch deviceType {
		case ClassTV:
			return "Sony Bravia TV"
		case ClassGaming:
			return "PlayStation"
		case ClassSoundbar:
			return "Sony Soundbar"
		default:
			return "Sony Device"
		}
	case "Apple":
		switch deviceType {
		case ClassPhone:
			return "iPhone"
		case ClassTV:
			return "Apple TV"
		case ClassComputer:
			return "Mac"
		default:
			return "Apple Device"
		}
	case "Microsoft":
		switch deviceType {
		case ClassGaming:
			return "Xbox"
		case ClassComputer:
			return "Surface"
		default:
			return "Microsoft Device"
		}
	case "Nintendo":
		if deviceType == ClassGaming {
			return "Nintendo Switch"
		}
		return "Nintendo Device"
	case "Google":
		switch deviceType {
		case ClassTV:
			return "Chromecast"
		case ClassPhone:
			return "Google Pixel"
		default:
			return "Google Device"
		}
	case "Amazon":
		if deviceType == ClassTV {
			return "Fire TV"
		}
		return "Amazon Device"
	case "HP":
		switch deviceType {
		case ClassPrinter:
			return "HP Printer"
		case ClassComputer:
			return "HP Computer"
		default:
			return "HP Device"
		}
	case "Huawei":
		switch deviceType {
		case ClassPhone:
			return "Huawei Phone"
		case ClassGateway:
			return "Huawei Router"
		default:
			return "Huawei Device"
		}
	case "Belkin":
		switch deviceType {
		case ClassAppliance:
			return "WeMo Smart Plug"
		case ClassGateway:
			return "Belkin Router"
		default:
			return "WeMo Device"
		}
	case "":
		return ""
	default:
		return ""
	}
}

// ModelEvidence is the scan-derived context for NetworkInferred model
// candidates.
type ModelEvidence struct {
	HasSSDP   bool
	HasMDNS   bool
	OpenPorts []int
}

// CharacterizeModel picks the best model candidate in lattice order:
// the user override, the normalized SSDP-reported model, hostname
// conventions, MAC-with-context inference, and the vendor+type fallback.
func CharacterizeModel(customModel, ssdpModel, hostname string, macs []string, vendor, deviceType string, ev ModelEvidence) model.Characterized[string] {
	ssdp := ""
	if ssdpModel != "" {
		ssdp = NormalizeModelName(ssdpModel, vendor)
		if ssdp == "" {
			ssdp = ssdpModel
		}
	}

	fromMAC := ""
	for _, mac := range macs {
		if m := modelFromMACWithContext(mac, ev.HasSSDP, ev.HasMDNS, len(ev.OpenPorts) > 0, ev.OpenPorts); m != "" {
			fromMAC = m
			break
		}
	}

	return model.Characterize(
		candidate(customModel, model.SourceUserSet),
		candidate(ssdp, model.SourceDeviceReported),
		candidate(modelFromHostname(hostname), model.SourcePatternMatched),
		candidate(fromMAC, model.SourceNetworkInferred),
		candidate(modelFromVendorAndType(vendor, deviceType), model.SourcePatternMatched),
	)
}
