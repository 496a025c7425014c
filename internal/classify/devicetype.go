package classify

import (
	"strings"
)

// ClassifyDeviceType infers the device class from hostname, mDNS services,
// MAC vendors, the SSDP model, and open ports, first match wins. It returns
// "" when nothing matches.
func (e *Engine) ClassifyDeviceType(hostname string, ips []string, ports []int, macs []string, model string) string {
	lower := strings.ToLower(hostname)

	// SSDP/UPnP model first: soundbar prefixes before TV models, the order
	// matters for Samsung Frame vs soundbar collisions.
	if model != "" {
		if isSoundbarModel(model) {
			return ClassSoundbar
		}
		if isTVModel(model) {
			return ClassTV
		}
	}

	// LG ThinQ appliances advertise AirPlay but are not TVs.
	if lower != "" && isLGAppliance(lower) {
		return ClassAppliance
	}

	// Hostname patterns beat mDNS services: they are the most reliable
	// signal for user-named devices.
	if lower != "" {
		switch {
		case isPrinterHostname(lower):
			return ClassPrinter
		case isPhoneHostname(lower):
			return ClassPhone
		case isGamingHostname(lower):
			return ClassGaming
		case isTVHostname(lower):
			return ClassTV
		case isVMHostname(lower):
			return ClassVirtualization
		case isSoundbarHostname(lower):
			return ClassSoundbar
		case isApplianceHostname(lower):
			return ClassAppliance
		}
	}

	// mDNS service advertisements across all of the endpoint's IPs.
	for _, ip := range ips {
		if class := classifyByServices(e.servicesFor(ip), lower); class != "" {
			return class
		}
	}

	// MAC OUI vendor groups.
	if matchesVendorGroup(macs, gatewayVendors) {
		return ClassGateway
	}
	if e.isPhoneMAC(macs, ips, lower) {
		return ClassPhone
	}
	if matchesVendorGroup(macs, gamingVendors) {
		return ClassGaming
	}
	if matchesVendorGroup(macs, tvVendors) {
		return ClassTV
	}
	if isApplianceMAC(macs) {
		return ClassAppliance
	}

	// Port combination: remote access AND file sharing means a computer.
	if isComputerByPorts(ports) {
		return ClassComputer
	}

	// Single-port fallbacks.
	for _, port := range ports {
		if class := classifyByPort(port); class != "" {
			return class
		}
	}

	return ""
}

func matchesPattern(hostname string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(hostname, p) {
			return true
		}
	}
	return false
}

func matchesPrefix(hostname string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(hostname, p) {
			return true
		}
	}
	return false
}

func isPrinterHostname(hostname string) bool {
	return matchesPattern(hostname, printerPatterns) || matchesPrefix(hostname, printerPrefixes)
}

func isPhoneHostname(hostname string) bool {
	if matchesPattern(hostname, phonePatterns) || matchesPrefix(hostname, phonePrefixes) {
		return true
	}
	for _, c := range phoneConditional {
		if strings.Contains(hostname, c[0]) && !strings.Contains(hostname, c[1]) {
			return true
		}
	}
	// android but not androidtv
	if strings.Contains(hostname, "android") && !strings.Contains(hostname, "androidtv") && !strings.Contains(hostname, "tv") {
		return true
	}
	if strings.Contains(hostname, "asus") && (strings.Contains(hostname, "phone") || strings.Contains(hostname, "zenfone")) {
		return true
	}
	return false
}

func isGamingHostname(hostname string) bool {
	return matchesPattern(hostname, gamingPatterns)
}

func isTVHostname(hostname string) bool {
	if matchesPattern(hostname, tvPatterns) || matchesPrefix(hostname, tvPrefixes) {
		return true
	}
	return isRokuSerialNumber(strings.ToUpper(hostname))
}

func isVMHostname(hostname string) bool {
	return matchesPattern(hostname, vmPatterns) ||
		strings.HasPrefix(hostname, "vm-") || strings.HasSuffix(hostname, "-vm")
}

func isSoundbarHostname(hostname string) bool {
	if matchesPattern(hostname, soundbarPatterns) {
		return true
	}
	if strings.Contains(hostname, "arc") && (strings.Contains(hostname, "sonos") || strings.Contains(hostname, "sound")) {
		return true
	}
	for _, brand := range []string{"yamaha", "samsung", "lg", "vizio"} {
		if strings.Contains(hostname, brand) && strings.Contains(hostname, "sound") {
			return true
		}
	}
	if strings.Contains(hostname, "jbl") && strings.Contains(hostname, "bar") {
		return true
	}
	return false
}

func isApplianceHostname(hostname string) bool {
	if matchesPattern(hostname, appliancePatterns) {
		return true
	}
	if strings.Contains(hostname, "whirlpool") && !strings.Contains(hostname, "router") {
		return true
	}
	if strings.Contains(hostname, "ge-") && strings.Contains(hostname, "appliance") {
		return true
	}
	if strings.Contains(hostname, "bosch") && (strings.Contains(hostname, "wash") || strings.Contains(hostname, "dish")) {
		return true
	}
	return false
}

func isLGAppliance(hostname string) bool {
	if matchesPrefix(hostname, lgAppliancePrefixes) {
		return true
	}
	// WM with a digit third character is an LG washer model.
	if strings.HasPrefix(hostname, "wm") && len(hostname) > 2 && hostname[2] >= '0' && hostname[2] <= '9' {
		return true
	}
	return false
}

func isSoundbarModel(model string) bool {
	lower := strings.ToLower(model)
	if matchesPrefix(lower, soundbarModelPrefixes) {
		return true
	}
	// LG soundbars: SL/SN/SP followed by a digit.
	if len(lower) > 2 && (strings.HasPrefix(lower, "sl") || strings.HasPrefix(lower, "sn") || strings.HasPrefix(lower, "sp")) &&
		lower[2] >= '0' && lower[2] <= '9' {
		return true
	}
	if strings.HasPrefix(lower, "bar-") || strings.HasPrefix(lower, "bar ") {
		return true
	}
	return false
}

func isTVModel(model string) bool {
	upper := strings.ToUpper(model)
	lower := strings.ToLower(model)

	// Samsung: QN/UN/UA panels, plus the Frame/Serif LS series.
	if strings.HasPrefix(upper, "QN") || strings.HasPrefix(upper, "UN") || strings.HasPrefix(upper, "UA") {
		return true
	}
	if strings.Contains(upper, "LS03") || strings.Contains(upper, "LS01") {
		return true
	}
	// LG
	if strings.HasPrefix(upper, "OLED") || strings.HasPrefix(upper, "NANO") {
		return true
	}
	// Sony
	if strings.Contains(lower, "bravia") || strings.HasPrefix(upper, "XR") || strings.HasPrefix(upper, "KD-") {
		return true
	}
	// Vizio
	if strings.Contains(lower, "vizio") {
		return true
	}
	// Roku TV platform identifiers and serials.
	if isRokuTVModel(upper) {
		return true
	}
	if strings.Contains(lower, "the frame") || strings.Contains(lower, "samsung tv") {
		return true
	}
	return false
}

// isRokuSerialNumber matches Roku serials: 2 letters + 2 digits + 2 letters
// + 4 or 6 digits (10 or 12 chars total).
func isRokuSerialNumber(s string) bool {
	if len(s) != 10 && len(s) != 12 {
		return false
	}
	isLetter := func(c byte) bool {
		return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
	}
	isDigit := func(c byte) bool { return c >= '0' && c <= '9' }

	if !isLetter(s[0]) || !isLetter(s[1]) || !isDigit(s[2]) || !isDigit(s[3]) || !isLetter(s[4]) || !isLetter(s[5]) {
		return false
	}
	for i := 6; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// isRokuTVModel matches 4-digit Roku TV platform identifiers (7105X, 6500X)
// and Roku serials used as model strings.
func isRokuTVModel(model string) bool {
	upper := strings.ToUpper(model)
	if len(upper) == 4 || len(upper) == 5 {
		digits := true
		for i := 0; i < 4; i++ {
			if upper[i] < '0' || upper[i] > '9' {
				digits = false
				break
			}
		}
		if digits && (len(upper) == 4 || upper[4] == 'X') && upper[0] >= '3' {
			return true
		}
	}
	return isRokuSerialNumber(upper)
}

func classifyByServices(services []string, hostname string) string {
	for _, svc := range services {
		if containsString(applianceServices, svc) {
			return ClassAppliance
		}
		if containsString(phoneServices, svc) {
			// Macs also advertise _companion-link.
			if isMacComputerHostname(hostname) {
				continue
			}
			return ClassPhone
		}
		if containsString(soundbarServices, svc) {
			return ClassSoundbar
		}
		if containsString(printerServices, svc) {
			return ClassPrinter
		}
		if containsString(tvServices, svc) {
			return ClassTV
		}
	}
	return ""
}

func isMacComputerHostname(hostname string) bool {
	return matchesPattern(hostname, macComputerPatterns)
}

// isPhoneMAC: Apple devices without desktop-sharing mDNS services and
// without a Mac-like hostname are likely iPhones/iPads.
func (e *Engine) isPhoneMAC(macs, ips []string, hostname string) bool {
	if !matchesVendorGroup(macs, []string{"Apple"}) {
		return false
	}
	if hostname != "" && isMacComputerHostname(hostname) {
		return false
	}
	for _, ip := range ips {
		for _, svc := range e.servicesFor(ip) {
			if containsString(macDesktopServices, svc) {
				return false
			}
		}
	}
	return true
}

func isApplianceMAC(macs []string) bool {
	if matchesVendorGroup(macs, applianceVendors) {
		return true
	}
	for _, mac := range macs {
		lower := strings.ToLower(mac)
		if strings.HasPrefix(lower, "70:2c:1f") || strings.HasPrefix(lower, "28:6d:97") {
			return true
		}
	}
	return false
}

func isComputerByPorts(ports []int) bool {
	hasRemoteAccess := containsInt(ports, 3389) || containsInt(ports, 5900) || containsInt(ports, 22)
	hasFileSharing := containsInt(ports, 445) || containsInt(ports, 548) || containsInt(ports, 139)
	return hasRemoteAccess && hasFileSharing
}

func classifyByPort(port int) string {
	switch {
	case port == 9100 || port == 631 || port == 515:
		return ClassPrinter
	case port >= 9295 && port <= 9297: // PlayStation Remote Play
		return ClassGaming
	case port >= 3478 && port <= 3480: // PlayStation Network
		return ClassGaming
	case port == 3074: // Xbox Live
		return ClassGaming
	case port == 8008 || port == 8009: // Chromecast
		return ClassTV
	case port >= 7000 && port <= 7001, port == 8001 || port == 8002: // AirPlay, Samsung TV
		return ClassTV
	case port == 3000 || port == 3001: // LG WebOS
		return ClassTV
	case port == 6466 || port == 6467: // Roku
		return ClassTV
	case port == 902 || port == 903: // VMware ESXi
		return ClassVirtualization
	case port == 8006: // Proxmox
		return ClassVirtualization
	case port == 2179: // Hyper-V
		return ClassVirtualization
	case port == 2375 || port == 2376: // Docker API
		return ClassVirtualization
	case port == 6443 || port == 10250: // Kubernetes
		return ClassVirtualization
	case port == 9000: // Portainer
		return ClassVirtualization
	default:
		return ""
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
