package classify

// Device-type labels.
const (
	ClassGateway        = "gateway"
	ClassInternet       = "internet"
	ClassPrinter        = "printer"
	ClassTV             = "tv"
	ClassGaming         = "gaming"
	ClassVirtualization = "virtualization"
	ClassSoundbar       = "soundbar"
	ClassAppliance      = "appliance"
	ClassPhone          = "phone"
	ClassComputer       = "computer"
)

// Hostname substring patterns per class.
var (
	printerPatterns = []string{
		"printer", "laserjet", "officejet", "deskjet", "envy",
		"pixma", "imageclass", "ecotank", "workforce", "stylus",
		"brother", "epson", "canon-", "lexmark", "kyocera", "xerox",
	}
	printerPrefixes = []string{"hp", "npi", "brn", "brw", "canon", "epson"}

	phonePatterns = []string{
		"iphone", "ipad", "pixel", "galaxy", "oneplus", "xiaomi",
		"huawei-p", "huawei-mate", "moto-g", "moto-e", "redmi", "oppo", "vivo-",
	}
	phonePrefixes = []string{"sm-g", "sm-s", "sm-a", "sm-n", "sm-f"}
	// pattern matches unless the exclusion also matches
	phoneConditional = [][2]string{
		{"phone", "headphone"},
		{"mobile", "mobileap"},
	}

	gamingPatterns = []string{
		"playstation", "ps4", "ps5", "xbox", "nintendo", "switch-console",
		"steamdeck", "steam-deck",
	}

	tvPatterns = []string{
		"appletv", "apple-tv", "chromecast", "googletv", "google-tv",
		"roku", "firetv", "fire-tv", "firestick", "shield-tv", "shieldtv",
		"bravia", "the-frame", "theframe", "samsung-tv", "samsungtv",
		"webos", "androidtv", "hisense-tv", "tcl-tv", "vizio",
	}
	tvPrefixes = []string{"tv-", "smarttv"}

	vmPatterns = []string{
		"esxi", "proxmox", "vcenter", "hyperv", "hyper-v", "virtualbox",
		"vmware", "qemu", "docker", "k8s-", "kube",
	}

	soundbarPatterns = []string{
		"soundbar", "sound-bar", "playbar", "beam", "sonos-arc", "bose-soundbar",
		"hw-q", "hw-ms", "hw-s",
	}

	appliancePatterns = []string{
		"thermostat", "ecobee", "nest-", "roomba", "irobot", "dishwasher",
		"washer", "dryer", "fridge", "refrigerator", "vacuum", "doorbell",
		"ring-", "wemo", "hue-", "smartthings", "tuya", "shelly", "tasmota",
	}

	// LG ThinQ appliance hostname prefixes; "wm<digit>" is handled in code.
	lgAppliancePrefixes = []string{"lma", "ldp", "ldf", "dlex", "lrm", "lmx", "lse", "lde", "ltq"}

	// Samsung soundbar / wireless-audio model prefixes; "sl"/"sn"/"sp" need a
	// following digit and are handled in code, like "bar-"/"bar ".
	soundbarModelPrefixes = []string{"hw-", "spk-", "wam", "sc9"}
)

// mDNS service -> classification. Order matters: more specific first.
var (
	applianceServices = []string{
		"_hap._tcp", "_homekit._tcp", "_smartthings._tcp", "_hue._tcp",
		"_wemo._tcp", "_matter._tcp", "_shelly._tcp",
	}
	phoneServices    = []string{"_companion-link._tcp"}
	soundbarServices = []string{"_sonos._tcp", "_spotify-connect._tcp"}
	printerServices  = []string{"_ipp._tcp", "_ipps._tcp", "_printer._tcp", "_pdl-datastream._tcp"}
	tvServices       = []string{"_googlecast._tcp", "_airplay._tcp", "_raop._tcp", "_roku-rcp._tcp"}

	// Services only desktop Macs advertise; their presence vetoes the
	// Apple-MAC-means-phone heuristic.
	macDesktopServices = []string{
		"_afpovertcp._tcp", "_smb._tcp", "_ssh._tcp", "_sftp-ssh._tcp",
		"_rfb._tcp", "_adisk._tcp",
	}
)

// Canonical vendor name -> class membership for OUI-based detection.
var (
	gatewayVendors = []string{
		"Commscope", "ARRIS", "Netgear", "Linksys", "Ubiquiti", "MikroTik",
		"Cisco", "Juniper", "Fortinet", "TP-Link", "ASUS", "D-Link",
		"Belkin", "ZyXEL", "Huawei", "eero",
	}
	gamingVendors    = []string{"Nintendo", "Sony Interactive"}
	tvVendors        = []string{"Roku", "Vizio", "TCL", "Hisense"}
	applianceVendors = []string{
		"Ecobee", "Nest", "Ring", "iRobot", "Philips Lighting", "Wyze",
		"Espressif", "Samjin", "Wisol",
	}
)

// Mac-computer hostname fragments; these never classify as phone.
var macComputerPatterns = []string{
	"macbook", "mac-book", "imac", "i-mac", "mac-mini", "macmini",
	"mac-pro", "macpro", "mac-studio", "macstudio",
}

// Router-keyword hostname patterns for the gateway classification.
var routerHostnamePatterns = []string{
	"router", "gateway", "-gw", ".gateway.", ".gw.", "firewall",
	"pfsense", "opnsense", "ubiquiti", "unifi", "edgerouter", "mikrotik",
	"linksys", "netgear",
}

var routerHostnamePrefixes = []string{
	"gw-", "gw.", "udm-", "udm.", "udmpro", "asus-rt", "rt-",
}

// Common router/gateway IP literals.
var commonRouterIPs = map[string]bool{
	"192.168.0.1":     true,
	"192.168.1.1":     true,
	"192.168.2.1":     true,
	"192.168.1.254":   true,
	"192.168.0.254":   true,
	"192.168.1.253":   true,
	"192.168.100.1":   true,
	"192.168.254.254": true,
	"10.0.0.1":        true,
	"10.0.1.1":        true,
	"10.1.1.1":        true,
	"10.10.1.1":       true,
	"172.16.0.1":      true,
	"172.16.1.1":      true,
}

// Local hostname suffixes that never indicate an internet host.
var localHostnameSuffixes = []string{
	".local", ".lan", ".home", ".internal", ".localdomain",
	".attlocal.net", ".home.arpa", ".mynetwork", ".homenet", ".router",
}

// Hostname substring/prefix -> vendor for PatternMatched vendor inference.
var hostnameVendorPatterns = []struct {
	Substr string
	Vendor string
}{
	{"iphone", "Apple"}, {"ipad", "Apple"}, {"macbook", "Apple"},
	{"imac", "Apple"}, {"appletv", "Apple"}, {"apple-tv", "Apple"},
	{"galaxy", "Samsung"}, {"samsung", "Samsung"}, {"sm-", "Samsung"},
	{"chromecast", "Google"}, {"pixel", "Google"}, {"nest-", "Google"},
	{"roku", "Roku"}, {"firetv", "Amazon"}, {"fire-tv", "Amazon"},
	{"kindle", "Amazon"}, {"echo-", "Amazon"},
	{"playstation", "Sony"}, {"ps4", "Sony"}, {"ps5", "Sony"}, {"bravia", "Sony"},
	{"xbox", "Microsoft"}, {"surface", "Microsoft"},
	{"nintendo", "Nintendo"},
	{"lg-", "LG"}, {"webos", "LG"},
	{"hp-", "HP"}, {"laserjet", "HP"}, {"officejet", "HP"},
	{"epson", "Epson"}, {"canon", "Canon"}, {"brother", "Brother"},
	{"sonos", "Sonos"},
	{"pfsense", "Netgate"}, {"unifi", "Ubiquiti"}, {"udm", "Ubiquiti"},
	{"mikrotik", "MikroTik"}, {"netgear", "Netgear"}, {"linksys", "Linksys"},
	{"asus", "ASUS"},
}

// TV/soundbar series tables for model normalization.
var samsungTVSeries = []struct {
	Pattern string // lowercase series prefix after panel type and size
	Name    string
}{
	{"ls03", "The Frame"},
	{"ls01", "The Serif"},
	{"ls05", "The Sero"},
	{"q9", "QLED Q9 Series"},
	{"q8", "QLED Q8 Series"},
	{"q7", "QLED Q7 Series"},
	{"q6", "QLED Q6 Series"},
	{"qn9", "Neo QLED 900 Series"},
	{"qn8", "Neo QLED 800 Series"},
	{"s9", "OLED S9 Series"},
	{"tu", "Crystal UHD TU Series"},
	{"au", "Crystal UHD AU Series"},
	{"cu", "Crystal UHD CU Series"},
	{"nu", "NU Series UHD"},
	{"ru", "RU Series UHD"},
}

var lgTVSeries = []struct {
	Pattern string
	Name    string
}{
	{"oled", "OLED"},
	{"nano", "NanoCell"},
	{"qned", "QNED"},
	{"ut", "UT Series UHD"},
	{"uq", "UQ Series UHD"},
	{"up", "UP Series UHD"},
}

var sonyTVSeries = []struct {
	Pattern string
	Name    string
}{
	{"a95", "Bravia A95 OLED"},
	{"a90", "Bravia A90 OLED"},
	{"a80", "Bravia A80 OLED"},
	{"x95", "Bravia X95"},
	{"x90", "Bravia X90"},
	{"x85", "Bravia X85"},
	{"x80", "Bravia X80"},
}
