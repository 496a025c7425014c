package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/model"
)

type staticServices map[string][]string

func (s staticServices) ServicesFor(ip string) []string { return s[ip] }

func testEngine(services staticServices) *Engine {
	clk := clock.NewMockClock(time.Unix(1700000000, 0))
	gw := NewGatewayCache(clk)
	gw.runCommand = func(name string, args ...string) (string, error) {
		return "default via 192.168.1.1 dev eth0 proto dhcp metric 100\n", nil
	}
	return NewEngine([]string{"192.168.1.0/24", "fd00::/64"}, gw, services)
}

func TestClassifyEndpoint_Gateway(t *testing.T) {
	e := testEngine(nil)
	assert.Equal(t, ClassGateway, e.ClassifyEndpoint("192.168.1.1", ""))
	assert.Equal(t, ClassGateway, e.ClassifyEndpoint("10.0.0.1", ""), "common router literal")
	assert.Equal(t, ClassGateway, e.ClassifyEndpoint("192.168.1.77", "openwrt-router"))
	assert.Equal(t, ClassGateway, e.ClassifyEndpoint("192.168.1.78", "udm-pro"))
}

func TestClassifyEndpoint_Internet(t *testing.T) {
	e := testEngine(nil)
	assert.Equal(t, ClassInternet, e.ClassifyEndpoint("93.184.216.34", ""))
	assert.Equal(t, ClassInternet, e.ClassifyEndpoint("", "cdn.example.com"))
}

func TestClassifyEndpoint_LocalNone(t *testing.T) {
	e := testEngine(nil)
	assert.Equal(t, "", e.ClassifyEndpoint("192.168.1.50", "my-laptop"))
	// ISP suffix on a local IP stays local.
	assert.Equal(t, "", e.ClassifyEndpoint("192.168.1.50", "host.attlocal.net"))
	// Hostname without a dot is not internet.
	assert.Equal(t, "", e.ClassifyEndpoint("", "my-laptop"))
}

func TestClassifyEndpoint_Idempotent(t *testing.T) {
	e := testEngine(nil)
	first := e.ClassifyEndpoint("192.168.1.1", "router")
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, e.ClassifyEndpoint("192.168.1.1", "router"))
	}
}

func TestGatewayCache_ParsersAndTTL(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1700000000, 0))
	gw := NewGatewayCache(clk)
	calls := 0
	gw.runCommand = func(name string, args ...string) (string, error) {
		calls++
		return "default via 10.1.2.3 dev wlan0\n", nil
	}

	assert.Equal(t, "10.1.2.3", gw.Gateway())
	assert.Equal(t, "10.1.2.3", gw.Gateway())
	assert.Equal(t, 1, calls, "second read served from cache")

	clk.Advance(61 * time.Second)
	assert.Equal(t, "10.1.2.3", gw.Gateway())
	assert.Equal(t, 2, calls, "expired cache refreshes")
}

func TestGatewayCache_RouteNFallback(t *testing.T) {
	out := "Kernel IP routing table\n" +
		"Destination     Gateway         Genmask         Flags\n" +
		"0.0.0.0         192.168.0.254   0.0.0.0         UG\n"
	assert.Equal(t, "192.168.0.254", parseRouteN(out))
	assert.Equal(t, "", parseIPRouteDefault("\n"))
}

func TestClassifyDeviceType_ModelRules(t *testing.T) {
	e := testEngine(nil)

	// Soundbar model prefixes beat TV model rules; the order is normative.
	assert.Equal(t, ClassSoundbar, e.ClassifyDeviceType("", nil, nil, nil, "HW-MS750"))
	assert.Equal(t, ClassTV, e.ClassifyDeviceType("", nil, nil, nil, "QN43LS03TAFXZA"))
	assert.Equal(t, ClassTV, e.ClassifyDeviceType("", nil, nil, nil, "OLED55C3PUA"))
	assert.Equal(t, ClassTV, e.ClassifyDeviceType("", nil, nil, nil, "7105X"))
}

func TestClassifyDeviceType_HostnameRules(t *testing.T) {
	e := testEngine(nil)

	assert.Equal(t, ClassPrinter, e.ClassifyDeviceType("hp-laserjet-pro", nil, nil, nil, ""))
	assert.Equal(t, ClassPhone, e.ClassifyDeviceType("JoesiPhone", nil, nil, nil, ""))
	assert.Equal(t, ClassGaming, e.ClassifyDeviceType("PS5-1A2B", nil, nil, nil, ""))
	assert.Equal(t, ClassTV, e.ClassifyDeviceType("chromecast-living-room", nil, nil, nil, ""))
	assert.Equal(t, ClassVirtualization, e.ClassifyDeviceType("esxi-host1", nil, nil, nil, ""))
	assert.Equal(t, ClassAppliance, e.ClassifyDeviceType("ldf7774st", nil, nil, nil, ""))
	assert.Equal(t, ClassAppliance, e.ClassifyDeviceType("wm3900hwa", nil, nil, nil, ""))
	assert.Equal(t, "", e.ClassifyDeviceType("my-laptop", nil, nil, nil, ""))
}

func TestClassifyDeviceType_RokuSerialHostname(t *testing.T) {
	e := testEngine(nil)
	// Both the 10-char and the 12-char serial shapes match.
	assert.Equal(t, ClassTV, e.ClassifyDeviceType("YN00NJ468680", nil, nil, nil, ""))
	assert.Equal(t, ClassTV, e.ClassifyDeviceType("BR23AM1691", nil, nil, nil, ""))
	assert.False(t, isRokuSerialNumber("YN00NJ46868"), "11 chars is invalid")
	assert.False(t, isRokuSerialNumber("1N00NJ468680"), "first char must be a letter")
}

func TestClassifyDeviceType_Services(t *testing.T) {
	e := testEngine(staticServices{
		"192.168.1.40": {"_ipp._tcp"},
		"192.168.1.41": {"_googlecast._tcp"},
		"192.168.1.42": {"_companion-link._tcp"},
		"192.168.1.43": {"_hap._tcp"},
	})

	assert.Equal(t, ClassPrinter, e.ClassifyDeviceType("", []string{"192.168.1.40"}, nil, nil, ""))
	assert.Equal(t, ClassTV, e.ClassifyDeviceType("", []string{"192.168.1.41"}, nil, nil, ""))
	assert.Equal(t, ClassPhone, e.ClassifyDeviceType("", []string{"192.168.1.42"}, nil, nil, ""))
	assert.Equal(t, ClassAppliance, e.ClassifyDeviceType("", []string{"192.168.1.43"}, nil, nil, ""))

	// Mac hostnames veto the companion-link phone rule.
	assert.NotEqual(t, ClassPhone, e.ClassifyDeviceType("Joes-MacBook-Pro", []string{"192.168.1.42"}, nil, nil, ""))
}

func TestClassifyDeviceType_AppleMACPhoneHeuristic(t *testing.T) {
	// Apple OUI from the embedded registry.
	appleMAC := []string{"a4:c3:61:00:11:22"}

	e := testEngine(nil)
	assert.Equal(t, ClassPhone, e.ClassifyDeviceType("", []string{"192.168.1.60"}, nil, appleMAC, ""))

	// Desktop-sharing services veto the phone heuristic.
	withDesktop := testEngine(staticServices{"192.168.1.60": {"_smb._tcp"}})
	assert.NotEqual(t, ClassPhone, withDesktop.ClassifyDeviceType("", []string{"192.168.1.60"}, nil, appleMAC, ""))
}

func TestClassifyDeviceType_Ports(t *testing.T) {
	e := testEngine(nil)

	// Remote access + file sharing = computer.
	assert.Equal(t, ClassComputer, e.ClassifyDeviceType("", nil, []int{3389, 445}, nil, ""))
	assert.Equal(t, ClassComputer, e.ClassifyDeviceType("", nil, []int{22, 139}, nil, ""))
	// SSH alone is not enough.
	assert.NotEqual(t, ClassComputer, e.ClassifyDeviceType("", nil, []int{22}, nil, ""))

	assert.Equal(t, ClassPrinter, e.ClassifyDeviceType("", nil, []int{9100}, nil, ""))
	assert.Equal(t, ClassGaming, e.ClassifyDeviceType("", nil, []int{9295}, nil, ""))
	assert.Equal(t, ClassTV, e.ClassifyDeviceType("", nil, []int{8009}, nil, ""))
	assert.Equal(t, ClassVirtualization, e.ClassifyDeviceType("", nil, []int{8006}, nil, ""))
	assert.Equal(t, "", e.ClassifyDeviceType("", nil, []int{80}, nil, ""))
}

func TestCharacterizeVendor_Lattice(t *testing.T) {
	// User override beats everything.
	got := CharacterizeVendor("Custom Corp", []string{"a4:c3:61:00:11:22"}, "iphone-of-joe", "")
	assert.Equal(t, "Custom Corp", got.Value)
	assert.Equal(t, model.SourceUserSet, got.Source)

	// OUI beats hostname patterns.
	got = CharacterizeVendor("", []string{"a4:c3:61:00:11:22"}, "galaxy-s21", "")
	assert.Equal(t, "Apple", got.Value)
	assert.Equal(t, model.SourceNetworkInferred, got.Source)

	// Hostname pattern when nothing else resolves.
	got = CharacterizeVendor("", nil, "galaxy-s21", "")
	assert.Equal(t, "Samsung", got.Value)
	assert.Equal(t, model.SourcePatternMatched, got.Source)

	// SmartThings MAC prefixes map to the parent company.
	got = CharacterizeVendor("", []string{"70:2c:1f:aa:bb:cc"}, "", "")
	assert.Equal(t, "Samsung", got.Value)

	// Nothing matches.
	got = CharacterizeVendor("", nil, "", "")
	assert.Equal(t, model.SourceNone, got.Source)
}

func TestNormalizeModelName(t *testing.T) {
	tests := []struct {
		rawModel string
		vendor   string
		want     string
	}{
		{"QN43LS03TAFXZA", "", "Samsung The Frame"},
		{"HW-MS750", "", "Samsung Soundbar MS750"},
		{"OLED55C3PUA", "", "LG OLED"},
		{"WAM7500", "", "Samsung Wireless Speaker 7500"},
		{"SL8YG", "", "LG Soundbar SL8YG"},
		{"AVR-S940H", "", "Denon AVR S940H"},
		{"7105X", "", "Roku TV"},
		{"unremarkable", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.rawModel, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeModelName(tt.rawModel, tt.vendor))
		})
	}
}

func TestCharacterizeModel_Lattice(t *testing.T) {
	// Scenario: hostname YN00NJ468680, no model -> "Roku TV", PatternMatched.
	got := CharacterizeModel("", "", "YN00NJ468680", nil, "", "", ModelEvidence{})
	assert.Equal(t, "Roku TV", got.Value)
	assert.Equal(t, model.SourcePatternMatched, got.Source)

	// SSDP-reported model beats hostname patterns.
	got = CharacterizeModel("", "QN43LS03TAFXZA", "YN00NJ468680", nil, "Samsung", ClassTV, ModelEvidence{})
	assert.Equal(t, "Samsung The Frame", got.Value)
	assert.Equal(t, model.SourceDeviceReported, got.Source)

	// User-set model beats SSDP.
	got = CharacterizeModel("Living Room TV", "QN43LS03TAFXZA", "", nil, "Samsung", ClassTV, ModelEvidence{})
	assert.Equal(t, "Living Room TV", got.Value)
	assert.Equal(t, model.SourceUserSet, got.Source)

	// Vendor+type fallback.
	got = CharacterizeModel("", "", "", nil, "Samsung", ClassTV, ModelEvidence{})
	assert.Equal(t, "Samsung Smart TV", got.Value)
	assert.Equal(t, model.SourcePatternMatched, got.Source)
}

func TestCharacterizeModel_AmazonContext(t *testing.T) {
	amazonMAC := []string{"38:d4:d4:00:11:22"}

	// Amazon + port 5555 -> Fire TV.
	got := CharacterizeModel("", "", "", amazonMAC, "", "", ModelEvidence{OpenPorts: []int{5555}})
	assert.Equal(t, "Amazon Fire TV", got.Value)
	assert.Equal(t, model.SourceNetworkInferred, got.Source)

	// Amazon + no SSDP + no mDNS + no open ports -> Echo.
	got = CharacterizeModel("", "", "", amazonMAC, "", "", ModelEvidence{})
	assert.Equal(t, "Amazon Echo", got.Value)
}

func TestModelFromHostname(t *testing.T) {
	assert.Equal(t, "Ultra", modelFromHostname("Roku-Ultra-ABC"))
	assert.Equal(t, "PlayStation 5", modelFromHostname("PS5-123"))
	assert.Equal(t, "Xbox Series X", modelFromHostname("Xbox-Series-X"))
	assert.Equal(t, "MacBook Pro", modelFromHostname("Joes-MacBook-Pro"))
	assert.Equal(t, "", modelFromHostname("my-laptop"))
}

func TestCharacterizeModel_SourceIsMaxOfNonEmpty(t *testing.T) {
	// Property: the returned source is the maximum DataSource among inputs
	// that produce a non-empty value.
	inputs := []struct {
		custom, ssdp, hostname string
		macs                   []string
		vendor, deviceType     string
		wantSource             model.DataSource
	}{
		{"x", "y", "PS5", []string{"38:d4:d4:00:11:22"}, "Samsung", ClassTV, model.SourceUserSet},
		{"", "QN43LS03TAFXZA", "PS5", nil, "", "", model.SourceDeviceReported},
		{"", "", "PS5", []string{"38:d4:d4:00:11:22"}, "", "", model.SourceNetworkInferred},
		{"", "", "PS5", nil, "", "", model.SourcePatternMatched},
		{"", "", "", nil, "", "", model.SourceNone},
	}
	for _, tt := range inputs {
		got := CharacterizeModel(tt.custom, tt.ssdp, tt.hostname, tt.macs, tt.vendor, tt.deviceType, ModelEvidence{})
		assert.Equal(t, tt.wantSource, got.Source)
	}
}

func TestVendorForMACRequiresRegistry(t *testing.T) {
	require.NotPanics(t, func() { vendorForMAC("00:00:00:00:00:00") })
}
