// Package model holds the persistent data types shared across the capture,
// store, scan, and classification layers: endpoints and their attributes,
// observed communications, internet destinations, scan evidence, and the
// DataSource priority lattice used to pick between competing values.
package model

import "time"

// DataSource ranks the provenance of a characterized value. Higher values
// win when multiple sources disagree; ties are broken by declaration order.
type DataSource int

const (
	// SourceNone means no candidate produced a value.
	SourceNone DataSource = iota
	// SourcePatternMatched is a value derived from a hostname/model pattern table.
	SourcePatternMatched
	// SourceNetworkInferred is a value derived from network evidence (OUI, scan results).
	SourceNetworkInferred
	// SourceDeviceReported is a value the device itself advertised (SSDP, mDNS).
	SourceDeviceReported
	// SourceUserSet is an explicit user override.
	SourceUserSet
)

func (d DataSource) String() string {
	switch d {
	case SourceUserSet:
		return "UserSet"
	case SourceDeviceReported:
		return "DeviceReported"
	case SourceNetworkInferred:
		return "NetworkInferred"
	case SourcePatternMatched:
		return "PatternMatched"
	default:
		return "None"
	}
}

// Characterized pairs a value with the source that produced it. The zero
// value (Source == SourceNone) represents "no candidate."
type Characterized[T any] struct {
	Value  T
	Source DataSource
}

// Characterize folds a list of candidates and returns the one with the
// highest-priority source. Ties resolve to the first candidate encountered
// (declaration order), matching the spec's evidence-priority lattice.
func Characterize[T any](candidates ...Characterized[T]) Characterized[T] {
	var best Characterized[T]
	for _, c := range candidates {
		if c.Source == SourceNone {
			continue
		}
		if c.Source > best.Source {
			best = c
		}
	}
	return best
}

// Endpoint is a stable identity for a physical device observed on a local network.
type Endpoint struct {
	ID        int64
	CreatedAt time.Time

	Name string // canonical display name; must be a valid display name or empty

	CustomName   string // user override
	CustomVendor string
	CustomModel  string

	ManualDeviceType string // user override
	AutoDeviceType   string // cached inference

	SSDPModel        string
	SSDPFriendlyName string
	NetBIOSName      string

	DHCPClientID    string
	DHCPVendorClass string
}

// EndpointAttribute is a (mac?, ip, hostname?, dhcp_client_id?, dhcp_vendor_class?)
// tuple attached to an endpoint, timestamped on first observation.
type EndpointAttribute struct {
	ID              int64
	EndpointID      int64
	MAC             string // normalized lowercase, colon-delimited; "" if absent
	IP              string
	Hostname        string // "" if absent
	DHCPClientID    string
	DHCPVendorClass string
	ObservedAt      time.Time
}

// IPHeaderProtocol is the transport-layer protocol label derived from the
// IP next-header/protocol field.
type IPHeaderProtocol string

const (
	ProtoTCP     IPHeaderProtocol = "Tcp"
	ProtoUDP     IPHeaderProtocol = "Udp"
	ProtoICMP    IPHeaderProtocol = "Icmp"
	ProtoICMPv6  IPHeaderProtocol = "Icmpv6"
	ProtoUnknown IPHeaderProtocol = "Unknown"
)

// Communication is a single observed flow record.
type Communication struct {
	ID            int64
	Interface     string
	SrcEndpointID *int64 // nil when the peer side is an internet destination
	DstEndpointID *int64
	ObservedAt    time.Time
	SrcPort       uint16
	DstPort       uint16
	IPVersion     int // 4 or 6
	HeaderProto   IPHeaderProtocol
	SubProtocol   string // "" if unknown
}

// InternetDestination is an external host aggregate keyed by hostname.
type InternetDestination struct {
	ID          int64
	Hostname    string
	FirstSeen   time.Time
	LastSeen    time.Time
	PacketCount int64
	BytesIn     int64
	BytesOut    int64
}

// OpenPort is scan-produced port evidence attached to an endpoint.
type OpenPort struct {
	ID          int64
	EndpointID  int64
	Port        int
	Protocol    string
	ServiceName string
	LastSeen    time.Time
}

// ScanResult is a single scan probe's evidence attached to an endpoint.
type ScanResult struct {
	ID              int64
	EndpointID      int64
	ScanType        string
	ScannedAt       time.Time
	ResponseTimeMS  int64
	Details         string // opaque JSON blob
}

// Settings is a key->value mapping persisted in the database.
type Settings struct {
	CleanupIntervalSeconds int64
	DataRetentionDays      int64
	UpdatedAt              time.Time
}

// DeviceControlState is the pairing-flow state for a device controller
// (Samsung/LG/Roku token handshakes). The concrete wire protocols are out
// of scope; only the storage and state machine live here.
type DeviceControlState string

const (
	DeviceControlConnecting       DeviceControlState = "Connecting"
	DeviceControlAwaitingApproval DeviceControlState = "AwaitingApproval"
	DeviceControlPaired          DeviceControlState = "Paired"
	DeviceControlTimeout         DeviceControlState = "Timeout"
	DeviceControlFailed          DeviceControlState = "Failed"
)

// DeviceControlToken is an opaque per-endpoint credential blob, written only
// once a pairing handshake reaches DeviceControlPaired.
type DeviceControlToken struct {
	EndpointID int64
	Controller string // "samsung", "lg", "lg_thinq", "roku"
	State      DeviceControlState
	Token      []byte
	UpdatedAt  time.Time
}
