// Package scan implements the active discovery side: a multi-phase
// orchestrator driving ARP, NDP, ICMP, TCP-connect, SSDP, NetBIOS, and SNMP
// scanners over the local subnets, with privilege gating, progress
// reporting, and cooperative cancellation.
package scan

import (
	"golang.org/x/sys/unix"
)

// Type names one scanner protocol.
type Type string

const (
	TypeARP     Type = "arp"
	TypeICMP    Type = "icmp"
	TypeNDP     Type = "ndp"
	TypePort    Type = "port"
	TypeSSDP    Type = "ssdp"
	TypeNetBIOS Type = "netbios"
	TypeSNMP    Type = "snmp"
)

// Capabilities reports which scan types the process privileges allow.
type Capabilities struct {
	CanARP     bool `json:"can_arp"`
	CanICMP    bool `json:"can_icmp"`
	CanNDP     bool `json:"can_ndp"`
	CanPort    bool `json:"can_port"`
	CanSSDP    bool `json:"can_ssdp"`
	CanNetBIOS bool `json:"can_netbios"`
	CanSNMP    bool `json:"can_snmp"`
}

// CheckPrivileges probes for raw-socket access once and derives the
// capability set. ARP, ICMP, and NDP need raw sockets; the connect- and
// UDP-based scanners always work.
func CheckPrivileges() Capabilities {
	raw := rawSocketAvailable()
	return Capabilities{
		CanARP:     raw,
		CanICMP:    raw,
		CanNDP:     raw,
		CanPort:    true,
		CanSSDP:    true,
		CanNetBIOS: true,
		CanSNMP:    true,
	}
}

// rawSocketAvailable tests raw-socket creation, the same probe pro-bing
// recommends for deciding privileged vs unprivileged pings.
func rawSocketAvailable() bool {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}

// SNMPInfo carries the system-group values an SNMP probe returned.
type SNMPInfo struct {
	SysDescr    string `json:"sys_descr,omitempty"`
	SysObjectID string `json:"sys_object_id,omitempty"`
	SysName     string `json:"sys_name,omitempty"`
	SysLocation string `json:"sys_location,omitempty"`
	Community   string `json:"community"`
}

// Result is the union of every scanner's per-host evidence.
type Result struct {
	Type           Type
	IP             string
	MAC            string
	ResponseTimeMS int64

	TTL int // ICMP reply TTL

	Port        int // open port, when Type == TypePort
	ServiceName string

	Location string // SSDP description URL
	Server   string // SSDP SERVER header

	NetBIOSName string
	Workgroup   string

	SNMP *SNMPInfo
}
