package scan

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"
)

// snmpScanner issues SNMPv2c GETs for the system group over UDP/161, trying
// each community string in order, and keeps responses that carried at least
// sysDescr or sysName.
type snmpScanner struct{}

func (s *snmpScanner) Type() Type        { return TypeSNMP }
func (s *snmpScanner) RequiresRaw() bool { return false }

func (s *snmpScanner) Run(ctx context.Context, subnets []*net.IPNet, cfg Config, emit func(Result)) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	communities := cfg.Communities
	if len(communities) == 0 {
		communities = []string{"public", "private"}
	}

	sem := make(chan struct{}, 32)
	var wg sync.WaitGroup
	for _, subnet := range subnets {
		for _, host := range hostsIn(subnet) {
			if ctx.Err() != nil {
				wg.Wait()
				return
			}
			if host.To4() == nil {
				continue
			}
			wg.Add(1)
			go func(ip string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				if r, ok := querySNMP(ip, communities, timeout); ok {
					emit(r)
				}
			}(host.String())
		}
	}
	wg.Wait()
}

// querySNMP tries each community in order, returning on the first response
// carrying sysDescr or sysName.
func querySNMP(ip string, communities []string, timeout time.Duration) (Result, bool) {
	for _, community := range communities {
		info, rtt, ok := snmpGetSystem(ip, community, timeout)
		if !ok {
			continue
		}
		if info.SysDescr == "" && info.SysName == "" {
			continue
		}
		return Result{
			Type:           TypeSNMP,
			IP:             ip,
			ResponseTimeMS: rtt,
			SNMP:           info,
		}, true
	}
	return Result{}, false
}

func snmpGetSystem(ip, community string, timeout time.Duration) (*SNMPInfo, int64, bool) {
	client := &gosnmp.GoSNMP{
		Target:    ip,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   0,
	}
	if err := client.Connect(); err != nil {
		return nil, 0, false
	}
	defer client.Conn.Close()

	start := time.Now()
	result, err := client.Get([]string{oidSysDescr, oidSysObjectID, oidSysName, oidSysLocation})
	if err != nil || result.Error != gosnmp.NoError {
		return nil, 0, false
	}
	rtt := time.Since(start).Milliseconds()

	info := &SNMPInfo{Community: community}
	for _, v := range result.Variables {
		if v.Type == gosnmp.NoSuchObject || v.Type == gosnmp.NoSuchInstance {
			continue
		}
		switch normalizeOID(v.Name) {
		case oidSysDescr:
			info.SysDescr = octetString(v)
		case oidSysObjectID:
			if v.Type == gosnmp.ObjectIdentifier {
				if s, ok := v.Value.(string); ok {
					info.SysObjectID = s
				}
			}
		case oidSysName:
			info.SysName = octetString(v)
		case oidSysLocation:
			info.SysLocation = octetString(v)
		}
	}
	return info, rtt, true
}

func normalizeOID(oid string) string {
	if !strings.HasPrefix(oid, ".") {
		return "." + oid
	}
	return oid
}

func octetString(v gosnmp.SnmpPDU) string {
	if v.Type != gosnmp.OctetString {
		return ""
	}
	if b, ok := v.Value.([]byte); ok {
		return string(b)
	}
	return ""
}
