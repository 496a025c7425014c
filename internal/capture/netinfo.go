package capture

import "net"

// LocalCIDRs enumerates the CIDR prefixes of all up, non-loopback
// interfaces. The store uses the result as its local-network membership
// set, computed once at startup.
func LocalCIDRs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			cidr := ipnet.String()
			if cidr == "0.0.0.0/0" || cidr == "::/0" {
				continue
			}
			out = append(out, cidr)
		}
	}
	return out, nil
}
