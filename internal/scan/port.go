package scan

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// portServiceNames maps well-known ports to service labels.
var portServiceNames = map[uint16]string{
	21:    "FTP",
	22:    "SSH",
	23:    "Telnet",
	25:    "SMTP",
	53:    "DNS",
	80:    "HTTP",
	443:   "HTTPS",
	445:   "SMB",
	3306:  "MySQL",
	3389:  "RDP",
	5353:  "mDNS",
	5432:  "PostgreSQL",
	5900:  "VNC",
	6379:  "Redis",
	8080:  "HTTP-Alt",
	8443:  "HTTPS-Alt",
	9100:  "Printer",
	27017: "MongoDB",
}

// ServiceNameForPort maps a well-known port to its label, or "".
func ServiceNameForPort(port uint16) string {
	return portServiceNames[port]
}

// portScanner attempts a bounded TCP connect for every (ip, port) pair in
// the target product, with a concurrency semaphore.
type portScanner struct{}

func (p *portScanner) Type() Type        { return TypePort }
func (p *portScanner) RequiresRaw() bool { return false }

func (p *portScanner) Run(ctx context.Context, subnets []*net.IPNet, cfg Config, emit func(Result)) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	ports := cfg.Ports
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	concurrency := cfg.TCPConcurrency
	if concurrency <= 0 {
		concurrency = 100
	}
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	for _, subnet := range subnets {
		for _, host := range hostsIn(subnet) {
			for _, port := range ports {
				if ctx.Err() != nil {
					wg.Wait()
					return
				}
				wg.Add(1)
				go func(ip string, port uint16) {
					defer wg.Done()
					sem <- struct{}{}
					defer func() { <-sem }()

					start := time.Now()
					if !connectOnce(ctx, ip, port, timeout) {
						return
					}
					emit(Result{
						Type:           TypePort,
						IP:             ip,
						Port:           int(port),
						ServiceName:    ServiceNameForPort(port),
						ResponseTimeMS: time.Since(start).Milliseconds(),
					})
				}(host.String(), port)
			}
		}
	}
	wg.Wait()
}

func connectOnce(ctx context.Context, ip string, port uint16, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
