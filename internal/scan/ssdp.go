package scan

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/discoveryd/engine/internal/logging"
)

const (
	ssdpAddr = "239.255.255.250"
	ssdpPort = 1900
)

// ssdpSearchTargets are queried in order; devices answering either count.
var ssdpSearchTargets = []string{"ssdp:all", "upnp:rootdevice"}

// ssdpScanner multicasts M-SEARCH requests and parses the HTTP-over-UDP
// responses, keeping only responses whose LOCATION host parses as an IP.
type ssdpScanner struct{}

func (s *ssdpScanner) Type() Type        { return TypeSSDP }
func (s *ssdpScanner) RequiresRaw() bool { return false }

func (s *ssdpScanner) Run(ctx context.Context, _ []*net.IPNet, cfg Config, emit func(Result)) {
	logger := logging.WithComponent("scan.ssdp")

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		logger.Error("ssdp socket failed", "error", err)
		return
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.ParseIP(ssdpAddr), Port: ssdpPort}
	for _, target := range ssdpSearchTargets {
		msearch := fmt.Sprintf(
			"M-SEARCH * HTTP/1.1\r\nHOST: %s:%d\r\nMAN: \"ssdp:discover\"\r\nMX: 2\r\nST: %s\r\n\r\n",
			ssdpAddr, ssdpPort, target)
		if _, err := conn.WriteTo([]byte(msearch), dst); err != nil {
			logger.Debug("m-search write failed", "target", target, "error", err)
		}
	}

	start := time.Now()
	deadline := start.Add(timeout)
	seen := map[string]bool{}
	buf := make([]byte, 4096)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(deadline)
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}

		location, server, ok := parseSSDPResponse(buf[:n])
		if !ok {
			continue
		}
		ip, ok := ssdpHostIP(location)
		if !ok || seen[ip] {
			continue
		}
		seen[ip] = true
		emit(Result{
			Type:           TypeSSDP,
			IP:             ip,
			Location:       location,
			Server:         server,
			ResponseTimeMS: time.Since(start).Milliseconds(),
		})
	}
}

// parseSSDPResponse reads the HTTP-over-UDP response headers, requiring a
// LOCATION value.
func parseSSDPResponse(data []byte) (location, server string, ok bool) {
	reader := textproto.NewReader(bufio.NewReader(strings.NewReader(string(data))))
	statusLine, err := reader.ReadLine()
	if err != nil || !strings.HasPrefix(statusLine, "HTTP/") {
		return "", "", false
	}
	headers, err := reader.ReadMIMEHeader()
	if err != nil && len(headers) == 0 {
		return "", "", false
	}
	location = headers.Get("Location")
	if location == "" {
		return "", "", false
	}
	return location, headers.Get("Server"), true
}

// ssdpHostIP extracts the host from a LOCATION URL, requiring an IP literal.
func ssdpHostIP(location string) (string, bool) {
	u, err := url.Parse(location)
	if err != nil {
		return "", false
	}
	host := u.Hostname()
	if net.ParseIP(host) == nil {
		return "", false
	}
	return host, true
}
