package scan

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// icmpScanner sends one echo request per target over a raw ICMPv4 socket,
// bounded by a concurrency semaphore.
type icmpScanner struct{}

func (i *icmpScanner) Type() Type        { return TypeICMP }
func (i *icmpScanner) RequiresRaw() bool { return true }

func (i *icmpScanner) Run(ctx context.Context, subnets []*net.IPNet, cfg Config, emit func(Result)) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond

	concurrency := cfg.ICMPConcurrency
	if concurrency <= 0 {
		concurrency = 50
	}
	sem := make(chan struct{}, concurrency)

	identifier := os.Getpid() & 0xffff

	var wg sync.WaitGroup
	sequence := 0
	for _, subnet := range subnets {
		for _, host := range hostsIn(subnet) {
			if ctx.Err() != nil {
				wg.Wait()
				return
			}
			seq := sequence % 65536
			sequence++

			wg.Add(1)
			go func(target net.IP, seq int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				r, ok := pingOnce(target, identifier, seq, timeout)
				if !ok {
					return
				}
				emit(r)
			}(host, seq)
		}
	}
	wg.Wait()
}

// pingOnce opens a raw ICMPv4 socket, sends an echo request (identifier =
// low 16 bits of the pid, per-target sequence), and waits for the echo
// reply, capturing the RTT and the reply's IP TTL.
func pingOnce(target net.IP, identifier, seq int, timeout time.Duration) (Result, bool) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return Result{}, false
	}
	defer conn.Close()

	p := conn.IPv4PacketConn()
	p.SetControlMessage(ipv4.FlagTTL, true)

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: identifier, Seq: seq},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return Result{}, false
	}

	start := time.Now()
	if _, err := conn.WriteTo(wire, &net.IPAddr{IP: target}); err != nil {
		return Result{}, false
	}

	buf := make([]byte, 1500)
	deadline := start.Add(timeout)
	for time.Now().Before(deadline) {
		p.SetReadDeadline(deadline)
		n, cm, peer, err := p.ReadFrom(buf)
		if err != nil {
			return Result{}, false
		}

		reply, err := icmp.ParseMessage(1, buf[:n])
		if err != nil {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if reply.Type != ipv4.ICMPTypeEchoReply || !ok || echo.ID != identifier || echo.Seq != seq {
			continue
		}
		if ipAddr, ok := peer.(*net.IPAddr); !ok || !ipAddr.IP.Equal(target) {
			continue
		}

		ttl := 0
		if cm != nil {
			ttl = cm.TTL
		}
		return Result{
			Type:           TypeICMP,
			IP:             target.String(),
			ResponseTimeMS: time.Since(start).Milliseconds(),
			TTL:            ttl,
		}, true
	}
	return Result{}, false
}
