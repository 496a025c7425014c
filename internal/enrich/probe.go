package enrich

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/discoveryd/engine/internal/logging"
	"github.com/discoveryd/engine/internal/model"
	"github.com/discoveryd/engine/internal/store"
)

const (
	probeTimeout     = 3 * time.Second
	descriptionLimit = 256 << 10 // device description XML cap
)

// Submitter is the writer surface probe results are pushed through; every
// database write stays on the single writer.
type Submitter interface {
	Submit(ctx context.Context, obs store.Observation) error
	SubmitScanResult(ctx context.Context, r store.ScanResultMsg) error
}

// Prober runs the on-demand hostname and model probes.
type Prober struct {
	daemon    *Daemon
	submitter Submitter
	logger    *logging.Logger

	httpClient *http.Client

	// lookupAddr is swappable for tests.
	lookupAddr func(ctx context.Context, ip string) ([]string, error)
}

// NewProber constructs a Prober backed by the daemon's caches.
func NewProber(daemon *Daemon, submitter Submitter, logger *logging.Logger) *Prober {
	if logger == nil {
		logger = logging.Default()
	}
	return &Prober{
		daemon:     daemon,
		submitter:  submitter,
		logger:     logger.WithComponent("probe"),
		httpClient: &http.Client{Timeout: probeTimeout},
		lookupAddr: func(ctx context.Context, ip string) ([]string, error) {
			var r net.Resolver
			return r.LookupAddr(ctx, ip)
		},
	}
}

// ProbeHostnameAsync launches a bounded-duration hostname lookup for ip and,
// on success, feeds the (ip, hostname) evidence back through the writer.
// Triggered when an endpoint is created or refreshed with a local IP but no
// valid display name.
func (p *Prober) ProbeHostnameAsync(ctx context.Context, ip string) {
	go func() {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		hostname := ""
		if p.daemon != nil {
			if h, ok := p.daemon.HostnameFor(ip); ok {
				hostname = h
			}
		}
		if hostname == "" {
			if names, err := p.lookupAddr(ctx, ip); err == nil && len(names) > 0 {
				hostname = strings.TrimSuffix(names[0], ".")
			}
		}
		if hostname == "" || hostname == ip || !model.IsValidDisplayName(hostname) {
			return
		}

		obs := store.Observation{
			Interface:  "probe",
			ObservedAt: time.Now().UTC(),
			Src:        store.Peer{IP: ip, Hostname: hostname},
		}
		if err := p.submitter.Submit(ctx, obs); err != nil {
			p.logger.Debug("hostname probe submit failed", "ip", ip, "error", err)
		}
	}()
}

// upnpDescription is the slice of a UPnP device description we keep.
type upnpDescription struct {
	XMLName xml.Name `xml:"root"`
	Device  struct {
		FriendlyName string `xml:"friendlyName"`
		ModelName    string `xml:"modelName"`
	} `xml:"device"`
}

// ProbeSSDPModel fetches an SSDP device-description URL and streams the
// reported model and friendly name to the writer for the endpoint at ip.
func (p *Prober) ProbeSSDPModel(ctx context.Context, ip, location string) {
	go func() {
		modelName, friendly, err := p.fetchDescription(ctx, location)
		if err != nil {
			p.logger.Debug("ssdp description fetch failed", "ip", ip, "location", location, "error", err)
			return
		}
		if modelName == "" && friendly == "" {
			return
		}
		msg := store.ScanResultMsg{
			Peer:             store.Peer{IP: ip},
			ScanType:         "ssdp-description",
			ScannedAt:        time.Now().UTC(),
			SSDPModel:        modelName,
			SSDPFriendlyName: friendly,
		}
		if err := p.submitter.SubmitScanResult(ctx, msg); err != nil {
			p.logger.Debug("ssdp model submit failed", "ip", ip, "error", err)
		}
	}()
}

func (p *Prober) fetchDescription(ctx context.Context, location string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("status %s", resp.Status)
	}

	var desc upnpDescription
	if err := xml.NewDecoder(io.LimitReader(resp.Body, descriptionLimit)).Decode(&desc); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(desc.Device.ModelName), strings.TrimSpace(desc.Device.FriendlyName), nil
}

// hpProductConfig matches HP's embedded web server product config document.
type hpProductConfig struct {
	MakeAndModel string `xml:"ProductInformation>MakeAndModel"`
}

// ProbeHPModel queries an HP printer's embedded web server for its
// make-and-model string.
func (p *Prober) ProbeHPModel(ctx context.Context, ip string) {
	go func() {
		url := fmt.Sprintf("http://%s/DevMgmt/ProductConfigDyn.xml", ip)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return
		}

		var cfg hpProductConfig
		if err := xml.NewDecoder(io.LimitReader(resp.Body, descriptionLimit)).Decode(&cfg); err != nil {
			return
		}
		makeAndModel := strings.TrimSpace(cfg.MakeAndModel)
		if makeAndModel == "" {
			return
		}

		msg := store.ScanResultMsg{
			Peer:      store.Peer{IP: ip},
			ScanType:  "hp-model",
			ScannedAt: time.Now().UTC(),
			SSDPModel: makeAndModel,
		}
		if err := p.submitter.SubmitScanResult(ctx, msg); err != nil {
			p.logger.Debug("hp model submit failed", "ip", ip, "error", err)
		}
	}()
}
