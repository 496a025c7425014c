// Package engine wires the capture frontend, writer/store, enrichment
// daemons, scan orchestrator, and classification engine into one process
// and exposes them to outer layers (the HTTP/JSON API) through a single
// narrow surface.
package engine

import (
	"context"
	"fmt"

	"github.com/discoveryd/engine/internal/capture"
	"github.com/discoveryd/engine/internal/classify"
	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/config"
	"github.com/discoveryd/engine/internal/control"
	"github.com/discoveryd/engine/internal/decode"
	"github.com/discoveryd/engine/internal/enrich"
	"github.com/discoveryd/engine/internal/logging"
	"github.com/discoveryd/engine/internal/network"
	"github.com/discoveryd/engine/internal/scan"
	"github.com/discoveryd/engine/internal/store"
)

// Engine owns every long-lived component of the discovery daemon.
type Engine struct {
	cfg    *config.Config
	clk    clock.Clock
	logger *logging.Logger

	store      *store.Store
	daemon     *enrich.Daemon
	prober     *enrich.Prober
	capture    *capture.Service
	scanner    *scan.Orchestrator
	classifier *classify.Engine
	pairer     *control.Pairer
}

// New constructs and wires all components without starting any of them.
func New(cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.Default()
	}
	clk := &clock.RealClock{}

	network.InitOUI()

	cidrs, err := capture.LocalCIDRs()
	if err != nil {
		return nil, fmt.Errorf("enumerate local networks: %w", err)
	}
	logger.Info("local networks", "cidrs", cidrs)

	st, err := store.Open(cfg, clk, logger, cidrs)
	if err != nil {
		return nil, err
	}

	daemon := enrich.NewDaemon(cfg.Enrichment.MDNSServiceTypes, clk, logger)
	prober := enrich.NewProber(daemon, st, logger)
	st.SetNamelessHook(func(ip string) {
		prober.ProbeHostnameAsync(context.Background(), ip)
	})
	resolver := decode.NewResolver(clk, logger, daemon)
	cap := capture.New(st, resolver, clk, logger, cfg.Capture.Interfaces)

	scanCfg := scan.DefaultConfig()
	if cfg.Scan.ARPTimeoutMS > 0 {
		scanCfg.TimeoutMS = cfg.Scan.ARPTimeoutMS
	}
	if cfg.Scan.ICMPConcurrency > 0 {
		scanCfg.ICMPConcurrency = cfg.Scan.ICMPConcurrency
	}
	if cfg.Scan.TCPConcurrency > 0 {
		scanCfg.TCPConcurrency = cfg.Scan.TCPConcurrency
	}
	if len(cfg.Scan.SNMPCommunities) > 0 {
		scanCfg.Communities = cfg.Scan.SNMPCommunities
	}
	orch := scan.New(st, clk, logger, scanCfg)

	// Scan evidence fans out to the enrichment probes: SSDP hits get their
	// description URLs chased, port-9100 responders get the HP model query.
	orch.SetResultHook(func(r scan.Result) {
		ctx := context.Background()
		switch {
		case r.Type == scan.TypeSSDP && r.Location != "":
			prober.ProbeSSDPModel(ctx, r.IP, r.Location)
		case r.Type == scan.TypePort && r.Port == 9100:
			prober.ProbeHPModel(ctx, r.IP)
		}
	})

	return &Engine{
		cfg:        cfg,
		clk:        clk,
		logger:     logger.WithComponent("engine"),
		store:      st,
		daemon:     daemon,
		prober:     prober,
		capture:    cap,
		scanner:    orch,
		classifier: classify.NewEngine(cidrs, classify.NewGatewayCache(clk), daemon),
		pairer:     control.NewPairer(st, clk, logger),
	}, nil
}

// Start launches the writer, cleanup, enrichment, and capture loops.
func (e *Engine) Start(ctx context.Context) error {
	e.store.Start(ctx)

	if err := e.daemon.Start(ctx); err != nil {
		e.logger.Warn("mdns daemon unavailable", "error", err)
	}

	if err := e.capture.Start(ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	e.logger.Info("scan capabilities", "capabilities", e.scanner.Capabilities())
	return nil
}

// Stop drains and shuts everything down in reverse dependency order.
func (e *Engine) Stop() error {
	e.scanner.StopScan()
	e.scanner.Wait()
	e.capture.Stop()
	e.daemon.Stop()
	return e.store.Stop()
}

// Store exposes the persistence layer to the API surface.
func (e *Engine) Store() *store.Store { return e.store }

// Scanner exposes the scan orchestrator (status/config/start/stop).
func (e *Engine) Scanner() *scan.Orchestrator { return e.scanner }

// Classifier exposes the classification engine.
func (e *Engine) Classifier() *classify.Engine { return e.classifier }

// Prober exposes the on-demand hostname/model probes.
func (e *Engine) Prober() *enrich.Prober { return e.prober }

// Pairer exposes the device-controller pairing flow.
func (e *Engine) Pairer() *control.Pairer { return e.pairer }
