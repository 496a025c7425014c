// Command discoveryd runs the local network discovery and classification
// engine: passive capture on every interface, the single-writer store, the
// mDNS enrichment daemon, and the active scan orchestrator.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/discoveryd/engine/internal/config"
	"github.com/discoveryd/engine/internal/engine"
	"github.com/discoveryd/engine/internal/logging"
)

func main() {
	configFile := flag.String("config", "/etc/discoveryd/discoveryd.hcl", "Configuration file")
	flag.StringVar(configFile, "c", "/etc/discoveryd/discoveryd.hcl", "Configuration file (short)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	if *debug {
		logCfg.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.New(logCfg))
	logger := logging.Default()

	// Catches panics on the main goroutine only. A panic in any other
	// goroutine (writer, capture, scanners) is not recovered and ends the
	// process through the Go runtime.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("fatal panic", "panic", r)
			os.Exit(1)
		}
	}()

	if err := run(*configFile, logger); err != nil {
		logger.Error("discoveryd failed", "error", err)
		os.Exit(1)
	}
}

func run(configFile string, logger *logging.Logger) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		eng.Stop()
		return err
	}

	logger.Info("discoveryd running")
	<-ctx.Done()
	logger.Info("shutting down")
	return eng.Stop()
}
