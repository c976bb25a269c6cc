// Package app assembles the process: configuration, logging, the audit
// trail, the whitelist store, the simulation hub, and the HTTP bridge.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"emberfall/server/internal/audit"
	"emberfall/server/internal/bridge"
	"emberfall/server/internal/config"
	"emberfall/server/internal/policy"
	"emberfall/server/internal/sim"
	"emberfall/server/internal/store"
	"emberfall/server/internal/telemetry"
	"emberfall/server/internal/version"
	"emberfall/server/logging"
	"emberfall/server/logging/sinks"
)

const shutdownTimeout = 10 * time.Second

// Run boots the bridge and blocks until ctx is cancelled or the listener
// fails. Every component started here is torn down before Run returns.
func Run(ctx context.Context, configPath string) error {
	cfg, warns, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	for _, warn := range warns {
		logger.Printf("warning: %s", warn)
	}

	stream := bridge.NewStream(telemetry.WrapLogger(logger))

	logCfg := logging.DefaultConfig()
	logCfg.Fields = map[string]any{"server": cfg.ServerName}
	logCfg.EnabledSinks = append(logCfg.EnabledSinks, "stream")
	if cfg.EventLog != "" {
		logCfg.EnabledSinks = append(logCfg.EnabledSinks, "json")
	}

	var named []logging.NamedSink
	if logCfg.HasSink("console") {
		named = append(named, logging.NamedSink{Name: "console", Sink: sinks.NewConsoleSink(os.Stdout, logCfg.Console)})
	}
	if logCfg.HasSink("stream") {
		named = append(named, logging.NamedSink{Name: "stream", Sink: stream})
	}
	var eventFile *os.File
	if logCfg.HasSink("json") {
		eventFile, err = os.OpenFile(cfg.EventLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open event log %s: %w", cfg.EventLog, err)
		}
		named = append(named, logging.NamedSink{Name: "json", Sink: sinks.NewJSON(eventFile, logCfg.JSON.FlushInterval)})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logCfg, named)
	if err != nil {
		return fmt.Errorf("start log router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stats := router.Stats()
		logger.Printf("log router delivered %d events, dropped %d", stats.EventsTotal, stats.DroppedTotal)
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("log router close: %v", cerr)
		}
		if eventFile != nil {
			eventFile.Close()
		}
	}()

	trail := audit.Open(cfg.AuditLog, router)
	defer trail.Close()
	if !trail.Enabled() {
		logger.Printf("warning: audit log %q is unavailable, privileged actions will not be persisted", cfg.AuditLog)
	}

	whitelist, err := store.Open(cfg.WhitelistDB)
	if err != nil {
		return err
	}
	defer whitelist.Close()

	world, err := sim.NewWorld(sim.WorldConfig{
		ServerName:  cfg.ServerName,
		MOTD:        cfg.MOTD,
		MaxActors:   cfg.MaxActors,
		Seed:        cfg.Seed,
		SpawnActors: cfg.SpawnActors,
	}, logging.WithFields(router, map[string]any{"source": "simulation"}), whitelist)
	if err != nil {
		return err
	}

	hub := sim.NewHub(world, sim.HubConfig{
		TickRate:      cfg.TickRate,
		ServerVersion: version.Version,
		Logger:        telemetry.WrapLogger(logger),
		Metrics:       telemetry.WrapRouter(router),
	})

	stop := make(chan struct{})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		hub.Run(stop)
	}()

	server := bridge.NewServer(bridge.ServerConfig{
		Policy:               policy.New(cfg.SharedSecret, cfg.AllowedCommands),
		Hub:                  hub,
		Trail:                trail,
		Stream:               stream,
		Logger:               telemetry.WrapLogger(logger),
		Metrics:              telemetry.WrapRouter(router),
		Publisher:            logging.WithFields(router, map[string]any{"source": "bridge"}),
		EnableInventoryView:  cfg.EnableInventoryView,
		EnableEnderChestView: cfg.EnableEnderChestView,
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("bridge %s listening on %s (tick rate %d)", version.String(), cfg.Addr(), cfg.TickRate)
		serveErr <- server.Start(cfg.Addr())
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
	}

	close(stop)
	<-loopDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
