package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/artie-robotics/can-stack/internal/core"
	"github.com/artie-robotics/can-stack/internal/discovery"
	"github.com/artie-robotics/can-stack/internal/frame"
	"github.com/artie-robotics/can-stack/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("artie-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)

	be, err := initBackend(cfg, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		os.Exit(1)
	}

	cc, err := core.New(frame.Address(cfg.nodeAddr), be)
	if err != nil {
		l.Error("core_init_error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		httpSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	dcfg := discovery.Config{
		Enable:  cfg.mdnsEnable,
		Name:    cfg.mdnsName,
		Backend: cfg.backend,
		Address: frame.Address(cfg.nodeAddr),
		Version: version,
		Commit:  commit,
	}
	cleanupMDNS, err := discovery.Start(ctx, dcfg, cfg.tcpPort)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
	} else {
		defer cleanupMDNS()
	}

	l.Info("gateway_starting", "node_addr", cfg.nodeAddr, "backend", cfg.backend, "mode", cfg.mode)

	// Only the signal watcher runs on another goroutine; it never touches
	// cc. The demo loop below is the sole owner of the backend for the
	// life of the process, per the single-threaded cooperative model.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
	}()

	runDemo(ctx, cc, cfg.mode, l)

	if err := cc.Close(); err != nil {
		l.Error("backend_close_error", "error", err)
	}
	wg.Wait()
}
