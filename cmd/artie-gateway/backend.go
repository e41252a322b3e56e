package main

import (
	"fmt"
	"log/slog"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/backend/nativecan"
	"github.com/artie-robotics/can-stack/internal/backend/queue"
	"github.com/artie-robotics/can-stack/internal/backend/spi"
	"github.com/artie-robotics/can-stack/internal/backend/tcptunnel"
)

// initBackend dispatches on cfg.backend the way the teacher's backend.go
// dispatches on cfg.backend between its serial and socketcan constructors.
func initBackend(cfg *appConfig, logger *slog.Logger) (backend.Backend, error) {
	switch backend.Kind(cfg.backend) {
	case backend.KindLocalQueue:
		logger.Info("using local_queue backend")
		return queue.New(), nil
	case backend.KindTCPTunnel:
		tc := tcptunnel.Config{}
		if cfg.tcpHost != "" {
			tc = tc.WithHost(cfg.tcpHost)
		}
		if cfg.tcpPort != 0 {
			tc = tc.WithPort(cfg.tcpPort)
		}
		if cfg.tcpServer {
			tc = tc.WithServer(true)
		}
		resolved := tcptunnel.ResolveConfig(tc)
		logger.Info("using tcp_tunnel backend", "host", resolved.Host, "port", resolved.Port, "server", resolved.Server)
		return tcptunnel.New(tc), nil
	case backend.KindNativeCAN:
		logger.Info("using native_can backend", "iface", cfg.canIf)
		return newNativeCANBackend(cfg.canIf)
	case backend.KindSPIController:
		logger.Warn("using spi_controller backend: no bus driver wired, Init will fail")
		return spi.New(nil), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", backend.ErrInvalidArgument, cfg.backend)
	}
}
