package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artie-robotics/can-stack/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rtacp_sent", snap.RTACPSent,
					"rtacp_received", snap.RTACPReceived,
					"rpcacp_calls", snap.RPCACPCalls,
					"psacp_publishes", snap.PSACPPublishes,
					"bwacp_readies", snap.BWACPReadies,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
