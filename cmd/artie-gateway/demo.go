package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/core"
	"github.com/artie-robotics/can-stack/internal/psacp"
	"github.com/artie-robotics/can-stack/internal/rtacp"
)

// runDemo owns the bus for the life of the process: one goroutine, one
// blocking Receive call at a time, no background worker funneling frames
// on this node's behalf. Transient transport faults are retried with
// exponential backoff; a plain receive timeout just means "nothing came
// in this window" and is not backed off.
func runDemo(ctx context.Context, cc *core.Context, mode string, l *slog.Logger) {
	switch mode {
	case "psacp-echo":
		runPSACPEcho(ctx, cc, l)
	default:
		runRTACPEcho(ctx, cc, l)
	}
}

func runRTACPEcho(ctx context.Context, cc *core.Context, l *slog.Logger) {
	layer := rtacp.New(cc)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, err := layer.Receive(pollWindow)
		if err != nil {
			if handleReceiveErr(ctx, err, &backoff, l) {
				return
			}
			continue
		}
		backoff = rxBackoffMin
		l.Info("rtacp_received", "sender", msg.Sender, "target", msg.Target, "len", len(msg.Payload))
	}
}

func runPSACPEcho(ctx context.Context, cc *core.Context, l *slog.Logger) {
	layer := psacp.New(cc)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, err := layer.Receive(pollWindow)
		if err != nil {
			if errors.Is(err, backend.ErrCrcMismatch) {
				l.Warn("psacp_crc_mismatch", "sender", msg.Sender, "topic", msg.Topic)
				continue
			}
			if handleReceiveErr(ctx, err, &backoff, l) {
				return
			}
			continue
		}
		backoff = rxBackoffMin
		l.Info("psacp_received", "sender", msg.Sender, "topic", msg.Topic, "len", len(msg.Payload))
	}
}

// handleReceiveErr classifies one Receive error: a plain timeout is not
// backed off (it just means the poll window was empty), anything else is
// treated as a transient transport fault and backed off exponentially,
// mirroring the teacher's serial/socketcan RX-retry loops. It reports
// whether the caller should stop (context cancelled).
func handleReceiveErr(ctx context.Context, err error, backoff *time.Duration, l *slog.Logger) (stop bool) {
	if errors.Is(err, backend.ErrTimeout) {
		return false
	}
	l.Warn("receive_error", "error", err, "backoff", *backoff)
	select {
	case <-ctx.Done():
		return true
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > rxBackoffMax {
		*backoff = rxBackoffMax
	}
	return false
}
