package core

import (
	"errors"
	"testing"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/backend/queue"
	"github.com/artie-robotics/can-stack/internal/frame"
)

func TestNewValidatesAddress(t *testing.T) {
	_, err := New(frame.Address(0x40), queue.New())
	if !errors.Is(err, backend.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNewInitsBackend(t *testing.T) {
	q := queue.New()
	ctx, err := New(frame.Address(0x01), q)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctx.Close()
	if err := ctx.Send(frame.Frame{Extended: true, ID: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestReceiveFiltersBaseFrames(t *testing.T) {
	q := queue.New()
	ctx, err := New(frame.Address(0x01), q)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctx.Close()

	// A base (non-extended) identifier never carries a valid protocol
	// class on this bus and must never reach a protocol layer.
	if err := q.Send(frame.Frame{Extended: false, ID: 0}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := ctx.Receive(0); !errors.Is(err, backend.ErrTimeout) {
		t.Fatalf("expected ErrTimeout for a base frame, got %v", err)
	}
}

func TestGetProtocolRejectsBaseFrame(t *testing.T) {
	_, ok := GetProtocol(frame.Frame{Extended: false, ID: 0})
	if ok {
		t.Fatalf("GetProtocol accepted a base (non-extended) frame")
	}
}

func TestCloseIsIdempotentAndLocksOutOps(t *testing.T) {
	ctx, err := New(frame.Address(0x01), queue.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := ctx.Send(frame.Frame{}); !errors.Is(err, backend.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after close, got %v", err)
	}
}
