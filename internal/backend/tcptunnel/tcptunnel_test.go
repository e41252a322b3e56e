package tcptunnel

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/artie-robotics/can-stack/internal/frame"
)

// TestLoop mirrors spec.md scenario S6: a server and client tunnel
// round-tripping the S1 frame, with the wire observed as
// [00 00 00 LL][frame...].
func TestLoop(t *testing.T) {
	srv := New(Config{}.WithHost("127.0.0.1").WithPort(0).WithServer(true))
	if err := srv.Init(); err != nil {
		t.Fatalf("server Init: %v", err)
	}
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("split server addr %q: %v", srv.Addr(), err)
	}
	port, _ := strconv.Atoi(portStr)

	cli := New(Config{}.WithHost(host).WithPort(port).WithServer(false))
	if err := cli.Init(); err != nil {
		t.Fatalf("client Init: %v", err)
	}
	defer cli.Close()

	// S1 RTACP unicast frame.
	var want frame.Frame
	want.Extended = true
	want.ID = 0b000_1_10_000001_000010_1111111111
	_ = want.SetPayload([]byte("Hello"))

	done := make(chan error, 1)
	go func() { done <- cli.Send(want) }()

	got, err := srv.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("server Receive: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("client Send: %v", err)
	}
	if got.Extended != want.Extended || got.ID != want.ID || got.Len != want.Len || string(got.Payload()) != string(want.Payload()) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, want)
	}
}

func TestWireFixedFrameSize(t *testing.T) {
	var fr frame.Frame
	fr.Extended = true
	fr.ID = 0x1FFFFFFF
	_ = fr.SetPayload([]byte{1, 2, 3})
	buf := make([]byte, FixedFrameSize)
	if err := encodeFrame(buf, fr); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	if len(buf) != FixedFrameSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), FixedFrameSize)
	}
	back, err := decodeFrame(buf)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if back.ID != fr.ID || back.Len != fr.Len || string(back.Payload()) != string(fr.Payload()) {
		t.Fatalf("decode mismatch: got %v, want %v", back, fr)
	}
}
