package rtacp

import (
	"errors"
	"testing"
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/backend/queue"
	"github.com/artie-robotics/can-stack/internal/core"
	"github.com/artie-robotics/can-stack/internal/frame"
)

// pipeBackend crosses two in-process queues into a two-node bus for tests:
// Send writes to the peer's inbox, Receive drains this node's own inbox.
type pipeBackend struct {
	in, out *queue.Backend
}

func (p *pipeBackend) Init() error                                   { return p.in.Init() }
func (p *pipeBackend) Send(fr frame.Frame) error                     { return p.out.Send(fr) }
func (p *pipeBackend) Receive(d time.Duration) (frame.Frame, error)  { return p.in.Receive(d) }
func (p *pipeBackend) Close() error                                  { return p.in.Close() }

func newBus(t *testing.T, addrA, addrB frame.Address) (*core.Context, *core.Context) {
	t.Helper()
	qAtoB := queue.New()
	qBtoA := queue.New()
	ctxA, err := core.New(addrA, &pipeBackend{in: qBtoA, out: qAtoB})
	if err != nil {
		t.Fatalf("core.New A: %v", err)
	}
	ctxB, err := core.New(addrB, &pipeBackend{in: qAtoB, out: qBtoA})
	if err != nil {
		t.Fatalf("core.New B: %v", err)
	}
	return ctxA, ctxB
}

// TestS1RTACPUnicastIdentifier checks the literal identifier and frame
// bytes for node A=0x01 sending "Hello" MED_LOW to target 0x02.
func TestS1RTACPUnicastIdentifier(t *testing.T) {
	id := packID(KindMSG, frame.PriorityMedLow, frame.Address(0x01), frame.Address(0x02))
	const want = 0b000_1_10_000001_000010_1111111111
	if id != want {
		t.Fatalf("id = %029b, want %029b", id, want)
	}
	var fr frame.Frame
	fr.Extended = true
	fr.ID = id
	if err := fr.SetPayload([]byte("Hello")); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	if fr.Len != 5 || string(fr.Payload()) != "Hello" {
		t.Fatalf("unexpected payload: %v", fr)
	}
}

// TestS2RTACPBroadcastNoAck mirrors S2: target=0x00, wait_ack=true is
// silently ignored; exactly one frame crosses the bus and Send succeeds
// without blocking on any ACK.
func TestS2RTACPBroadcastNoAck(t *testing.T) {
	ctxA, ctxB := newBus(t, 0x01, 0x02)
	defer ctxA.Close()
	defer ctxB.Close()

	layerA := New(ctxA)
	if err := layerA.Send(Msg{Target: frame.Broadcast, Priority: frame.PriorityMedLow, Payload: []byte("Hello")}, true); err != nil {
		t.Fatalf("Send: %v", err)
	}

	fr, err := ctxB.Receive(0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(fr.Payload()) != "Hello" {
		t.Fatalf("payload = %q", fr.Payload())
	}
	if _, err := ctxB.Receive(0); !errors.Is(err, backend.ErrTimeout) {
		t.Fatalf("expected exactly one frame on the bus, got second receive err=%v", err)
	}
}

// TestRTACPAckCorrectness mirrors property 7: a MSG targeted at node N
// induces exactly one ACK whose (sender, target, payload) equals
// (N, original-sender, original-payload).
func TestRTACPAckCorrectness(t *testing.T) {
	ctxA, ctxB := newBus(t, 0x01, 0x02)
	defer ctxA.Close()
	defer ctxB.Close()

	layerA := New(ctxA)
	layerB := New(ctxB)

	done := make(chan error, 1)
	go func() {
		done <- layerA.Send(Msg{Target: 0x02, Priority: frame.PriorityMedLow, Payload: []byte("Hello")}, true)
	}()

	msg, err := layerB.Receive(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("B.Receive: %v", err)
	}
	if msg.Sender != 0x01 || msg.Target != 0x02 || string(msg.Payload) != "Hello" {
		t.Fatalf("unexpected msg: %+v", msg)
	}

	if err := <-done; err != nil {
		t.Fatalf("A.Send: %v", err)
	}
}

// TestRTACPAckTimeout confirms Send fails with ErrTimeout when no ACK
// arrives within the one ackWindow wait.
func TestRTACPAckTimeout(t *testing.T) {
	ctxA, ctxB := newBus(t, 0x01, 0x02)
	defer ctxA.Close()
	defer ctxB.Close()

	layerA := New(ctxA)
	err := layerA.Send(Msg{Target: 0x02, Priority: frame.PriorityMedLow, Payload: []byte("Hello")}, true)
	if !errors.Is(err, backend.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
