package bwacp

import (
	"testing"
	"time"

	"github.com/artie-robotics/can-stack/internal/backend/queue"
	"github.com/artie-robotics/can-stack/internal/core"
	"github.com/artie-robotics/can-stack/internal/crc"
	"github.com/artie-robotics/can-stack/internal/frame"
	"github.com/artie-robotics/can-stack/internal/stuffing"
)

// pipeBackend crosses two in-process queues into a two-node bus for tests.
type pipeBackend struct {
	in, out *queue.Backend
}

func (p *pipeBackend) Init() error                                  { return p.in.Init() }
func (p *pipeBackend) Send(fr frame.Frame) error                    { return p.out.Send(fr) }
func (p *pipeBackend) Receive(d time.Duration) (frame.Frame, error) { return p.in.Receive(d) }
func (p *pipeBackend) Close() error                                 { return p.in.Close() }

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

// TestS5BWACPReady mirrors S5: sender 0x01, target 0x02, class_mask=0,
// priority=HIGH, app_address=0xDEADBEEF, payload=AA.
func TestS5BWACPReady(t *testing.T) {
	payload := []byte{0xAA}
	var stuffedBuf [stuffing.MaxStuffedLen]byte
	n, err := stuffing.Stuff(stuffedBuf[:], payload)
	if err != nil {
		t.Fatalf("Stuff: %v", err)
	}
	stuffed := stuffedBuf[:n]
	if string(stuffed) != string([]byte{0x01, 0xAA, 0xFF}) {
		t.Fatalf("stuffed = % X, want 01 AA FF", stuffed)
	}

	crcInput := append([]byte{0xDE, 0xAD, 0xBE, 0xEF}, stuffed...)
	sum := crc.CRC24(crcInput)

	var readyData [8]byte
	readyData[0] = byte(sum >> 16)
	readyData[1] = byte(sum >> 8)
	readyData[2] = byte(sum)
	copy(readyData[3:7], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	readyData[7] = stuffed[0] // 0x01

	wantReady := []byte{byte(sum >> 16), byte(sum >> 8), byte(sum), 0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	if string(readyData[:]) != string(wantReady) {
		t.Fatalf("READY data = % X, want % X", readyData[:], wantReady)
	}

	dataFrame := stuffed[1:] // AA FF
	if string(dataFrame) != string([]byte{0xAA, 0xFF}) {
		t.Fatalf("DATA data = % X, want AA FF", dataFrame)
	}
}

// TestSendReadyReceiverRoundTrip exercises SendReady end to end through
// Receiver, including the single DATA continuation from S5.
func TestSendReadyReceiverRoundTrip(t *testing.T) {
	ctxA, ctxB := newBus(t, 0x01, 0x02)
	defer ctxA.Close()
	defer ctxB.Close()

	sender := New(ctxA)
	receiver := NewReceiver(ctxB)

	if err := sender.SendReady(0x02, 0, frame.PriorityHigh, 0xDEADBEEF, []byte{0xAA}, false); err != nil {
		t.Fatalf("SendReady: %v", err)
	}

	block, err := receiver.Receive(0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if block.Sender != 0x01 || block.AppAddress != 0xDEADBEEF || string(block.Payload) != "\xAA" {
		t.Fatalf("unexpected block: %+v", block)
	}
}

// TestParityToggle mirrors property 10: consecutive DATA frames have
// strictly alternating tail bits beginning from 0.
func TestParityToggle(t *testing.T) {
	ctxA, ctxB := newBus(t, 0x01, 0x02)
	defer ctxA.Close()
	defer ctxB.Close()

	sender := New(ctxA)
	payload := make([]byte, 30) // forces several DATA continuations
	if err := sender.SendReady(0x02, 0, frame.PriorityHigh, 0, payload, false); err != nil {
		t.Fatalf("SendReady: %v", err)
	}

	// First frame off the bus is READY; discard it, then check DATA tails.
	if _, err := ctxB.Receive(0); err != nil {
		t.Fatalf("drain READY: %v", err)
	}
	wantTail := false
	for {
		fr, err := ctxB.Receive(0)
		if err != nil {
			break
		}
		kind, _, _, _, _, _, tail, ok := unpackID(fr.ID)
		if !ok || kind != KindData {
			t.Fatalf("expected DATA frame, got kind=%v ok=%v", kind, ok)
		}
		if tail != wantTail {
			t.Fatalf("tail = %v, want %v", tail, wantTail)
		}
		wantTail = !wantTail
	}
}

func TestIdentifierRoundTrip(t *testing.T) {
	id := packID(KindData, frame.PriorityLow, 0x09, frame.Multicast, 0x15, true, false)
	kind, prio, sender, target, classMask, flag, tail, ok := unpackID(id)
	if !ok || kind != KindData || prio != frame.PriorityLow || sender != 0x09 || target != frame.Multicast || classMask != 0x15 || !flag || tail {
		t.Fatalf("round-trip mismatch: %v %v %v %v %v %v %v %v", kind, prio, sender, target, classMask, flag, tail, ok)
	}
}
