package rpcacp

import (
	"errors"
	"testing"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/crc"
	"github.com/artie-robotics/can-stack/internal/frame"
	"github.com/artie-robotics/can-stack/internal/stuffing"
)

// TestS3SingleFrameCall mirrors S3: A=0x01 -> B=0x02, synchronous=true,
// proc_id=5, payload=01 02 03, nonce=0x42, verifying the exact wire bytes.
func TestS3SingleFrameCall(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	var stuffedBuf [stuffing.MaxStuffedLen]byte
	n, err := stuffing.Stuff(stuffedBuf[:], payload)
	if err != nil {
		t.Fatalf("Stuff: %v", err)
	}
	stuffed := stuffedBuf[:n]
	wantStuffed := []byte{0x03, 0x01, 0x02, 0x03, 0xFF}
	if string(stuffed) != string(wantStuffed) {
		t.Fatalf("stuffed = % X, want % X", stuffed, wantStuffed)
	}

	h := header(true, 5)
	if h != 0x85 {
		t.Fatalf("header = 0x%02X, want 0x85", h)
	}

	var crcBuf [1 + stuffing.MaxStuffedLen]byte
	crcBuf[0] = h
	copy(crcBuf[1:], stuffed)
	sum := crc.CRC16(crcBuf[:1+n])

	var firstPayload [frame.MaxDataLen]byte
	firstPayload[0] = h
	firstPayload[1] = byte(sum >> 8)
	firstPayload[2] = byte(sum)
	copy(firstPayload[3:], stuffed)

	want := []byte{0x85, byte(sum >> 8), byte(sum), 0x03, 0x01, 0x02, 0x03, 0xFF}
	if string(firstPayload[:8]) != string(want) {
		t.Fatalf("first frame data = % X, want % X", firstPayload[:8], want)
	}

	id := packID(KindStartRPC, frame.PriorityHigh, frame.Address(0x01), frame.Address(0x02), 0x42)
	kind, _, sender, target, nonce, ok := unpackID(id)
	if !ok || kind != KindStartRPC || sender != 0x01 || target != 0x02 || nonce != 0x42 {
		t.Fatalf("round-trip mismatch: kind=%v sender=%v target=%v nonce=0x%02X ok=%v", kind, sender, target, nonce, ok)
	}
}

// TestRPCBroadcastForbidden mirrors property 8.
func TestRPCBroadcastForbidden(t *testing.T) {
	l := &Layer{}
	_, err := l.Call(frame.Broadcast, frame.PriorityHigh, true, 1, nil)
	if !errors.Is(err, backend.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

// TestNonceNeverZero exercises the LCG across many draws.
func TestNonceNeverZero(t *testing.T) {
	l := &Layer{lcg: 1}
	for i := 0; i < 10000; i++ {
		if n := l.nextNonce(); n == 0 {
			t.Fatalf("nextNonce produced 0 at iteration %d", i)
		}
	}
}

// TestIdentifierRoundTrip exercises property 5 for RPCACP across kinds.
func TestIdentifierRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindACK, KindNACK, KindStartRPC, KindStartReturn, KindTxData, KindRxData} {
		id := packID(k, frame.PriorityMedHigh, 0x0A, 0x15, 0x99)
		kind, prio, sender, target, nonce, ok := unpackID(id)
		if !ok || kind != k || prio != frame.PriorityMedHigh || sender != 0x0A || target != 0x15 || nonce != 0x99 {
			t.Fatalf("round-trip mismatch for kind %v: %v %v %v %v %v %v", k, kind, prio, sender, target, nonce, ok)
		}
	}
}
