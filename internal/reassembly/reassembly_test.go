package reassembly

import (
	"errors"
	"testing"

	"github.com/artie-robotics/can-stack/internal/backend"
)

type streamKey struct {
	Sender uint8
	Topic  uint8
}

func TestTablePutGetDelete(t *testing.T) {
	tb := New[streamKey, []byte](2)
	k := streamKey{Sender: 5, Topic: 0x10}
	if err := tb.Put(k, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok := tb.Get(k)
	if !ok || string(v) != "\x01\x02\x03" {
		t.Fatalf("Get = %v, %v", v, ok)
	}
	tb.Delete(k)
	if _, ok := tb.Get(k); ok {
		t.Fatalf("expected entry gone after Delete")
	}
}

func TestTableOverflow(t *testing.T) {
	tb := New[streamKey, int](2)
	_ = tb.Put(streamKey{Sender: 1}, 1)
	_ = tb.Put(streamKey{Sender: 2}, 2)
	if err := tb.Put(streamKey{Sender: 3}, 3); !errors.Is(err, backend.ErrTooManyStreams) {
		t.Fatalf("expected ErrTooManyStreams, got %v", err)
	}
	// Updating an existing key never fails even when full.
	if err := tb.Put(streamKey{Sender: 1}, 99); err != nil {
		t.Fatalf("update of existing key should not fail: %v", err)
	}
}
