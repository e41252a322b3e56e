// Package queue implements the in-process loopback backend: a bounded ring
// of frames for same-process tests. It is deliberately simple — single
// queue, single process, no timeouts — per spec.md §4.3.
package queue

import (
	"sync"
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/frame"
)

// Capacity is a design constant, not tunable, mirroring the teacher's
// fixed-size client buffering in internal/hub.
const Capacity = 32

// Backend is a bounded ring of Capacity frames. The same queue mediates
// both Send and Receive, so loopback/self-tests must account for that:
// a Send makes the frame immediately visible to a subsequent Receive on
// the same Backend value.
type Backend struct {
	mu     sync.Mutex
	buf    [Capacity]frame.Frame
	head   int
	len    int
	opened bool
}

// New constructs an unopened in-process queue backend.
func New() *Backend { return &Backend{} }

func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head, b.len = 0, 0
	b.opened = true
	return nil
}

// Send enqueues fr, returning backend.ErrBackpressure if the ring is full.
func (b *Backend) Send(fr frame.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return backend.ErrNotOpen
	}
	if b.len == Capacity {
		return backend.ErrBackpressure
	}
	tail := (b.head + b.len) % Capacity
	b.buf[tail] = fr
	b.len++
	return nil
}

// Receive dequeues the oldest frame. Timeouts are ignored: an empty queue
// always returns backend.ErrTimeout immediately — this backend exists for
// deterministic unit tests, not real waiting.
func (b *Backend) Receive(_ time.Duration) (frame.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return frame.Frame{}, backend.ErrNotOpen
	}
	if b.len == 0 {
		return frame.Frame{}, backend.ErrTimeout
	}
	fr := b.buf[b.head]
	b.head = (b.head + 1) % Capacity
	b.len--
	return fr, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = false
	b.head, b.len = 0, 0
	return nil
}

var _ backend.Backend = (*Backend)(nil)
