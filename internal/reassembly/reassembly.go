// Package reassembly implements the small fixed-capacity correlation table
// shared by every protocol layer that must track in-flight multi-frame
// exchanges: PSACP publishes (keyed by sender+topic), BWACP blocks (keyed
// by sender+target), and RPCACP calls (keyed by nonce). It generalizes the
// teacher gateway's bounded client map (internal/hub) from "one slot per
// connected TCP client" to "one slot per active reassembly stream",
// reporting backend.ErrTooManyStreams on overflow instead of silently
// dropping or kicking, since losing a reassembly slot means losing a
// message rather than a slow consumer.
package reassembly

import (
	"sync"

	"github.com/artie-robotics/can-stack/internal/backend"
)

// DefaultCapacity bounds the number of concurrently tracked streams per
// table, per spec.md §9 design notes ("bound the outstanding reassembly
// table at compile time (e.g., 4 slots)").
const DefaultCapacity = 4

// Table is a bounded, mutex-protected map from K to V. It is safe for
// concurrent use, though in this stack's single-threaded cooperative model
// each Context only ever accesses its own table from one goroutine.
type Table[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[K]V
}

// New constructs a Table bounded to capacity entries. capacity <= 0 uses
// DefaultCapacity.
func New[K comparable, V any](capacity int) *Table[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table[K, V]{capacity: capacity, entries: make(map[K]V, capacity)}
}

// Get returns the stream state for k, if any.
func (t *Table[K, V]) Get(k K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[k]
	return v, ok
}

// Put inserts or updates the entry for k. Updating an existing key never
// fails; inserting a new key beyond capacity fails with
// backend.ErrTooManyStreams so the caller can reject the triggering READY
// or PUB frame rather than silently evicting another in-flight stream.
func (t *Table[K, V]) Put(k K, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[k]; !exists && len(t.entries) >= t.capacity {
		return backend.ErrTooManyStreams
	}
	t.entries[k] = v
	return nil
}

// Delete removes k's entry, if present. Safe to call on an absent key.
func (t *Table[K, V]) Delete(k K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, k)
}

// Len reports the number of active streams.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
