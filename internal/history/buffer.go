// Package history keeps a bounded, in-memory record of recent termination
// reports for display. Nothing is persisted.
package history

import (
	"sync"

	"github.com/nixlim/idle-reaper/internal/monitor"
	"github.com/nixlim/idle-reaper/internal/process"
)

// RingBuffer is a fixed-capacity, thread-safe ring buffer of Entries.
// When the buffer is full, the oldest entry is evicted to make room for new ones.
// All methods are safe for concurrent use.
type RingBuffer struct {
	mu     sync.RWMutex
	items  []Entry
	cap    int
	head   int // index of the oldest element
	count  int // number of elements currently stored
	totals map[process.Outcome]int
}

// NewRingBuffer creates a new RingBuffer with the given capacity.
// Capacity must be at least 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		items:  make([]Entry, capacity),
		cap:    capacity,
		totals: make(map[process.Outcome]int),
	}
}

// Record formats r and adds it. It matches the monitor listener signature.
func (rb *RingBuffer) Record(r monitor.Report) {
	rb.Add(NewEntry(r))
}

// Add inserts an entry. If the buffer is full, the oldest entry is
// overwritten. Outcome totals count every entry ever added.
func (rb *RingBuffer) Add(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.totals[e.Report.Outcome]++

	writePos := (rb.head + rb.count) % rb.cap
	if rb.count == rb.cap {
		rb.items[rb.head] = e
		rb.head = (rb.head + 1) % rb.cap
	} else {
		rb.items[writePos] = e
		rb.count++
	}
}

// Recent returns up to n entries, newest first.
func (rb *RingBuffer) Recent(n int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}
	if n <= 0 {
		return nil
	}
	result := make([]Entry, n)
	for i := 0; i < n; i++ {
		result[i] = rb.items[(rb.head+rb.count-1-i)%rb.cap]
	}
	return result
}

// RecentByOutcome returns up to n buffered entries with outcome o, newest
// first.
func (rb *RingBuffer) RecentByOutcome(o process.Outcome, n int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []Entry
	for i := 0; i < rb.count && len(result) < n; i++ {
		e := rb.items[(rb.head+rb.count-1-i)%rb.cap]
		if e.Report.Outcome == o {
			result = append(result, e)
		}
	}
	return result
}

// Totals returns how many reports of each outcome were added since creation,
// including evicted ones.
func (rb *RingBuffer) Totals() map[process.Outcome]int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make(map[process.Outcome]int, len(rb.totals))
	for k, v := range rb.totals {
		out[k] = v
	}
	return out
}

// Len returns the number of entries currently in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return rb.cap
}
