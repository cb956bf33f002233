package meter

import (
	"math"
	"sync/atomic"
)

// DefaultHistorySize is the number of levels kept for the waveform display.
const DefaultHistorySize = 60

// History is a fixed-size ring of recent levels. It starts filled with
// zeros so Len always equals capacity, and each Push evicts the oldest
// value. One goroutine may Push while another takes Snapshots; neither
// takes a lock.
type History struct {
	slots  []atomic.Uint64
	pushed atomic.Uint64
}

// NewHistory creates a history holding capacity levels
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{slots: make([]atomic.Uint64, capacity)}
}

// Len returns the fixed capacity
func (h *History) Len() int {
	return len(h.slots)
}

// Push appends a level, evicting the oldest
func (h *History) Push(level float64) {
	n := h.pushed.Load()
	h.slots[n%uint64(len(h.slots))].Store(math.Float64bits(level))
	h.pushed.Store(n + 1)
}

// Latest returns the most recently pushed level
func (h *History) Latest() float64 {
	n := h.pushed.Load()
	if n == 0 {
		return 0
	}
	return math.Float64frombits(h.slots[(n-1)%uint64(len(h.slots))].Load())
}

// Snapshot copies the levels oldest first. A Push racing the copy is
// retried a few times; after that the newest slot may already be overwritten.
func (h *History) Snapshot() []float64 {
	size := uint64(len(h.slots))
	out := make([]float64, size)

	for attempt := 0; attempt < 3; attempt++ {
		n := h.pushed.Load()
		for i := uint64(0); i < size; i++ {
			// Slot of the i-th oldest value; before the first fill the
			// leading entries are still the initial zeros.
			out[i] = math.Float64frombits(h.slots[(n+i)%size].Load())
		}
		if h.pushed.Load() == n {
			break
		}
	}
	return out
}

// Reset zeroes every level
func (h *History) Reset() {
	for i := range h.slots {
		h.slots[i].Store(0)
	}
	h.pushed.Store(0)
}
