package meter

import (
	"sync"
	"testing"
)

func TestHistoryStartsFull(t *testing.T) {
	h := NewHistory(60)

	if h.Len() != 60 {
		t.Fatalf("Len() = %d, want 60", h.Len())
	}
	snap := h.Snapshot()
	if len(snap) != 60 {
		t.Fatalf("len(Snapshot()) = %d, want 60", len(snap))
	}
	for i, v := range snap {
		if v != 0 {
			t.Fatalf("Snapshot()[%d] = %v, want 0", i, v)
		}
	}
}

func TestHistoryDefaultCapacity(t *testing.T) {
	if got := NewHistory(0).Len(); got != DefaultHistorySize {
		t.Errorf("Len() = %d, want %d", got, DefaultHistorySize)
	}
}

func TestHistoryPartialFill(t *testing.T) {
	h := NewHistory(5)
	h.Push(0.1)
	h.Push(0.2)

	want := []float64{0, 0, 0, 0.1, 0.2}
	got := h.Snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", got, want)
		}
	}
	if h.Latest() != 0.2 {
		t.Errorf("Latest() = %v, want 0.2", h.Latest())
	}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory(4)
	for i := 1; i <= 10; i++ {
		h.Push(float64(i))
	}

	want := []float64{7, 8, 9, 10}
	got := h.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("len(Snapshot()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", got, want)
		}
	}
}

func TestHistoryLengthStableAfterManyInserts(t *testing.T) {
	h := NewHistory(60)
	for i := 0; i < 1000; i++ {
		h.Push(float64(i % 7))
		if len(h.Snapshot()) != 60 {
			t.Fatalf("length changed after %d inserts", i+1)
		}
	}
}

func TestHistoryReset(t *testing.T) {
	h := NewHistory(3)
	h.Push(1)
	h.Push(2)
	h.Reset()

	for _, v := range h.Snapshot() {
		if v != 0 {
			t.Fatalf("expected zeros after Reset, got %v", h.Snapshot())
		}
	}
	if h.Latest() != 0 {
		t.Errorf("Latest() after Reset = %v, want 0", h.Latest())
	}
}

func TestHistoryConcurrentReaderWriter(t *testing.T) {
	h := NewHistory(60)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			h.Push(0.5)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if len(h.Snapshot()) != 60 {
				t.Error("snapshot length changed")
				return
			}
		}
	}()
	wg.Wait()

	for _, v := range h.Snapshot() {
		if v != 0.5 {
			t.Fatalf("expected history filled with 0.5, got %v", h.Snapshot())
		}
	}
}
