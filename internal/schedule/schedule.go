// Package schedule runs a callback at a fixed interval on its own goroutine.
package schedule

import (
	"sync"
	"time"
)

// Ticker delivers ticks on C until stopped
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker for an interval
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Task fires fn immediately and then on every tick until cancelled.
type Task struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Every starts a Task. fn receives the zero-based tick index and returns
// false to end the task on its own.
func Every(interval time.Duration, newTicker TickerFunc, fn func(n int) bool) *Task {
	if newTicker == nil {
		newTicker = NewTimeTicker
	}

	t := &Task{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	ticker := newTicker(interval)

	go func() {
		defer close(t.done)
		defer ticker.Stop()

		for n := 0; ; n++ {
			select {
			case <-t.stop:
				return
			default:
			}
			if !fn(n) {
				return
			}

			select {
			case <-t.stop:
				return
			case <-ticker.C():
			}
		}
	}()
	return t
}

// Cancel stops the task and waits for its goroutine to exit. It must not
// be called from inside fn.
func (t *Task) Cancel() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

// Done is closed once the task has exited
func (t *Task) Done() <-chan struct{} {
	return t.done
}
