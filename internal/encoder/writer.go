// Package encoder sequences the open/append/finish protocol of a take's
// file writer so that capture never waits on disk I/O.
package encoder

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petems/looptray/internal/audio"
	"github.com/petems/looptray/internal/codec"
	"github.com/rs/zerolog"
)

// ErrCannotCreateTarget is returned by Open when the output cannot be created.
var ErrCannotCreateTarget = errors.New("cannot create output target")

// DefaultQueueDepth is the number of blocks buffered between Append and the
// file.
const DefaultQueueDepth = 64

// Options configures a Writer
type Options struct {
	QueueDepth int
	Sink       codec.SinkFactory // defaults to codec.CreateWAV
	Logger     zerolog.Logger
}

// Writer streams sample blocks into a sink from a background goroutine.
// Append is called by a single producer and Finish by a single finalizer;
// the producer must have stopped before Finish is called.
type Writer struct {
	target string
	sink   codec.Sink
	queue  chan []int16
	finish chan struct{}
	done   chan struct{}
	log    zerolog.Logger

	finishOnce sync.Once
	finished   atomic.Bool
	onComplete func(error)

	appended atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
}

// Open creates the target and starts the drain goroutine
func Open(target string, format audio.Format, opts Options) (*Writer, error) {
	factory := opts.Sink
	if factory == nil {
		factory = codec.CreateWAV
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}

	sink, err := factory(target, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCannotCreateTarget, target, err)
	}

	w := &Writer{
		target: target,
		sink:   sink,
		queue:  make(chan []int16, depth),
		finish: make(chan struct{}),
		done:   make(chan struct{}),
		log:    opts.Logger.With().Str("target", target).Logger(),
	}
	go w.run()
	return w, nil
}

// Target returns the path being written
func (w *Writer) Target() string {
	return w.target
}

// Append queues a copy of block for writing. It returns false without
// blocking when the queue is full or the writer has been finished; the
// block is then dropped.
func (w *Writer) Append(block audio.SampleBlock) bool {
	if w.finished.Load() {
		return false
	}

	samples := make([]int16, len(block.Samples))
	copy(samples, block.Samples)

	select {
	case w.queue <- samples:
		w.appended.Add(int64(len(samples)))
		return true
	default:
		w.dropped.Add(int64(len(samples)))
		return false
	}
}

// Finish stops accepting input, then flushes and closes the sink in the
// background. onComplete runs exactly once with the first write or close
// error. Only the first call has any effect.
func (w *Writer) Finish(onComplete func(error)) {
	w.finishOnce.Do(func() {
		w.finished.Store(true)
		w.onComplete = onComplete
		close(w.finish)
	})
}

// Done is closed after the completion callback has returned
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

func (w *Writer) run() {
	defer close(w.done)

	var werr error
	write := func(samples []int16) {
		if werr != nil {
			return
		}
		if err := w.sink.Write(samples); err != nil {
			werr = fmt.Errorf("write %s: %w", w.target, err)
			w.log.Error().Err(err).Msg("Write failed, discarding remaining blocks")
			return
		}
		w.written.Add(int64(len(samples)))
	}

	for {
		select {
		case samples := <-w.queue:
			write(samples)
		case <-w.finish:
			// Flush whatever the producer queued before it stopped
			for {
				select {
				case samples := <-w.queue:
					write(samples)
					continue
				default:
				}
				break
			}

			if err := w.sink.Close(); err != nil && werr == nil {
				werr = fmt.Errorf("close %s: %w", w.target, err)
			}
			w.log.Debug().
				Int64("written", w.written.Load()).
				Int64("dropped", w.dropped.Load()).
				Msg("Writer finished")
			if w.onComplete != nil {
				w.onComplete(werr)
			}
			return
		}
	}
}

// Stats reports sample counts
type Stats struct {
	Appended int64
	Dropped  int64
	Written  int64
}

func (w *Writer) Stats() Stats {
	return Stats{
		Appended: w.appended.Load(),
		Dropped:  w.dropped.Load(),
		Written:  w.written.Load(),
	}
}
