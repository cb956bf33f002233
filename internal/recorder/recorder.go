// Package recorder runs capture sessions: it routes each block from the
// input device to the streaming file writer and the level meter, and turns
// a finished file into a registry entry.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/looptray/internal/audio"
	"github.com/petems/looptray/internal/codec"
	"github.com/petems/looptray/internal/encoder"
	"github.com/petems/looptray/internal/library"
	"github.com/petems/looptray/internal/meter"
	"github.com/petems/looptray/internal/registry"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyCapturing   = errors.New("already capturing")
	ErrFinalizing         = errors.New("previous take is still being finalized")
	ErrWriterCreateFailed = errors.New("cannot create take file")
	ErrFinalizeFailed     = errors.New("take could not be finalized")
	ErrDeviceLost         = errors.New("capture device lost")
	ErrClosed             = errors.New("recorder closed")
)

// State is the capture session state
type State int32

const (
	Idle State = iota
	Capturing
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// EventKind identifies an Event
type EventKind int

const (
	EventState EventKind = iota
	EventSaved
	EventError
)

// Event is a lifecycle notification published on the Events channel
type Event struct {
	Kind      EventKind
	State     State              // EventState
	Recording registry.Recording // EventSaved
	Err       error              // EventError
}

// levelQueue is how many amplitude readings Levels buffers
const levelQueue = 64

// Files names and removes take files
type Files interface {
	NewName(mode library.Mode, t time.Time) string
	Remove(path string) error
}

// Appender receives finished takes
type Appender interface {
	Append(rec registry.Recording) registry.Recording
}

type Config struct {
	Source     audio.Source
	Files      Files
	Registry   Appender
	History    *meter.History // optional
	Format     audio.Format
	DeviceID   string
	Gain       float64
	QueueDepth int
	Sink       codec.SinkFactory // optional, defaults to WAV
	Logger     zerolog.Logger
	Now        func() time.Time // optional
}

// Stats counts blocks seen on the real-time path
type Stats struct {
	Delivered int64
	Dropped   int64
}

type session struct {
	id        uint64
	mode      library.Mode
	path      string
	startedAt time.Time
	writer    *encoder.Writer
	cancel    context.CancelFunc
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdClose
)

type command struct {
	kind  cmdKind
	mode  library.Mode
	reply chan error
}

type report struct {
	session uint64
	err     error
}

// Recorder is the capture sink. All session state is owned by a single
// worker goroutine; public methods post commands to it.
type Recorder struct {
	source   audio.Source
	files    Files
	registry Appender
	history  *meter.History
	format   audio.Format
	gain     float64
	depth    int
	sink     codec.SinkFactory
	log      zerolog.Logger
	now      func() time.Time

	cmds     chan command
	lost     chan report
	finished chan report
	outbox   chan Event
	events   chan Event
	levels   chan float64
	exited   chan struct{}

	closeOnce sync.Once
	deviceID  atomic.Value // string
	state     atomic.Int32
	delivered atomic.Int64
	dropped   atomic.Int64

	// Owned by the worker
	sess   *session
	nextID uint64
}

// New creates a Recorder and starts its worker
func New(cfg Config) *Recorder {
	history := cfg.History
	if history == nil {
		history = meter.NewHistory(meter.DefaultHistorySize)
	}
	gain := cfg.Gain
	if gain <= 0 {
		gain = meter.DefaultGain
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r := &Recorder{
		source:   cfg.Source,
		files:    cfg.Files,
		registry: cfg.Registry,
		history:  history,
		format:   cfg.Format,
		gain:     gain,
		depth:    cfg.QueueDepth,
		sink:     cfg.Sink,
		log:      cfg.Logger,
		now:      now,
		cmds:     make(chan command),
		lost:     make(chan report, 1),
		finished: make(chan report, 1),
		outbox:   make(chan Event),
		events:   make(chan Event),
		levels:   make(chan float64, levelQueue),
		exited:   make(chan struct{}),
	}
	r.deviceID.Store(cfg.DeviceID)
	go r.forward()
	go r.run()
	return r
}

// SetDevice selects the input device for the next take. An empty id means
// the system default.
func (r *Recorder) SetDevice(id string) {
	r.deviceID.Store(id)
}

// Events returns the lifecycle event channel. Events are never dropped:
// they queue until read. The channel is closed after Close once every
// queued event has been received.
func (r *Recorder) Events() <-chan Event {
	return r.events
}

// Levels returns amplitude readings from the capture path. Readings are
// dropped when the consumer falls behind.
func (r *Recorder) Levels() <-chan float64 {
	return r.levels
}

// State returns the current session state
func (r *Recorder) State() State {
	return State(r.state.Load())
}

// History returns the level history fed by capture
func (r *Recorder) History() *meter.History {
	return r.history
}

func (r *Recorder) Stats() Stats {
	return Stats{Delivered: r.delivered.Load(), Dropped: r.dropped.Load()}
}

// Start begins a new take in mode
func (r *Recorder) Start(mode library.Mode) error {
	return r.post(command{kind: cmdStart, mode: mode})
}

// Stop ends the current take. The file is finalized in the background;
// Stop returns once the session has left Capturing. It is a no-op when
// idle or already finalizing.
func (r *Recorder) Stop() {
	r.post(command{kind: cmdStop})
}

// Close finalizes any active take and stops the worker
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.post(command{kind: cmdClose})
		<-r.exited
	})
	return err
}

func (r *Recorder) post(c command) error {
	c.reply = make(chan error, 1)
	select {
	case r.cmds <- c:
	case <-r.exited:
		return ErrClosed
	}
	select {
	case err := <-c.reply:
		return err
	case <-r.exited:
		return ErrClosed
	}
}

func (r *Recorder) run() {
	defer func() {
		close(r.outbox)
		close(r.exited)
	}()

	for {
		select {
		case c := <-r.cmds:
			switch c.kind {
			case cmdStart:
				c.reply <- r.start(c.mode)
			case cmdStop:
				r.stop()
				c.reply <- nil
			case cmdClose:
				r.shutdown()
				c.reply <- nil
				return
			}
		case l := <-r.lost:
			if r.sess == nil || l.session != r.sess.id || r.State() != Capturing {
				continue
			}
			r.log.Error().Err(l.err).Str("path", r.sess.path).Msg("Capture device lost, finalizing take")
			r.publish(Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrDeviceLost, l.err)})
			r.stop()
		case f := <-r.finished:
			r.complete(f)
		}
	}
}

func (r *Recorder) start(mode library.Mode) error {
	switch r.State() {
	case Capturing:
		return ErrAlreadyCapturing
	case Finalizing:
		return ErrFinalizing
	}

	startedAt := r.now()
	path := r.files.NewName(mode, startedAt)

	w, err := encoder.Open(path, r.format, encoder.Options{
		QueueDepth: r.depth,
		Sink:       r.sink,
		Logger:     r.log,
	})
	if err != nil {
		r.log.Error().Err(err).Str("path", path).Msg("Failed to create take file")
		return fmt.Errorf("%w: %w", ErrWriterCreateFailed, err)
	}

	r.nextID++
	id := r.nextID
	r.history.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	deliver := func(block audio.SampleBlock) {
		r.delivered.Add(1)
		if !w.Append(block) {
			r.dropped.Add(1)
		}
		level := meter.RMS(block.Samples, r.gain)
		r.history.Push(level)
		select {
		case r.levels <- level:
		default:
		}
	}
	fail := func(err error) {
		select {
		case r.lost <- report{session: id, err: err}:
		default:
		}
	}

	if err := r.source.Start(ctx, r.deviceID.Load().(string), r.format, deliver, fail); err != nil {
		cancel()
		w.Finish(nil)
		<-w.Done()
		if rerr := r.files.Remove(path); rerr != nil {
			r.log.Warn().Err(rerr).Str("path", path).Msg("Failed to remove unused take file")
		}
		r.log.Error().Err(err).Msg("Failed to start capture")
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return err
	}

	r.sess = &session{
		id:        id,
		mode:      mode,
		path:      path,
		startedAt: startedAt,
		writer:    w,
		cancel:    cancel,
	}
	r.log.Info().Str("mode", string(mode)).Str("path", path).Msg("Capture started")
	r.setState(Capturing)
	return nil
}

func (r *Recorder) stop() {
	if r.State() != Capturing || r.sess == nil {
		return
	}
	s := r.sess

	// The source must be quiet before the writer is finished
	if err := r.source.Stop(); err != nil {
		r.log.Warn().Err(err).Msg("Error stopping capture")
	}
	s.cancel()

	r.setState(Finalizing)
	s.writer.Finish(func(err error) {
		r.finished <- report{session: s.id, err: err}
	})
}

func (r *Recorder) complete(f report) {
	s := r.sess
	if s == nil || f.session != s.id {
		return
	}
	r.sess = nil

	stats := s.writer.Stats()
	if f.err != nil {
		r.log.Error().Err(f.err).Str("path", s.path).Msg("Failed to finalize take")
		if err := r.files.Remove(s.path); err != nil {
			r.log.Warn().Err(err).Str("path", s.path).Msg("Failed to remove partial take")
		}
		r.publish(Event{Kind: EventError, Err: fmt.Errorf("%w: %w", ErrFinalizeFailed, f.err)})
	} else {
		rec := r.registry.Append(registry.Recording{
			Path:      s.path,
			CreatedAt: s.startedAt,
			Title:     Title(s.mode, s.startedAt),
			Mode:      s.mode,
		})
		r.log.Info().
			Str("path", s.path).
			Int64("samples", stats.Written).
			Int64("dropped", stats.Dropped).
			Msg("Take saved")
		r.publish(Event{Kind: EventSaved, Recording: rec})
	}
	r.setState(Idle)
}

func (r *Recorder) shutdown() {
	r.stop()
	if r.sess != nil {
		r.complete(<-r.finished)
	}
}

func (r *Recorder) setState(s State) {
	r.state.Store(int32(s))
	r.publish(Event{Kind: EventState, State: s})
}

func (r *Recorder) publish(e Event) {
	r.outbox <- e
}

// forward moves published events to Events through an unbounded queue so
// the worker never waits on a slow consumer.
func (r *Recorder) forward() {
	defer close(r.events)

	var pending []Event
	in := r.outbox
	for in != nil || len(pending) > 0 {
		var out chan<- Event
		var next Event
		if len(pending) > 0 {
			out = r.events
			next = pending[0]
		}

		select {
		case e, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, e)
		case out <- next:
			pending = pending[1:]
		}
	}
}

// Title is the default display title of a take
func Title(mode library.Mode, t time.Time) string {
	if mode == library.ModeLoop {
		return "Loop " + t.Local().Format("15:04:05")
	}
	return "Recording " + t.Local().Format("15:04:05")
}
