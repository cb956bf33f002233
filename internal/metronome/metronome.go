// Package metronome paces takes with accented clicks and provides the
// one-measure count-in before a loop is recorded.
package metronome

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petems/looptray/internal/schedule"
	"github.com/rs/zerolog"
)

const (
	MinBPM             = 40
	MaxBPM             = 200
	MinBeatsPerMeasure = 2
	MaxBeatsPerMeasure = 8
)

var (
	ErrTempoOutOfRange   = fmt.Errorf("tempo must be between %d and %d bpm", MinBPM, MaxBPM)
	ErrMeterOutOfRange   = fmt.Errorf("beats per measure must be between %d and %d", MinBeatsPerMeasure, MaxBeatsPerMeasure)
	ErrCountInCancelled  = errors.New("count-in cancelled")
	ErrCountInInProgress = errors.New("count-in already in progress")
)

// State is a snapshot of the metronome
type State struct {
	BPM             int
	BeatsPerMeasure int
	Running         bool
	CountingIn      bool
	Beat            int // next beat to play
}

// Tick describes one click
type Tick struct {
	Beat    int
	Accent  bool
	CountIn bool
}

type Config struct {
	BPM             int
	BeatsPerMeasure int
	Clicker         Clicker             // optional
	Ticker          schedule.TickerFunc // optional, defaults to time.Ticker
	OnTick          func(Tick)          // optional, called after each click; must not call Stop
	Logger          zerolog.Logger
}

type countIn struct {
	beats      int
	onComplete func(error)
}

type Metronome struct {
	clicker   Clicker
	newTicker schedule.TickerFunc
	onTick    func(Tick)
	log       zerolog.Logger

	mu          sync.Mutex
	bpm         int
	beats       int
	running     bool
	beat        int
	gen         uint64 // bumped whenever the active task is replaced
	task        *schedule.Task
	countIn     *countIn
	interrupted bool
	wasRunning  bool
}

// New creates a stopped metronome. Out of range settings fall back to 120
// bpm in 4.
func New(cfg Config) *Metronome {
	m := &Metronome{
		clicker:   cfg.Clicker,
		newTicker: cfg.Ticker,
		onTick:    cfg.OnTick,
		log:       cfg.Logger,
		bpm:       cfg.BPM,
		beats:     cfg.BeatsPerMeasure,
	}
	if m.bpm < MinBPM || m.bpm > MaxBPM {
		m.bpm = 120
	}
	if m.beats < MinBeatsPerMeasure || m.beats > MaxBeatsPerMeasure {
		m.beats = 4
	}
	return m
}

// State returns a snapshot
func (m *Metronome) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		BPM:             m.bpm,
		BeatsPerMeasure: m.beats,
		Running:         m.running,
		CountingIn:      m.countIn != nil,
		Beat:            m.beat,
	}
}

// Interval returns the time between beats
func (m *Metronome) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intervalLocked()
}

func (m *Metronome) intervalLocked() time.Duration {
	return time.Minute / time.Duration(m.bpm)
}

// Start begins ticking from beat 0, with the first click now. It is
// ignored during a count-in.
func (m *Metronome) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.countIn != nil {
		m.log.Debug().Msg("Start ignored during count-in")
		return
	}
	if m.running {
		return
	}
	m.startLocked()
	m.log.Info().Int("bpm", m.bpm).Int("beats", m.beats).Msg("Metronome started")
}

// Stop halts ticking and cancels any count-in. Stopping a stopped
// metronome does nothing.
func (m *Metronome) Stop() {
	m.mu.Lock()
	task, ci := m.haltLocked()
	m.mu.Unlock()

	m.finish(task, ci)
}

// Toggle starts a stopped metronome and stops a running one. It returns
// whether the metronome is now running.
func (m *Metronome) Toggle() bool {
	m.mu.Lock()
	if m.running || m.countIn != nil {
		task, ci := m.haltLocked()
		m.mu.Unlock()
		m.finish(task, ci)
		return false
	}
	m.startLocked()
	m.mu.Unlock()
	return true
}

// SetBPM changes the tempo, restarting a running metronome at beat 0
func (m *Metronome) SetBPM(bpm int) error {
	if bpm < MinBPM || bpm > MaxBPM {
		return fmt.Errorf("%w: %d", ErrTempoOutOfRange, bpm)
	}

	m.mu.Lock()
	m.bpm = bpm
	old := m.restartLocked()
	m.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	return nil
}

// SetBeatsPerMeasure changes the meter, restarting a running metronome at beat 0
func (m *Metronome) SetBeatsPerMeasure(beats int) error {
	if beats < MinBeatsPerMeasure || beats > MaxBeatsPerMeasure {
		return fmt.Errorf("%w: %d", ErrMeterOutOfRange, beats)
	}

	m.mu.Lock()
	m.beats = beats
	m.beat %= beats
	old := m.restartLocked()
	m.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	return nil
}

// StartCountIn stops the metronome, plays one measure of clicks and calls
// onComplete(nil) one beat after the last click, on what would be the next
// downbeat. The metronome is stopped when onComplete runs; onComplete may
// call Start. Stop or an interruption during the count-in calls
// onComplete(ErrCountInCancelled). onComplete is called exactly once
// unless ErrCountInInProgress is returned.
func (m *Metronome) StartCountIn(onComplete func(error)) error {
	m.mu.Lock()
	if m.countIn != nil {
		m.mu.Unlock()
		return ErrCountInInProgress
	}

	old := m.task
	ci := &countIn{beats: m.beats, onComplete: onComplete}
	m.countIn = ci
	m.running = false
	m.beat = 0
	m.gen++
	gen := m.gen
	m.task = schedule.Every(m.intervalLocked(), m.newTicker, func(n int) bool {
		return m.countInTick(gen, n)
	})
	m.log.Debug().Int("beats", ci.beats).Int("bpm", m.bpm).Msg("Count-in started")
	m.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	return nil
}

// InterruptionBegan stops the metronome, remembering whether it was running
func (m *Metronome) InterruptionBegan() {
	m.mu.Lock()
	if m.interrupted {
		m.mu.Unlock()
		return
	}
	m.interrupted = true
	wasRunning := m.running
	m.wasRunning = wasRunning
	task, ci := m.haltLocked()
	m.mu.Unlock()

	m.log.Info().Bool("was_running", wasRunning).Msg("Metronome interrupted")
	m.finish(task, ci)
}

// InterruptionEnded restarts the metronome if it was running when the
// interruption began and the system allows resuming.
func (m *Metronome) InterruptionEnded(shouldResume bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.interrupted {
		return
	}
	m.interrupted = false
	resume := m.wasRunning
	m.wasRunning = false

	if shouldResume && resume && !m.running && m.countIn == nil {
		m.startLocked()
		m.log.Info().Msg("Metronome resumed after interruption")
	}
}

func (m *Metronome) startLocked() {
	m.running = true
	m.beat = 0
	m.gen++
	gen := m.gen
	m.task = schedule.Every(m.intervalLocked(), m.newTicker, func(int) bool {
		return m.tick(gen)
	})
}

// restartLocked replaces the running task with one at the current
// settings. It returns the task the caller must cancel after unlocking.
func (m *Metronome) restartLocked() *schedule.Task {
	if !m.running {
		return nil
	}
	old := m.task
	m.startLocked()
	return old
}

// haltLocked stops everything and returns what the caller must clean up
// after unlocking.
func (m *Metronome) haltLocked() (*schedule.Task, *countIn) {
	task, ci := m.task, m.countIn
	m.task = nil
	m.countIn = nil
	m.gen++
	if m.running {
		m.log.Info().Msg("Metronome stopped")
	}
	m.running = false
	return task, ci
}

func (m *Metronome) finish(task *schedule.Task, ci *countIn) {
	if task != nil {
		task.Cancel()
	}
	if ci != nil && ci.onComplete != nil {
		ci.onComplete(ErrCountInCancelled)
	}
}

func (m *Metronome) tick(gen uint64) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	t := Tick{Beat: m.beat, Accent: m.beat == 0}
	m.beat = (m.beat + 1) % m.beats
	m.mu.Unlock()

	m.emit(t)
	return true
}

func (m *Metronome) countInTick(gen uint64, n int) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	ci := m.countIn

	if n < ci.beats {
		t := Tick{Beat: n, Accent: n == 0, CountIn: true}
		m.beat = (n + 1) % ci.beats
		m.mu.Unlock()
		m.emit(t)
		return true
	}

	// The measure is complete; this task ends here
	m.countIn = nil
	m.task = nil
	m.gen++
	m.beat = 0
	m.mu.Unlock()

	m.log.Debug().Msg("Count-in complete")
	if ci.onComplete != nil {
		ci.onComplete(nil)
	}
	return false
}

func (m *Metronome) emit(t Tick) {
	if m.clicker != nil {
		m.clicker.Click(t.Accent)
	}
	if m.onTick != nil {
		m.onTick(t)
	}
}
