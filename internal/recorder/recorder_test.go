package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petems/looptray/internal/audio"
	"github.com/petems/looptray/internal/codec"
	"github.com/petems/looptray/internal/library"
	"github.com/petems/looptray/internal/meter"
	"github.com/petems/looptray/internal/registry"
	"github.com/rs/zerolog"
)

// mockSource hands the delivery callbacks to the test, which plays the
// part of the hardware.
type mockSource struct {
	mu       sync.Mutex
	deliver  audio.DeliverFunc
	fail     audio.FailFunc
	startErr error
	starts   int
	stops    int
	device   string
}

func (m *mockSource) Start(_ context.Context, deviceID string, _ audio.Format, deliver audio.DeliverFunc, fail audio.FailFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.device = deviceID
	if m.startErr != nil {
		return m.startErr
	}
	m.deliver = deliver
	m.fail = fail
	return nil
}

func (m *mockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.deliver = nil
	return nil
}

func (m *mockSource) ListDevices() ([]audio.Device, error) {
	return []audio.Device{{ID: "default", Name: "Default", Default: true}}, nil
}

func (m *mockSource) Close() error {
	return nil
}

func (m *mockSource) push(block audio.SampleBlock) {
	m.mu.Lock()
	deliver := m.deliver
	m.mu.Unlock()
	if deliver != nil {
		deliver(block)
	}
}

func (m *mockSource) lose(err error) {
	m.mu.Lock()
	fail := m.fail
	m.mu.Unlock()
	fail(err)
}

type mockFiles struct {
	*library.Library
	mu      sync.Mutex
	removed []string
}

func (m *mockFiles) Remove(path string) error {
	m.mu.Lock()
	m.removed = append(m.removed, path)
	m.mu.Unlock()
	return m.Library.Remove(path)
}

func (m *mockFiles) removedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

type mockRegistry struct {
	mu   sync.Mutex
	recs []registry.Recording
}

func (m *mockRegistry) Append(rec registry.Recording) registry.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return rec
}

func (m *mockRegistry) list() []registry.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]registry.Recording(nil), m.recs...)
}

// gatedSink holds Close until released and can fail it
type gatedSink struct {
	gate     chan struct{}
	closeErr error
}

func (s *gatedSink) Write([]int16) error { return nil }

func (s *gatedSink) Close() error {
	if s.gate != nil {
		<-s.gate
	}
	return s.closeErr
}

type harness struct {
	rec    *Recorder
	source *mockSource
	files  *mockFiles
	reg    *mockRegistry
	dir    string
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		source: &mockSource{},
		files:  &mockFiles{Library: library.New(dir, zerolog.Nop())},
		reg:    &mockRegistry{},
		dir:    dir,
	}
	cfg := Config{
		Source:     h.source,
		Files:      h.files,
		Registry:   h.reg,
		Format:     audio.Format{SampleRate: 8000, Channels: 1},
		QueueDepth: 256,
		Logger:     zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.rec = New(cfg)
	t.Cleanup(func() { h.rec.Close() })
	return h
}

func waitForState(t *testing.T, r *Recorder, want State) {
	t.Helper()
	for i := 0; i < 200; i++ { // Poll for 2 seconds
		if r.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("recorder state = %s, want %s", r.State(), want)
}

// collect drains events in the background
func collect(r *Recorder) func() []Event {
	var mu sync.Mutex
	var events []Event
	go func() {
		for e := range r.Events() {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	}()
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), events...)
	}
}

func waitForError(t *testing.T, events func() []Event, target error) {
	t.Helper()
	for i := 0; i < 200; i++ {
		for _, e := range events() {
			if e.Kind == EventError && errors.Is(e.Err, target) {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no error event matching %v", target)
}

func TestCaptureHundredBlocks(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.rec.Start(library.ModeLoop); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.rec.State() != Capturing {
		t.Fatalf("expected Capturing, got %s", h.rec.State())
	}

	var last []int16
	for b := 0; b < 100; b++ {
		block := make([]int16, 64)
		for i := range block {
			block[i] = int16(b*64 + i)
		}
		last = block
		h.source.push(audio.SampleBlock{Samples: block, Channels: 1})
	}

	h.rec.Stop()
	waitForState(t, h.rec, Idle)

	recs := h.reg.list()
	if len(recs) != 1 {
		t.Fatalf("expected 1 saved recording, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Mode != library.ModeLoop {
		t.Errorf("expected loop mode, got %s", rec.Mode)
	}
	if rec.Title != Title(library.ModeLoop, rec.CreatedAt) {
		t.Errorf("unexpected title %q", rec.Title)
	}

	clip, err := codec.DefaultRegistry().DecodeFile(rec.Path)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if len(clip.Samples) != 6400 {
		t.Fatalf("expected 6400 samples, got %d", len(clip.Samples))
	}
	for i, v := range clip.Samples {
		if v != int16(i) {
			t.Fatalf("sample %d = %d, want %d", i, v, i)
		}
	}

	stats := h.rec.Stats()
	if stats.Delivered != 100 || stats.Dropped != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	want := meter.RMS(last, meter.DefaultGain)
	if got := h.rec.History().Latest(); got != want {
		t.Errorf("latest level = %v, want %v", got, want)
	}
}

func TestStartWhileCapturing(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.rec.Start(library.ModeRecording); err != nil {
		t.Fatal(err)
	}
	if err := h.rec.Start(library.ModeRecording); !errors.Is(err, ErrAlreadyCapturing) {
		t.Errorf("expected ErrAlreadyCapturing, got %v", err)
	}
	if h.source.starts != 1 {
		t.Errorf("expected source started once, got %d", h.source.starts)
	}
}

func TestStartWhileFinalizing(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func(c *Config) {
		c.Sink = func(string, audio.Format) (codec.Sink, error) {
			return &gatedSink{gate: gate}, nil
		}
	})

	if err := h.rec.Start(library.ModeLoop); err != nil {
		t.Fatal(err)
	}
	h.rec.Stop()
	if h.rec.State() != Finalizing {
		t.Fatalf("expected Finalizing, got %s", h.rec.State())
	}

	if err := h.rec.Start(library.ModeLoop); !errors.Is(err, ErrFinalizing) {
		t.Errorf("expected ErrFinalizing, got %v", err)
	}

	// Stop while finalizing is a no-op
	h.rec.Stop()
	if h.source.stops != 1 {
		t.Errorf("expected one source stop, got %d", h.source.stops)
	}

	close(gate)
	waitForState(t, h.rec, Idle)

	if err := h.rec.Start(library.ModeLoop); err != nil {
		t.Errorf("Start() after finalize error = %v", err)
	}
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	h := newHarness(t, nil)

	h.rec.Stop()
	h.rec.Stop()
	if h.rec.State() != Idle {
		t.Errorf("expected Idle, got %s", h.rec.State())
	}
	if h.source.stops != 0 {
		t.Errorf("expected no source stops, got %d", h.source.stops)
	}
	if len(h.reg.list()) != 0 {
		t.Error("expected no recordings")
	}
}

func TestWriterCreateFailure(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Sink = func(string, audio.Format) (codec.Sink, error) {
			return nil, errors.New("read-only volume")
		}
	})

	err := h.rec.Start(library.ModeLoop)
	if !errors.Is(err, ErrWriterCreateFailed) {
		t.Errorf("expected ErrWriterCreateFailed, got %v", err)
	}
	if h.rec.State() != Idle {
		t.Errorf("expected Idle, got %s", h.rec.State())
	}
	if h.source.starts != 0 {
		t.Error("source should not start without a writer")
	}
}

func TestDeviceUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.source.startErr = errors.New("no microphone")

	err := h.rec.Start(library.ModeLoop)
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
	if h.rec.State() != Idle {
		t.Errorf("expected Idle, got %s", h.rec.State())
	}

	removed := h.files.removedPaths()
	if len(removed) != 1 {
		t.Fatalf("expected unused file removed, got %v", removed)
	}
	if _, err := os.Stat(removed[0]); !os.IsNotExist(err) {
		t.Error("unused take file still on disk")
	}
}

func TestFinalizeFailureRemovesPartialFile(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Sink = func(path string, _ audio.Format) (codec.Sink, error) {
			if err := os.WriteFile(path, []byte("partial"), 0644); err != nil {
				return nil, err
			}
			return &gatedSink{closeErr: errors.New("disk full")}, nil
		}
	})
	events := collect(h.rec)

	if err := h.rec.Start(library.ModeLoop); err != nil {
		t.Fatal(err)
	}
	h.rec.Stop()
	waitForState(t, h.rec, Idle)
	waitForError(t, events, ErrFinalizeFailed)

	if len(h.reg.list()) != 0 {
		t.Error("failed take should not be registered")
	}
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected partial file removed, found %d files", len(entries))
	}
}

func TestDeviceLostFinalizesTake(t *testing.T) {
	h := newHarness(t, nil)
	events := collect(h.rec)

	if err := h.rec.Start(library.ModeRecording); err != nil {
		t.Fatal(err)
	}
	h.source.push(audio.SampleBlock{Samples: make([]int16, 800), Channels: 1})
	h.source.lose(errors.New("unplugged"))

	waitForError(t, events, ErrDeviceLost)
	waitForState(t, h.rec, Idle)

	recs := h.reg.list()
	if len(recs) != 1 {
		t.Fatalf("expected the take to be saved, got %d recordings", len(recs))
	}
	if filepath.Dir(recs[0].Path) != h.dir {
		t.Errorf("unexpected path %s", recs[0].Path)
	}
}

func TestCloseFinalizesActiveTake(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.rec.Start(library.ModeLoop); err != nil {
		t.Fatal(err)
	}
	h.source.push(audio.SampleBlock{Samples: []int16{1, 2, 3}, Channels: 1})

	if err := h.rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(h.reg.list()) != 1 {
		t.Error("expected active take saved on close")
	}
	if err := h.rec.Start(library.ModeLoop); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestSetDeviceAppliesToNextTake(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DeviceID = "builtin" })

	if err := h.rec.Start(library.ModeRecording); err != nil {
		t.Fatal(err)
	}
	h.rec.SetDevice("usb")
	if h.source.device != "builtin" {
		t.Errorf("active take should keep its device, got %q", h.source.device)
	}
	h.rec.Stop()
	waitForState(t, h.rec, Idle)

	if err := h.rec.Start(library.ModeRecording); err != nil {
		t.Fatal(err)
	}
	if h.source.device != "usb" {
		t.Errorf("expected usb device, got %q", h.source.device)
	}
}

func TestLifecycleEventsKeptWhileUnread(t *testing.T) {
	h := newHarness(t, nil)

	// Nobody reads Events or Levels during the take
	if err := h.rec.Start(library.ModeLoop); err != nil {
		t.Fatal(err)
	}
	for b := 0; b < 200; b++ {
		h.source.push(audio.SampleBlock{Samples: make([]int16, 64), Channels: 1})
	}
	h.rec.Stop()
	waitForState(t, h.rec, Idle)

	var states []State
	saved := 0
	for len(states) < 3 || saved < 1 {
		select {
		case e := <-h.rec.Events():
			switch e.Kind {
			case EventState:
				states = append(states, e.State)
			case EventSaved:
				saved++
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing events: states = %v, saved = %d", states, saved)
		}
	}

	want := []State{Capturing, Finalizing, Idle}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}
	if n := len(h.rec.Levels()); n != levelQueue {
		t.Errorf("len(Levels()) = %d, want a full queue of %d", n, levelQueue)
	}
}

func TestEventsClosedAfterDrain(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.rec.Start(library.ModeRecording); err != nil {
		t.Fatal(err)
	}
	if err := h.rec.Close(); err != nil {
		t.Fatal(err)
	}

	saved := false
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-h.rec.Events():
			if !ok {
				if !saved {
					t.Error("saved event lost on close")
				}
				return
			}
			if e.Kind == EventSaved {
				saved = true
			}
		case <-timeout:
			t.Fatal("Events() not closed after Close")
		}
	}
}

func TestTitle(t *testing.T) {
	ts := time.Date(2024, 1, 1, 9, 5, 3, 0, time.Local)
	if got := Title(library.ModeLoop, ts); got != "Loop 09:05:03" {
		t.Errorf("Title(loop) = %q", got)
	}
	if got := Title(library.ModeRecording, ts); got != "Recording 09:05:03" {
		t.Errorf("Title(recording) = %q", got)
	}
}
