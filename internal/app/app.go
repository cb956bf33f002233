package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/petems/looptray/internal/audio"
	"github.com/petems/looptray/internal/composer"
	"github.com/petems/looptray/internal/config"
	"github.com/petems/looptray/internal/library"
	"github.com/petems/looptray/internal/metronome"
	"github.com/petems/looptray/internal/playback"
	"github.com/petems/looptray/internal/recorder"
	"github.com/petems/looptray/internal/registry"
	"github.com/rs/zerolog"
)

var (
	ErrNoLoops          = errors.New("no loops recorded")
	ErrVolumeOutOfRange = errors.New("volume must be between 0 and 100")
)

// Volume controls the output level shared by clicks and playback
type Volume interface {
	SetVolume(volume int)
	SetMuted(muted bool)
}

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetCountingIn()
	SetRecording()
	SetSaving()
	SetError()
	SetLevel(level float64)
}

type Config struct {
	Source        audio.Source
	Recorder      *recorder.Recorder
	Registry      *registry.Registry
	Metronome     *metronome.Metronome
	Composer      *composer.Composer
	Player        *playback.Player
	Library       *library.Library
	Output        Volume // Optional - can be nil
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

type App struct {
	source    audio.Source
	rec       *recorder.Recorder
	reg       *registry.Registry
	metronome *metronome.Metronome
	composer  *composer.Composer
	player    *playback.Player
	lib       *library.Library
	volume    Volume
	cfg       *config.Config
	log       zerolog.Logger

	mu       sync.Mutex
	status   StatusUpdater
	lastSave registry.Recording

	// loopMu orders a finishing count-in against StopRecording
	loopMu      sync.Mutex
	loopSeq     uint64
	pendingLoop uint64 // 0 when no count-in may start a take

	eventsDone chan struct{}
}

func New(cfg Config) *App {
	a := &App{
		source:     cfg.Source,
		rec:        cfg.Recorder,
		reg:        cfg.Registry,
		metronome:  cfg.Metronome,
		composer:   cfg.Composer,
		player:     cfg.Player,
		lib:        cfg.Library,
		volume:     cfg.Output,
		cfg:        cfg.Config,
		log:        cfg.Logger,
		status:     cfg.StatusUpdater,
		eventsDone: make(chan struct{}),
	}
	go a.watchRecorder()
	return a
}

// SetStatusUpdater sets the status updater (for circular dependency resolution)
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

func (a *App) updateStatus(fn func(StatusUpdater)) {
	a.mu.Lock()
	s := a.status
	a.mu.Unlock()
	if s != nil {
		fn(s)
	}
}

// watchRecorder turns recorder events into status updates until the
// recorder is closed.
func (a *App) watchRecorder() {
	defer close(a.eventsDone)

	events, levels := a.rec.Events(), a.rec.Levels()
	failed := false
	for {
		var e recorder.Event
		select {
		case level := <-levels:
			a.updateStatus(func(s StatusUpdater) { s.SetLevel(level) })
			continue
		case ev, ok := <-events:
			if !ok {
				return
			}
			e = ev
		}

		switch e.Kind {
		case recorder.EventState:
			switch e.State {
			case recorder.Capturing:
				failed = false
				a.updateStatus(StatusUpdater.SetRecording)
			case recorder.Finalizing:
				a.updateStatus(StatusUpdater.SetSaving)
			case recorder.Idle:
				if failed {
					a.updateStatus(StatusUpdater.SetError)
				} else {
					a.updateStatus(StatusUpdater.SetIdle)
				}
				a.updateStatus(func(s StatusUpdater) { s.SetLevel(0) })
			}
		case recorder.EventSaved:
			a.mu.Lock()
			a.lastSave = e.Recording
			a.mu.Unlock()
			a.log.Info().Str("title", e.Recording.Title).Msg("Saved")
		case recorder.EventError:
			failed = true
			a.log.Error().Err(e.Err).Msg("Recorder error")
		}
	}
}

// RecordLoop counts in one measure and starts a loop take on the downbeat.
// A metronome that was running keeps clicking through the take.
func (a *App) RecordLoop() error {
	if st := a.rec.State(); st != recorder.Idle {
		return fmt.Errorf("cannot record while %s", st)
	}

	wasRunning := a.metronome.State().Running

	a.loopMu.Lock()
	a.loopSeq++
	token := a.loopSeq
	a.pendingLoop = token
	a.loopMu.Unlock()

	a.updateStatus(StatusUpdater.SetCountingIn)
	err := a.metronome.StartCountIn(func(err error) {
		if err != nil {
			a.log.Info().Err(err).Msg("Count-in ended without recording")
			a.updateStatus(StatusUpdater.SetIdle)
			return
		}
		a.startLoop(token, wasRunning)
	})
	if err != nil {
		a.cancelPendingLoop()
		a.updateStatus(StatusUpdater.SetIdle)
	}
	return err
}

func (a *App) startLoop(token uint64, clicks bool) {
	a.loopMu.Lock()
	defer a.loopMu.Unlock()

	if a.pendingLoop != token {
		a.log.Info().Msg("Loop stopped before the downbeat")
		a.updateStatus(StatusUpdater.SetIdle)
		return
	}
	a.pendingLoop = 0

	if clicks {
		a.metronome.Start()
	}
	if err := a.rec.Start(library.ModeLoop); err != nil {
		a.log.Error().Err(err).Msg("Failed to start loop")
		a.updateStatus(StatusUpdater.SetError)
	}
}

func (a *App) cancelPendingLoop() {
	a.loopMu.Lock()
	a.pendingLoop = 0
	a.loopMu.Unlock()
}

// RecordTake starts a free recording without count-in
func (a *App) RecordTake() error {
	if err := a.rec.Start(library.ModeRecording); err != nil {
		a.log.Error().Err(err).Msg("Failed to start recording")
		return err
	}
	return nil
}

// StopRecording cancels a pending count-in or ends the current take
func (a *App) StopRecording() {
	// After this no count-in can start a take. A take that already
	// started is stopped below.
	a.cancelPendingLoop()
	if a.metronome.State().CountingIn {
		a.metronome.Stop()
	}
	a.rec.Stop()
}

// IsRecording reports whether a take is being captured
func (a *App) IsRecording() bool {
	return a.rec.State() == recorder.Capturing
}

func (a *App) ToggleMetronome() bool {
	return a.metronome.Toggle()
}

func (a *App) Metronome() metronome.State {
	return a.metronome.State()
}

func (a *App) SetBPM(bpm int) error {
	if err := a.metronome.SetBPM(bpm); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Metronome.BPM = bpm
	return a.cfg.Save()
}

func (a *App) SetBeatsPerMeasure(beats int) error {
	if err := a.metronome.SetBeatsPerMeasure(beats); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Metronome.BeatsPerMeasure = beats
	return a.cfg.Save()
}

// PlayAll plays every recording in registry order, blocking until done
func (a *App) PlayAll(ctx context.Context) error {
	recs := a.reg.List()
	if len(recs) == 0 {
		return nil
	}
	return a.play(ctx, recs)
}

// Play plays a single recording
func (a *App) Play(ctx context.Context, id uuid.UUID) error {
	rec, ok := a.reg.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, id)
	}
	return a.play(ctx, []registry.Recording{rec})
}

// play interrupts the metronome for the length of playback; a metronome
// that was running resumes when playback ends.
func (a *App) play(ctx context.Context, recs []registry.Recording) error {
	if a.player.IsPlaying() {
		return playback.ErrBusy
	}

	a.metronome.InterruptionBegan()
	defer a.metronome.InterruptionEnded(true)

	return a.player.PlayAll(ctx, recs)
}

func (a *App) StopPlayback() {
	a.player.Stop()
}

// ExportLoops composes every loop take, in recording order, into one file
func (a *App) ExportLoops(ctx context.Context) (composer.Composed, error) {
	var loops []registry.Recording
	for _, rec := range a.reg.List() {
		if rec.Mode == library.ModeLoop {
			loops = append(loops, rec)
		}
	}
	if len(loops) == 0 {
		return composer.Composed{}, ErrNoLoops
	}
	return a.composer.Compose(ctx, loops)
}

func (a *App) Rename(id uuid.UUID, title string) error {
	return a.reg.Rename(id, title)
}

func (a *App) Delete(id uuid.UUID) error {
	return a.reg.Delete(id)
}

// Recordings returns the registry in the current sort order
func (a *App) Recordings() []registry.Recording {
	return a.reg.Sorted(a.reg.SortOrder())
}

// LastSaved returns the most recently saved take
func (a *App) LastSaved() (registry.Recording, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSave, a.lastSave.ID != uuid.Nil
}

// ListFiles returns the recording files on disk in the current sort order
func (a *App) ListFiles() []library.File {
	return a.lib.List(a.reg.SortOrder())
}

// RenameFile renames a file on disk, keeping its extension. A recording
// that pointed at the file follows it.
func (a *App) RenameFile(path, newName string) (string, error) {
	dst, err := a.lib.Move(path, newName)
	if err != nil {
		return "", err
	}
	if dst != path {
		a.reg.Relocate(path, dst)
	}
	return dst, nil
}

// ToggleSortOrder switches between chronological and alphabetical order
func (a *App) ToggleSortOrder() library.SortOrder {
	order := a.reg.SortOrder().Toggle()
	a.reg.SetSortOrder(order)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Library.SortOrder = string(order)
	if err := a.cfg.Save(); err != nil {
		a.log.Error().Err(err).Msg("Failed to save config")
	}
	return order
}

// Levels returns the recent input levels, oldest first
func (a *App) Levels() []float64 {
	return a.rec.History().Snapshot()
}

func (a *App) ListDevices() ([]audio.Device, error) {
	if a.source == nil {
		return nil, audio.ErrDeviceUnavailable
	}
	return a.source.ListDevices()
}

func (a *App) SetDevice(id string) error {
	if a.rec.State() != recorder.Idle {
		return fmt.Errorf("cannot change device while recording")
	}

	a.rec.SetDevice(id)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Audio.DeviceID = id
	return a.cfg.Save()
}

// SetVolume sets the output volume (0-100) and saves it
func (a *App) SetVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("%w: %d", ErrVolumeOutOfRange, volume)
	}
	if a.volume != nil {
		a.volume.SetVolume(volume)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Audio.OutputVolume = volume
	return a.cfg.Save()
}

// SetMuted mutes or unmutes the output and saves the setting
func (a *App) SetMuted(muted bool) error {
	if a.volume != nil {
		a.volume.SetMuted(muted)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Audio.Muted = muted
	return a.cfg.Save()
}

// Shutdown stops playback and the metronome and finalizes any take in
// progress.
func (a *App) Shutdown(ctx context.Context) error {
	a.player.Stop()
	a.metronome.Stop()

	if err := a.rec.Close(); err != nil && !errors.Is(err, recorder.ErrClosed) {
		return err
	}

	select {
	case <-a.eventsDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
