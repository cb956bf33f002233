package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/looptray/internal/app"
	"github.com/petems/looptray/internal/audio"
	"github.com/petems/looptray/internal/codec"
	"github.com/petems/looptray/internal/composer"
	"github.com/petems/looptray/internal/config"
	"github.com/petems/looptray/internal/library"
	"github.com/petems/looptray/internal/logging"
	"github.com/petems/looptray/internal/meter"
	"github.com/petems/looptray/internal/metronome"
	"github.com/petems/looptray/internal/output"
	"github.com/petems/looptray/internal/permissions"
	"github.com/petems/looptray/internal/playback"
	"github.com/petems/looptray/internal/recorder"
	"github.com/petems/looptray/internal/registry"
	"github.com/petems/looptray/internal/state"
	"github.com/petems/looptray/internal/tray"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsurePermissions(); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize audio capture
	capture, err := audio.New(cfg.Audio)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer capture.Close()

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}

	lib := library.New(cfg.Library.Dir, log)
	if err := lib.Ensure(); err != nil {
		log.Fatal().Err(err).Str("dir", lib.Dir()).Msg("Failed to create recordings directory")
	}

	reg := registry.New(state.NewFileStore(config.StatePath()), lib, log)
	reg.Load()
	reg.SetSortOrder(library.ParseSortOrder(cfg.Library.SortOrder))

	// Shared playback device for clicks and takes
	speaker := output.NewSpeaker(log)
	if err := speaker.Open(format); err != nil {
		log.Error().Err(err).Msg("Audio output unavailable, clicks and playback disabled")
	}
	defer speaker.Close()
	speaker.SetVolume(cfg.Audio.OutputVolume)
	speaker.SetMuted(cfg.Audio.Muted)

	decoders := codec.DefaultRegistry()
	clicks, err := metronome.LoadClicks(decoders, cfg.Metronome.AccentClickPath, cfg.Metronome.ClickPath, format)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load click sounds, using synthesized clicks")
		clicks = metronome.SynthClicks(format)
	}

	met := metronome.New(metronome.Config{
		BPM:             cfg.Metronome.BPM,
		BeatsPerMeasure: cfg.Metronome.BeatsPerMeasure,
		Clicker:         metronome.PCMClicker{Out: speaker, Clicks: clicks},
		Logger:          log,
	})

	rec := recorder.New(recorder.Config{
		Source:     capture,
		Files:      lib,
		Registry:   reg,
		History:    meter.NewHistory(cfg.Meter.HistorySize),
		Format:     format,
		DeviceID:   cfg.Audio.DeviceID,
		Gain:       cfg.Meter.Gain,
		QueueDepth: cfg.Audio.QueueDepth,
		Logger:     log,
	})

	comp := composer.New(composer.Config{
		Files:    lib,
		Decoders: decoders,
		Logger:   log,
	})

	// Create tray UI first (we'll pass it to app and the player)
	trayUI := tray.New(nil, cfg, Version, Commit, log) // App reference set below

	player := playback.New(playback.Config{
		Output:     speaker,
		Decoders:   decoders,
		OnProgress: trayUI.SetProgress,
		Logger:     log,
	})

	// Create app with tray as status updater
	application := app.New(app.Config{
		Source:        capture,
		Recorder:      rec,
		Registry:      reg,
		Metronome:     met,
		Composer:      comp,
		Player:        player,
		Library:       lib,
		Output:        speaker,
		Config:        cfg,
		Logger:        log,
		StatusUpdater: trayUI,
	})

	// Set app reference in tray
	trayUI.SetApp(application)

	log.Info().
		Int("recordings", reg.Len()).
		Str("dir", lib.Dir()).
		Msg("LoopTray starting...")

	shutdown := func() {
		sctx, scancel := context.WithTimeout(ctx, 10*time.Second)
		defer scancel()
		if err := application.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		shutdown()
		os.Exit(0)
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Tray error")
	}
	shutdown()
}
