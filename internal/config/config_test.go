package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("expected sample rate 44100, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Meter.HistorySize != 60 {
		t.Errorf("expected history size 60, got %d", cfg.Meter.HistorySize)
	}
	if cfg.Metronome.BPM != 120 || cfg.Metronome.BeatsPerMeasure != 4 {
		t.Errorf("unexpected metronome defaults: %+v", cfg.Metronome)
	}
	if cfg.Library.SortOrder != SortChronological {
		t.Errorf("expected chronological sort, got %q", cfg.Library.SortOrder)
	}
}

func TestLoadFromOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"audio": {"sample_rate": 48000}, "metronome": {"bpm": 90}, "library": {"sort_order": "alphabetical"}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("expected sample rate 48000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("expected default channels to survive overlay, got %d", cfg.Audio.Channels)
	}
	if cfg.Metronome.BPM != 90 {
		t.Errorf("expected bpm 90, got %d", cfg.Metronome.BPM)
	}
	if cfg.Library.SortOrder != SortAlphabetical {
		t.Errorf("expected alphabetical sort, got %q", cfg.Library.SortOrder)
	}
}

func TestLoadFromNormalizesOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"metronome": {"bpm": 500, "beats_per_measure": 1}, "meter": {"gain": -3}, "audio": {"output_volume": 250}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Metronome.BPM != 120 {
		t.Errorf("expected bpm reset to 120, got %d", cfg.Metronome.BPM)
	}
	if cfg.Metronome.BeatsPerMeasure != 4 {
		t.Errorf("expected beats reset to 4, got %d", cfg.Metronome.BeatsPerMeasure)
	}
	if cfg.Meter.Gain != 15 {
		t.Errorf("expected gain reset to 15, got %v", cfg.Meter.Gain)
	}
	if cfg.Audio.OutputVolume != 100 {
		t.Errorf("expected volume reset to 100, got %d", cfg.Audio.OutputVolume)
	}
}

func TestLoadFromInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg.Metronome.BPM = 75
	cfg.Audio.DeviceID = "USB Mic"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Metronome.BPM != 75 || reloaded.Audio.DeviceID != "USB Mic" {
		t.Errorf("unexpected reloaded config: %+v", reloaded)
	}
}
