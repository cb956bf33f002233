package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// Sort orders for the recordings library
const (
	SortChronological = "chronological"
	SortAlphabetical  = "alphabetical"
)

type Config struct {
	LogLevel  string          `json:"log_level"`
	Audio     AudioConfig     `json:"audio"`
	Meter     MeterConfig     `json:"meter"`
	Metronome MetronomeConfig `json:"metronome"`
	Library   LibraryConfig   `json:"library"`

	path string
}

type AudioConfig struct {
	DeviceID        string `json:"device_id"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	FramesPerBuffer int    `json:"frames_per_buffer"`
	QueueDepth      int    `json:"queue_depth"`   // blocks buffered between capture and file writer
	OutputVolume    int    `json:"output_volume"` // 0-100, clicks and playback
	Muted           bool   `json:"muted"`
}

type MeterConfig struct {
	Gain        float64 `json:"gain"`
	HistorySize int     `json:"history_size"`
}

type MetronomeConfig struct {
	BPM             int    `json:"bpm"`
	BeatsPerMeasure int    `json:"beats_per_measure"`
	ClickPath       string `json:"click_path"`        // optional WAV, synthesized when empty
	AccentClickPath string `json:"accent_click_path"` // optional WAV, synthesized when empty
}

type LibraryConfig struct {
	Dir       string `json:"dir"`
	SortOrder string `json:"sort_order"` // "chronological" or "alphabetical"
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			DeviceID:        "",
			SampleRate:      44100,
			Channels:        1,
			FramesPerBuffer: 1024,
			QueueDepth:      64,
			OutputVolume:    100,
		},
		Meter: MeterConfig{
			Gain:        15,
			HistorySize: 60,
		},
		Metronome: MetronomeConfig{
			BPM:             120,
			BeatsPerMeasure: 4,
		},
		Library: LibraryConfig{
			Dir:       RecordingsPath(),
			SortOrder: SortChronological,
		},
		path: configPath(),
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path, overlaying it on the defaults
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = configPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// normalize replaces out-of-range values with defaults
func (c *Config) normalize() {
	d := Default()
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = d.Audio.SampleRate
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = d.Audio.Channels
	}
	if c.Audio.FramesPerBuffer <= 0 {
		c.Audio.FramesPerBuffer = d.Audio.FramesPerBuffer
	}
	if c.Audio.QueueDepth <= 0 {
		c.Audio.QueueDepth = d.Audio.QueueDepth
	}
	if c.Audio.OutputVolume < 0 || c.Audio.OutputVolume > 100 {
		c.Audio.OutputVolume = d.Audio.OutputVolume
	}
	if c.Meter.Gain <= 0 {
		c.Meter.Gain = d.Meter.Gain
	}
	if c.Meter.HistorySize <= 0 {
		c.Meter.HistorySize = d.Meter.HistorySize
	}
	if c.Metronome.BPM < 40 || c.Metronome.BPM > 200 {
		c.Metronome.BPM = d.Metronome.BPM
	}
	if c.Metronome.BeatsPerMeasure < 2 || c.Metronome.BeatsPerMeasure > 8 {
		c.Metronome.BeatsPerMeasure = d.Metronome.BeatsPerMeasure
	}
	if c.Library.Dir == "" {
		c.Library.Dir = d.Library.Dir
	}
	if c.Library.SortOrder != SortAlphabetical {
		c.Library.SortOrder = SortChronological
	}
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "looptray", "config.json")
}

// StatePath returns the platform-specific path of the persisted recordings list
func StatePath() string {
	return filepath.Join(stateBase(), "looptray", "state.json")
}

// RecordingsPath returns the platform-specific recordings directory path
func RecordingsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Music"
	case "windows":
		base = os.Getenv("USERPROFILE") + "\\Music"
	default:
		if xdg := os.Getenv("XDG_MUSIC_DIR"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/Music"
		}
	}

	return filepath.Join(base, "looptray")
}

func stateBase() string {
	switch runtime.GOOS {
	case "darwin":
		return os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		return os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return xdg
		}
		return os.Getenv("HOME") + "/.local/state"
	}
}
