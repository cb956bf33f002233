// Package output plays PCM through the system audio device using oto.
// oto allows one context per process, so clicks and playback share one
// Speaker.
package output

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/petems/looptray/internal/audio"
	"github.com/rs/zerolog"
)

var ErrNotOpen = errors.New("audio output not open")

// Speaker is the shared playback device
type Speaker struct {
	log zerolog.Logger

	mu         sync.Mutex
	otoCtx     *oto.Context
	format     audio.Format
	stream     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	volume     int
	muted      bool
}

func NewSpeaker(log zerolog.Logger) *Speaker {
	return &Speaker{log: log, volume: 100}
}

// Open creates the oto context. Calling it again is a no-op; oto cannot
// reopen with another format.
func (s *Speaker) Open(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.otoCtx != nil {
		if format != s.format {
			s.log.Warn().
				Int("rate", format.SampleRate).
				Int("channels", format.Channels).
				Msg("Output already open with a different format, keeping it")
		}
		return nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	s.otoCtx = ctx
	s.format = format

	// Persistent player fed through a pipe for streamed playback
	s.pipeReader, s.pipeWriter = io.Pipe()
	s.stream = ctx.NewPlayer(s.pipeReader)
	s.stream.Play()

	s.log.Info().Int("rate", format.SampleRate).Int("channels", format.Channels).Msg("Audio output initialized")
	return nil
}

// Format returns the output format
func (s *Speaker) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// PlayPCM starts a short sound without waiting for it to finish
func (s *Speaker) PlayPCM(samples []int16) {
	s.mu.Lock()
	ctx := s.otoCtx
	data := encode(ApplyVolume(samples, s.volume, s.muted))
	s.mu.Unlock()

	if ctx == nil {
		return
	}
	p := ctx.NewPlayer(bytes.NewReader(data))
	p.Play()
}

// Write streams samples to the device, blocking until they are accepted
func (s *Speaker) Write(samples []int16) error {
	s.mu.Lock()
	w := s.pipeWriter
	data := encode(ApplyVolume(samples, s.volume, s.muted))
	s.mu.Unlock()

	if w == nil {
		return ErrNotOpen
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// SetVolume sets the volume (0-100)
func (s *Speaker) SetVolume(volume int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = clampVolume(volume)
	s.log.Debug().Int("volume", s.volume).Msg("Volume set")
}

func (s *Speaker) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetMuted sets mute state
func (s *Speaker) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

// Close releases the device
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeWriter != nil {
		s.pipeWriter.Close()
		s.pipeWriter = nil
	}
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	if s.pipeReader != nil {
		s.pipeReader.Close()
		s.pipeReader = nil
	}
	if s.otoCtx != nil {
		if err := s.otoCtx.Suspend(); err != nil {
			return err
		}
	}
	return nil
}

// ApplyVolume scales samples by volume (0-100), returning a new slice
func ApplyVolume(samples []int16, volume int, muted bool) []int16 {
	out := make([]int16, len(samples))
	if muted {
		return out
	}
	volume = clampVolume(volume)
	if volume == 100 {
		copy(out, samples)
		return out
	}
	for i, s := range samples {
		out[i] = int16(int32(s) * int32(volume) / 100)
	}
	return out
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func encode(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
