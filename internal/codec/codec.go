// Package codec reads and writes the audio containers the recorder works
// with. Takes are always written as 16-bit PCM WAV; composition can read
// WAV, AIFF, MP3 and Ogg Vorbis takes.
package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/petems/looptray/internal/audio"
)

// Extension is the file extension of every recording this module writes.
const Extension = ".wav"

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrInvalidFile       = errors.New("invalid audio file")
	ErrUnsupportedDepth  = errors.New("unsupported bit depth")
)

// Sink accepts appended PCM and produces a valid container on Close.
type Sink interface {
	Write(samples []int16) error
	Close() error
}

// SinkFactory opens a sink at path.
type SinkFactory func(path string, format audio.Format) (Sink, error)

// Clip is a fully decoded take
type Clip struct {
	Format  audio.Format
	Samples []int16 // interleaved
}

// Frames returns the number of sample frames in the clip
func (c Clip) Frames() int {
	if c.Format.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

// Duration returns the playing time of the clip
func (c Clip) Duration() time.Duration {
	return FramesToDuration(c.Frames(), c.Format.SampleRate)
}

// FramesToDuration converts a frame count at sampleRate to a duration
func FramesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate))
}

// Decoder constructs a Clip from an input.
type Decoder interface {
	Decode(r io.ReadSeeker) (Clip, error)
}

// Registry maps file extensions to decoders.
type Registry struct {
	codecs map[string]Decoder

	mtx *sync.Mutex
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[string]Decoder),
		mtx:    &sync.Mutex{},
	}
}

// DefaultRegistry returns a registry with every built-in decoder
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(".wav", WAVDecoder{})
	r.Register(".aiff", AIFFDecoder{})
	r.Register(".aif", AIFFDecoder{})
	r.Register(".mp3", MP3Decoder{})
	r.Register(".ogg", VorbisDecoder{})
	return r
}

func (r *Registry) Register(ext string, d Decoder) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.codecs[strings.ToLower(ext)] = d
}

func (r *Registry) Get(ext string) (Decoder, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	d, ok := r.codecs[strings.ToLower(ext)]
	return d, ok
}

// DecodeFile decodes the file at path with the decoder registered for its
// extension.
func (r *Registry) DecodeFile(path string) (Clip, error) {
	ext := filepath.Ext(path)
	dec, ok := r.Get(ext)
	if !ok {
		return Clip{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()

	clip, err := dec.Decode(f)
	if err != nil {
		return Clip{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return clip, nil
}

// toInt16 rescales a go-audio integer sample of the given depth to 16 bits
func toInt16(v int, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		// 8-bit PCM is unsigned
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}

func floatToInt16(f float32) int16 {
	v := f * 32767
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}
