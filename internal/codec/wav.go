package codec

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/petems/looptray/internal/audio"
)

type wavSink struct {
	f      *os.File
	enc    *wav.Encoder
	buf    *goaudio.IntBuffer
	closed bool
}

// CreateWAV creates a 16-bit PCM WAV file at path. The header is written
// immediately so a sink closed without samples still leaves a valid file.
func CreateWAV(path string, format audio.Format) (Sink, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid format: %dHz %dch", format.SampleRate, format.Channels)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	s := &wavSink{
		f:   f,
		enc: wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			SourceBitDepth: 16,
		},
	}

	if err := s.enc.Write(s.buf); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return s, nil
}

func (s *wavSink) Write(samples []int16) error {
	if s.closed {
		return os.ErrClosed
	}
	if len(samples) == 0 {
		return nil
	}

	if cap(s.buf.Data) < len(samples) {
		s.buf.Data = make([]int, len(samples))
	}
	s.buf.Data = s.buf.Data[:len(samples)]
	for i, v := range samples {
		s.buf.Data[i] = int(v)
	}
	return s.enc.Write(s.buf)
}

func (s *wavSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.enc.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// WAVDecoder decodes PCM WAV files of 8, 16, 24 or 32 bits.
type WAVDecoder struct{}

func (WAVDecoder) Decode(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: not a wav file", ErrInvalidFile)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("read wav pcm: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return Clip{}, fmt.Errorf("%w: missing wav format", ErrInvalidFile)
	}

	depth := int(dec.BitDepth)
	switch depth {
	case 8, 16, 24, 32:
	default:
		return Clip{}, fmt.Errorf("%w: %d", ErrUnsupportedDepth, depth)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = toInt16(v, depth)
	}

	return Clip{
		Format: audio.Format{
			SampleRate: buf.Format.SampleRate,
			Channels:   buf.Format.NumChannels,
		},
		Samples: samples,
	}, nil
}

// WriteWAVFile writes clip to path as 16-bit PCM WAV
func WriteWAVFile(path string, clip Clip) error {
	sink, err := CreateWAV(path, clip.Format)
	if err != nil {
		return err
	}

	// Write in chunks to bound the conversion buffer
	const chunkSize = 8192
	for i := 0; i < len(clip.Samples); i += chunkSize {
		end := min(i+chunkSize, len(clip.Samples))
		if err := sink.Write(clip.Samples[i:end]); err != nil {
			sink.Close()
			return err
		}
	}
	return sink.Close()
}
