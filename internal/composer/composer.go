// Package composer stitches loop takes end to end into a single file.
package composer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petems/looptray/internal/audio"
	"github.com/petems/looptray/internal/codec"
	"github.com/petems/looptray/internal/library"
	"github.com/petems/looptray/internal/registry"
	"github.com/rs/zerolog"
)

// ErrExportFailed wraps every composition failure
var ErrExportFailed = errors.New("loop export failed")

// Namer picks the output path
type Namer interface {
	NewName(mode library.Mode, t time.Time) string
}

type Config struct {
	Files    Namer
	Decoders *codec.Registry   // optional, defaults to codec.DefaultRegistry
	Sink     codec.SinkFactory // optional, defaults to codec.CreateWAV
	Logger   zerolog.Logger
	Now      func() time.Time // optional
}

// Segment is the frame range one take occupies in the composed file
type Segment struct {
	ID    uuid.UUID
	Title string
	Start int // first frame
	End   int // one past the last frame
}

// Composed describes a finished export
type Composed struct {
	Path     string
	Format   audio.Format
	Frames   int
	Duration time.Duration
	Segments []Segment
}

// Composer concatenates takes. Compose calls are serialized.
type Composer struct {
	files    Namer
	decoders *codec.Registry
	sink     codec.SinkFactory
	log      zerolog.Logger
	now      func() time.Time

	mu sync.Mutex
}

func New(cfg Config) *Composer {
	c := &Composer{
		files:    cfg.Files,
		decoders: cfg.Decoders,
		sink:     cfg.Sink,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
	if c.decoders == nil {
		c.decoders = codec.DefaultRegistry()
	}
	if c.sink == nil {
		c.sink = codec.CreateWAV
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Compose writes the takes back to back, in the given order, to a new
// loops_export file. The file only appears under its final name once every
// take has been written.
func (c *Composer) Compose(ctx context.Context, recs []registry.Recording) (Composed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	takes := make([]registry.Recording, len(recs))
	copy(takes, recs)

	if len(takes) == 0 {
		return Composed{}, fmt.Errorf("%w: no loops to export", ErrExportFailed)
	}

	clips := make([]codec.Clip, 0, len(takes))
	var format audio.Format
	for i, rec := range takes {
		if err := ctx.Err(); err != nil {
			return Composed{}, fmt.Errorf("%w: %w", ErrExportFailed, err)
		}

		clip, err := c.decoders.DecodeFile(rec.Path)
		if err != nil {
			return Composed{}, fmt.Errorf("%w: %w", ErrExportFailed, err)
		}
		if i == 0 {
			format = clip.Format
		} else if clip.Format.SampleRate != format.SampleRate {
			return Composed{}, fmt.Errorf("%w: %s is %d Hz, expected %d Hz",
				ErrExportFailed, rec.Path, clip.Format.SampleRate, format.SampleRate)
		}
		if clip.Format.Channels > format.Channels {
			format.Channels = clip.Format.Channels
		}
		clips = append(clips, clip)
	}

	final := c.files.NewName(library.ModeExport, c.now())
	tmp := final + ".part"

	out, err := c.write(ctx, tmp, format, takes, clips)
	if err != nil {
		os.Remove(tmp)
		return Composed{}, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return Composed{}, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	out.Path = final
	c.log.Info().
		Str("path", final).
		Int("takes", len(takes)).
		Dur("duration", out.Duration).
		Msg("Loops exported")
	return out, nil
}

func (c *Composer) write(ctx context.Context, path string, format audio.Format, takes []registry.Recording, clips []codec.Clip) (Composed, error) {
	sink, err := c.sink(path, format)
	if err != nil {
		return Composed{}, err
	}

	out := Composed{Format: format, Segments: make([]Segment, 0, len(clips))}
	for i, clip := range clips {
		if err := ctx.Err(); err != nil {
			sink.Close()
			return Composed{}, err
		}

		samples := clip.Samples
		if clip.Format.Channels != format.Channels {
			samples = audio.Convert(samples, clip.Format.Channels, format.Channels)
		}
		if err := sink.Write(samples); err != nil {
			sink.Close()
			return Composed{}, err
		}

		frames := len(samples) / format.Channels
		out.Segments = append(out.Segments, Segment{
			ID:    takes[i].ID,
			Title: takes[i].Title,
			Start: out.Frames,
			End:   out.Frames + frames,
		})
		out.Frames += frames
	}

	if err := sink.Close(); err != nil {
		return Composed{}, err
	}
	out.Duration = codec.FramesToDuration(out.Frames, format.SampleRate)
	return out, nil
}
