// Package playback plays recorded takes one after another.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/petems/looptray/internal/audio"
	"github.com/petems/looptray/internal/codec"
	"github.com/petems/looptray/internal/registry"
	"github.com/rs/zerolog"
)

// DefaultChunkFrames is how many frames are written between progress updates
const DefaultChunkFrames = 4096

var ErrBusy = errors.New("playback already in progress")

// Output accepts PCM in its Format, blocking while the device is busy
type Output interface {
	Write(samples []int16) error
	Format() audio.Format
}

// Progress reports how far playback has got
type Progress struct {
	Index    int // take being played
	Total    int
	ID       uuid.UUID
	Fraction float64 // of the current take, 0 to 1
}

type Config struct {
	Output      Output
	Decoders    *codec.Registry // optional, defaults to codec.DefaultRegistry
	ChunkFrames int
	OnProgress  func(Progress) // optional
	Logger      zerolog.Logger
}

// Player plays one take or a sequence of takes at a time
type Player struct {
	out        Output
	decoders   *codec.Registry
	chunk      int
	onProgress func(Progress)
	log        zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing bool
}

func New(cfg Config) *Player {
	p := &Player{
		out:        cfg.Output,
		decoders:   cfg.Decoders,
		chunk:      cfg.ChunkFrames,
		onProgress: cfg.OnProgress,
		log:        cfg.Logger,
	}
	if p.decoders == nil {
		p.decoders = codec.DefaultRegistry()
	}
	if p.chunk <= 0 {
		p.chunk = DefaultChunkFrames
	}
	return p
}

// Play plays a single take
func (p *Player) Play(ctx context.Context, rec registry.Recording) error {
	return p.PlayAll(ctx, []registry.Recording{rec})
}

// PlayAll plays the takes in order and returns when they have all been
// written to the output or playback is stopped. Takes that cannot be
// decoded or do not match the output sample rate are skipped.
func (p *Player) PlayAll(ctx context.Context, recs []registry.Recording) error {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.playing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.playing = false
		p.cancel = nil
		p.mu.Unlock()
		cancel()
	}()

	takes := make([]registry.Recording, len(recs))
	copy(takes, recs)

	played := 0
	for i, rec := range takes {
		if ctx.Err() != nil {
			break
		}
		if err := p.playOne(ctx, i, len(takes), rec); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			p.log.Error().Err(err).Str("path", rec.Path).Msg("Skipping take")
			continue
		}
		played++
	}

	p.log.Debug().Int("played", played).Int("takes", len(takes)).Msg("Playback finished")
	return nil
}

// Stop interrupts the current playback
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) playOne(ctx context.Context, index, total int, rec registry.Recording) error {
	clip, err := p.decoders.DecodeFile(rec.Path)
	if err != nil {
		return err
	}

	format := p.out.Format()
	if clip.Format.SampleRate != format.SampleRate {
		return fmt.Errorf("take is %d Hz, output is %d Hz", clip.Format.SampleRate, format.SampleRate)
	}
	samples := clip.Samples
	if clip.Format.Channels != format.Channels {
		samples = audio.Convert(samples, clip.Format.Channels, format.Channels)
	}

	step := p.chunk * max(format.Channels, 1)
	for off := 0; off < len(samples); off += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+step, len(samples))
		if err := p.out.Write(samples[off:end]); err != nil {
			return err
		}
		p.report(Progress{
			Index:    index,
			Total:    total,
			ID:       rec.ID,
			Fraction: float64(end) / float64(len(samples)),
		})
	}
	if len(samples) == 0 {
		p.report(Progress{Index: index, Total: total, ID: rec.ID, Fraction: 1})
	}
	return nil
}

func (p *Player) report(pr Progress) {
	if p.onProgress != nil {
		p.onProgress(pr)
	}
}
