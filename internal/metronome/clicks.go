package metronome

import (
	"fmt"
	"math"

	"github.com/petems/looptray/internal/audio"
	"github.com/petems/looptray/internal/codec"
)

const (
	accentHz      = 1500.0
	normalHz      = 1000.0
	clickDuration = 0.03 // seconds
	clickLevel    = 0.8
)

// Clicker plays one metronome click. It is called from the tick goroutine
// and must not block for long.
type Clicker interface {
	Click(accent bool)
}

// Player plays a short PCM buffer without blocking
type Player interface {
	PlayPCM(samples []int16)
}

// Clicks holds the two click sounds as interleaved PCM
type Clicks struct {
	Accent []int16
	Normal []int16
}

// SynthClicks generates decaying sine bursts for the given output format
func SynthClicks(format audio.Format) Clicks {
	return Clicks{
		Accent: sineBurst(accentHz, format),
		Normal: sineBurst(normalHz, format),
	}
}

func sineBurst(hz float64, format audio.Format) []int16 {
	channels := max(format.Channels, 1)
	frames := int(float64(format.SampleRate) * clickDuration)
	out := make([]int16, frames*channels)

	// Decay to about 1% by the end of the burst
	decay := math.Log(100) / float64(frames)
	for i := 0; i < frames; i++ {
		env := math.Exp(-decay * float64(i))
		v := int16(clickLevel * env * math.MaxInt16 * math.Sin(2*math.Pi*hz*float64(i)/float64(format.SampleRate)))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

// LoadClicks decodes the accent and normal click files and conforms them
// to format. Either path may be empty, in which case that click is
// synthesized.
func LoadClicks(decoders *codec.Registry, accentPath, normalPath string, format audio.Format) (Clicks, error) {
	clicks := SynthClicks(format)

	load := func(path string) ([]int16, error) {
		clip, err := decoders.DecodeFile(path)
		if err != nil {
			return nil, err
		}
		if clip.Format.SampleRate != format.SampleRate {
			return nil, fmt.Errorf("%s: sample rate %d does not match output %d",
				path, clip.Format.SampleRate, format.SampleRate)
		}
		return audio.Convert(clip.Samples, clip.Format.Channels, max(format.Channels, 1)), nil
	}

	if accentPath != "" {
		s, err := load(accentPath)
		if err != nil {
			return clicks, err
		}
		clicks.Accent = s
	}
	if normalPath != "" {
		s, err := load(normalPath)
		if err != nil {
			return clicks, err
		}
		clicks.Normal = s
	}
	return clicks, nil
}

// PCMClicker plays Clicks through a Player
type PCMClicker struct {
	Out    Player
	Clicks Clicks
}

func (p PCMClicker) Click(accent bool) {
	if accent {
		p.Out.PlayPCM(p.Clicks.Accent)
		return
	}
	p.Out.PlayPCM(p.Clicks.Normal)
}
