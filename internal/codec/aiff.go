package codec

import (
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/petems/looptray/internal/audio"
)

// AIFFDecoder decodes PCM AIFF files.
type AIFFDecoder struct{}

func (AIFFDecoder) Decode(r io.ReadSeeker) (Clip, error) {
	dec := aiff.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: not an aiff file", ErrInvalidFile)
	}

	dec.ReadInfo()
	format := dec.Format()
	if format == nil || format.NumChannels < 1 {
		return Clip{}, fmt.Errorf("%w: missing aiff format", ErrInvalidFile)
	}

	depth := int(dec.BitDepth)
	switch depth {
	case 16, 24, 32:
	default:
		return Clip{}, fmt.Errorf("%w: %d", ErrUnsupportedDepth, depth)
	}

	buf := &goaudio.IntBuffer{
		Data:   make([]int, 4096*format.NumChannels),
		Format: format,
	}

	var samples []int16
	for {
		n, err := dec.PCMBuffer(buf)
		for i := 0; i < n; i++ {
			samples = append(samples, toInt16(buf.Data[i], depth))
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return Clip{}, fmt.Errorf("read aiff pcm: %w", err)
		}
		if n == 0 {
			break
		}
	}

	return Clip{
		Format: audio.Format{
			SampleRate: format.SampleRate,
			Channels:   format.NumChannels,
		},
		Samples: samples,
	}, nil
}
