package codec

import (
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"
	"github.com/petems/looptray/internal/audio"
)

// VorbisDecoder decodes Ogg Vorbis files.
type VorbisDecoder struct{}

func (VorbisDecoder) Decode(r io.ReadSeeker) (Clip, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	samples := make([]int16, len(data))
	for i, f := range data {
		samples[i] = floatToInt16(f)
	}

	return Clip{
		Format:  audio.Format{SampleRate: format.SampleRate, Channels: format.Channels},
		Samples: samples,
	}, nil
}
