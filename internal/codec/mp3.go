package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/petems/looptray/internal/audio"
)

// MP3Decoder decodes MP3 files. go-mp3 always yields 16-bit stereo.
type MP3Decoder struct{}

func (MP3Decoder) Decode(r io.ReadSeeker) (Clip, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	data, err := io.ReadAll(dec)
	if err != nil {
		return Clip{}, fmt.Errorf("mp3 decode error: %w", err)
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	return Clip{
		Format:  audio.Format{SampleRate: dec.SampleRate(), Channels: 2},
		Samples: samples,
	}, nil
}
