package audio

// Downmix averages interleaved frames down to a single channel. Mono input
// is copied into a new slice.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(samples) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum int
		base := f * channels
		for c := 0; c < channels; c++ {
			sum += int(samples[base+c])
		}
		out[f] = int16(sum / channels)
	}
	return out
}

// Upmix duplicates each mono sample across channels.
func Upmix(mono []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(mono))
		copy(out, mono)
		return out
	}

	out := make([]int16, len(mono)*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}

// Convert changes the channel layout of interleaved samples. Equal layouts
// are returned as a copy.
func Convert(samples []int16, from, to int) []int16 {
	if from == to {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	if to <= 1 {
		return Downmix(samples, from)
	}
	return Upmix(Downmix(samples, from), to)
}
