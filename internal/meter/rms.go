// Package meter computes the loudness signal shown while recording.
package meter

import "math"

// DefaultGain scales raw RMS into a range that reads well on a level display.
const DefaultGain = 15.0

// RMS returns the root-mean-square level of samples normalized to full
// scale, multiplied by gain and clamped to [0, 1]. An empty block is 0.
func RMS(samples []int16, gain float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}

	level := math.Sqrt(sum/float64(len(samples))) * gain
	if level < 0 || math.IsNaN(level) {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}
