package audio

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned when no input device can be opened.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	// ErrNotStarted is returned by Stop when no stream is running.
	ErrNotStarted = errors.New("audio stream not started")
)

// Format describes an interleaved PCM stream
type Format struct {
	SampleRate int
	Channels   int
}

// SampleBlock is one hardware callback worth of interleaved signed 16-bit
// samples. Consumers must copy what they keep; the backing array is reused
// once the delivery callback returns.
type SampleBlock struct {
	Samples  []int16
	Channels int
}

// Len returns the number of samples in the block
func (b SampleBlock) Len() int {
	return len(b.Samples)
}

// Frames returns the number of frames (samples per channel) in the block
func (b SampleBlock) Frames() int {
	if b.Channels <= 1 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Channels
}

// Clone returns a block backed by its own copy of the samples
func (b SampleBlock) Clone() SampleBlock {
	samples := make([]int16, len(b.Samples))
	copy(samples, b.Samples)
	return SampleBlock{Samples: samples, Channels: b.Channels}
}

// DeliverFunc receives blocks on the real-time producer goroutine. It must
// not block.
type DeliverFunc func(SampleBlock)

// FailFunc reports loss of the capture device while a stream is running.
type FailFunc func(error)

// Source defines the interface for live audio capture
type Source interface {
	Start(ctx context.Context, deviceID string, format Format, deliver DeliverFunc, fail FailFunc) error
	Stop() error
	ListDevices() ([]Device, error)
	Close() error
}

// Device represents an audio input device
type Device struct {
	ID      string
	Name    string
	Default bool
}
