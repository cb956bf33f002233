package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/looptray/internal/config"
)

type portAudioCapture struct {
	framesPerBuffer int

	mu       sync.Mutex
	stream   *portaudio.Stream
	done     chan struct{}
	stopping atomic.Bool
}

// New creates a new PortAudio-based audio source
func New(cfg config.AudioConfig) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = 1024
	}
	return &portAudioCapture{framesPerBuffer: frames}, nil
}

func (p *portAudioCapture) Start(ctx context.Context, deviceID string, format Format, deliver DeliverFunc, fail FailFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return fmt.Errorf("stream already running")
	}

	device, err := findDevice(deviceID)
	if err != nil {
		return err
	}

	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	if device.MaxInputChannels < channels {
		return fmt.Errorf("%w: %s has %d input channels, need %d",
			ErrDeviceUnavailable, device.Name, device.MaxInputChannels, channels)
	}

	buffer := make([]int16, p.framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: p.framesPerBuffer,
	}, buffer)
	if err != nil {
		return fmt.Errorf("%w: failed to open audio stream: %v", ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: failed to start audio stream: %v", ErrDeviceUnavailable, err)
	}

	p.stream = stream
	p.done = make(chan struct{})
	p.stopping.Store(false)

	// Read loop
	go func(done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					// Samples were lost upstream; keep capturing.
					continue
				}
				if !p.stopping.Load() && ctx.Err() == nil && fail != nil {
					fail(err)
				}
				return
			}

			deliver(SampleBlock{Samples: buffer, Channels: channels})
		}
	}(p.done)

	return nil
}

func (p *portAudioCapture) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNotStarted
	}

	p.stopping.Store(true)
	err := p.stream.Stop()
	<-p.done
	if cerr := p.stream.Close(); err == nil {
		err = cerr
	}
	p.stream = nil
	return err
}

func (p *portAudioCapture) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioCapture) Close() error {
	if err := p.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		portaudio.Terminate()
		return err
	}
	return portaudio.Terminate()
}

func findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enumerate devices: %v", ErrDeviceUnavailable, err)
	}
	for _, d := range devices {
		if d.Name == deviceID {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: device not found: %s", ErrDeviceUnavailable, deviceID)
}
