package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures from a PortAudio input device using a blocking stream
type PortAudioSource struct {
	device string
	frames int
}

// NewPortAudioSource creates a source for the named input device, or the
// default input device when device is empty. frames overrides the chunk size;
// zero selects the device's minimum for the requested format.
func NewPortAudioSource(device string, frames int) *PortAudioSource {
	return &PortAudioSource{device: device, frames: frames}
}

// Open initializes PortAudio, opens the input device and starts the stream
func (p *PortAudioSource) Open(format Format) (Stream, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDeviceUnavailable, err)
	}

	dev, err := p.inputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	frames := p.frames
	if frames <= 0 {
		frames = minBufferFrames(dev.DefaultLowInputLatency, format.SampleRate)
	}

	samples := make([]int16, frames*format.Channels)
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = frames

	stream, err := portaudio.OpenStream(params, samples)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open %q: %v", ErrDeviceUnavailable, dev.Name, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to start %q: %v", ErrDeviceUnavailable, dev.Name, err)
	}

	slog.Debug("PortAudio input opened", "device", dev.Name, "sample_rate", format.SampleRate, "frames", frames)
	return &portAudioStream{stream: stream, samples: samples, frames: frames}, nil
}

func (p *PortAudioSource) inputDevice() (*portaudio.DeviceInfo, error) {
	if p.device == "" {
		return portaudio.DefaultInputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name == p.device && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", p.device)
}

// minBufferFrames converts a device latency into a frame count
func minBufferFrames(latency time.Duration, sampleRate int) int {
	frames := int(math.Ceil(latency.Seconds() * float64(sampleRate)))
	if frames <= 0 {
		return DefaultFileBufferFrames
	}
	return frames
}

type portAudioStream struct {
	// mu serializes Read against teardown; Read returns within one buffer
	// period while the device is running.
	mu      sync.Mutex
	stream  *portaudio.Stream
	samples []int16
	frames  int
	closed  atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func (s *portAudioStream) BufferSize() int {
	return s.frames
}

func (s *portAudioStream) ReadChunk(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return 0, ErrSourceClosed
	}
	if len(buf) < len(s.samples)*2 {
		return 0, fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrInvalidChunkLength, len(buf), len(s.samples)*2)
	}

	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			slog.Debug("PortAudio input overflowed")
		} else {
			return 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}

	for i, v := range s.samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return len(s.samples) * 2, nil
}

func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.mu.Lock()
		defer s.mu.Unlock()

		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stream: %w", err))
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate PortAudio: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// DeviceInfo describes a capture device for listing
type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	MinLatency        time.Duration
	IsDefault         bool
}

// ListPortAudioDevices returns the PortAudio devices that can capture audio
func ListPortAudioDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDeviceUnavailable, err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list PortAudio devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil {
		defaultName = def.Name
	}

	var inputs []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		info := DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			MinLatency:        dev.DefaultLowInputLatency,
			IsDefault:         dev.Name == defaultName,
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}
		inputs = append(inputs, info)
	}

	return inputs, nil
}
