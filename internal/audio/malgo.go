package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoSource captures through miniaudio. The device delivers audio on a
// callback; the stream turns it into blocking chunk reads.
type MalgoSource struct {
	frames int
}

// NewMalgoSource creates a miniaudio capture source. frames sets both the
// device period and the chunk size; zero selects DefaultFileBufferFrames.
func NewMalgoSource(frames int) *MalgoSource {
	if frames <= 0 {
		frames = DefaultFileBufferFrames
	}
	return &MalgoSource{frames: frames}
}

// Open initializes a miniaudio context and starts the default capture device
func (m *MalgoSource) Open(format Format) (Stream, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize miniaudio: %v", ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.frames)
	deviceConfig.Alsa.NoMMap = 1

	stream := &malgoStream{
		ctx:    ctx,
		frames: m.frames,
		data:   make(chan []byte, queueDepth(format, m.frames)),
		quit:   make(chan struct{}),
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: stream.onData,
	})
	if err != nil {
		stream.releaseContext()
		return nil, fmt.Errorf("%w: failed to open capture device: %v", ErrDeviceUnavailable, err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		stream.releaseContext()
		return nil, fmt.Errorf("%w: failed to start capture device: %v", ErrDeviceUnavailable, err)
	}

	slog.Debug("miniaudio capture opened", "sample_rate", format.SampleRate, "frames", m.frames)
	return stream, nil
}

// dropReportInterval is how many dropped buffers pass between warnings
const dropReportInterval = 100

// queueDepth holds about two seconds of periods so a slow writer does not
// lose audio, with a floor of 64 periods.
func queueDepth(format Format, frames int) int {
	depth := 2 * format.SampleRate / frames
	if depth < 64 {
		depth = 64
	}
	return depth
}

type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	frames int

	data    chan []byte
	quit    chan struct{}
	pending []byte
	dropped atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// onData runs on the miniaudio thread and must not block.
func (s *malgoStream) onData(_, input []byte, _ uint32) {
	chunk := make([]byte, len(input))
	copy(chunk, input)

	select {
	case <-s.quit:
	case s.data <- chunk:
	default:
		if n := s.dropped.Add(1); n == 1 || n%dropReportInterval == 0 {
			slog.Warn("Dropping captured audio, reader is falling behind", "dropped_buffers", n)
		}
	}
}

// Dropped reports how many device buffers were discarded because the
// queue was full.
func (s *malgoStream) Dropped() int64 {
	return s.dropped.Load()
}

func (s *malgoStream) BufferSize() int {
	return s.frames
}

func (s *malgoStream) ReadChunk(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		if len(s.pending) == 0 {
			select {
			case <-s.quit:
				if n > 0 {
					return n, nil
				}
				return 0, ErrSourceClosed
			case p := <-s.data:
				s.pending = p
			}
		}
		c := copy(buf[n:], s.pending)
		s.pending = s.pending[c:]
		n += c
	}
	return n, nil
}

func (s *malgoStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.device.Uninit()
		s.closeErr = s.releaseContext()
		if dropped := s.dropped.Load(); dropped > 0 {
			slog.Warn("miniaudio callbacks dropped while the reader was busy", "buffers", dropped)
		}
	})
	return s.closeErr
}

func (s *malgoStream) releaseContext() error {
	err := s.ctx.Uninit()
	s.ctx.Free()
	if err != nil {
		return fmt.Errorf("failed to release miniaudio context: %w", err)
	}
	return nil
}
