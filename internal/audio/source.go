package audio

import (
	"fmt"
	"time"
)

// Format describes the PCM layout requested from a capture device
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is the reference capture configuration: 44.1 kHz mono signed 16-bit
func DefaultFormat() Format {
	return Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16}
}

// FrameBytes returns the number of bytes occupied by one frame
func (f Format) FrameBytes() int {
	return f.Channels * f.BitsPerSample / 8
}

// ChunkDuration returns the wall-clock length of a chunk of the given frame count
func (f Format) ChunkDuration(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Validate rejects formats the capture pipeline cannot process
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrDeviceUnavailable, f.SampleRate)
	}
	if f.Channels != 1 {
		return fmt.Errorf("%w: only mono capture is supported, got %d channels", ErrDeviceUnavailable, f.Channels)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("%w: only 16-bit PCM is supported, got %d bits", ErrDeviceUnavailable, f.BitsPerSample)
	}
	return nil
}

// Source abstracts a microphone-like capture device.
type Source interface {
	// Open acquires the device exclusively and starts capturing in the given
	// format. It fails with ErrDeviceUnavailable when the format cannot be
	// satisfied or the device cannot be acquired.
	Open(format Format) (Stream, error)
}

// Stream is an open capture session on a Source.
type Stream interface {
	// BufferSize is the chunk size in frames chosen when the stream was opened.
	BufferSize() int

	// ReadChunk blocks until buf is full or the stream is closed. A short
	// read only happens at end of stream. Reading a closed stream fails with
	// ErrSourceClosed.
	ReadChunk(buf []byte) (int, error)

	// Close releases the device. It unblocks a pending ReadChunk and is safe
	// to call more than once.
	Close() error
}
