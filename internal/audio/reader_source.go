package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// DefaultFileBufferFrames is the chunk size used when replaying PCM files
const DefaultFileBufferFrames = 1024

// ReaderSource replays raw little-endian 16-bit PCM from a reader. It stands
// in for a microphone when replaying recordings and in tests.
type ReaderSource struct {
	open     func() (io.ReadCloser, error)
	frames   int
	realtime bool
}

// NewReaderSource creates a source that calls open for every stream. frames
// is the chunk size; zero selects DefaultFileBufferFrames.
func NewReaderSource(open func() (io.ReadCloser, error), frames int) *ReaderSource {
	if frames <= 0 {
		frames = DefaultFileBufferFrames
	}
	return &ReaderSource{open: open, frames: frames}
}

// NewFileSource replays the PCM file at path. With realtime set, chunks are
// delivered at the pace of the configured sample rate.
func NewFileSource(path string, frames int, realtime bool) *ReaderSource {
	src := NewReaderSource(func() (io.ReadCloser, error) {
		return os.Open(path)
	}, frames)
	src.realtime = realtime
	return src
}

// Open starts a new replay
func (s *ReaderSource) Open(format Format) (Stream, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	stream := &readerStream{rc: rc, frames: s.frames}
	if s.realtime {
		stream.pace = format.ChunkDuration(s.frames)
	}
	return stream, nil
}

type readerStream struct {
	rc     io.ReadCloser
	frames int
	pace   time.Duration
	next   time.Time
	closed atomic.Bool
}

func (s *readerStream) BufferSize() int {
	return s.frames
}

func (s *readerStream) ReadChunk(buf []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrSourceClosed
	}

	if s.pace > 0 {
		if wait := time.Until(s.next); wait > 0 {
			time.Sleep(wait)
		}
		s.next = time.Now().Add(s.pace)
	}

	n, err := io.ReadFull(s.rc, buf)
	if err == nil {
		return n, nil
	}

	if s.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		if n > 0 {
			return n, nil
		}
		return 0, ErrSourceClosed
	}

	return n, fmt.Errorf("failed to read PCM data: %w", err)
}

func (s *readerStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.rc.Close()
}
