package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/soundsentry/internal/observe"
)

const (
	defaultStopTimeout = 2 * time.Second
	defaultEventBuffer = 64
)

// Authorizer reports whether microphone access is currently granted
type Authorizer interface {
	Authorized() bool
}

// AuthorizerFunc adapts a function to the Authorizer interface
type AuthorizerFunc func() bool

func (f AuthorizerFunc) Authorized() bool { return f() }

// OutputOpener creates the recording file for a run
type OutputOpener func(path string) (io.WriteCloser, error)

// Options configures a Session
type Options struct {
	Source Source
	Format Format

	// Threshold is the RMS level above which a chunk counts as sound. Nil
	// selects DefaultThreshold; an explicit 0 treats any signal as sound.
	Threshold *float64

	// StopTimeout bounds how long Stop waits for the capture loop to exit.
	StopTimeout time.Duration

	// Authorizer gates Start. Nil means access is always granted.
	Authorizer Authorizer

	// OpenOutput creates the output file. Defaults to creating parent
	// directories and truncating the file.
	OpenOutput OutputOpener

	// LevelObserver, when set, is called on the capture goroutine with the
	// loudness of every chunk.
	LevelObserver func(level float64)

	// EventBuffer is the capacity of the events channel.
	EventBuffer int

	Metrics *observe.Metrics
}

// Summary describes a finished recording run
type Summary struct {
	Path          string        `json:"path"`
	FileSizeBytes int64         `json:"file_size_bytes"`
	EverDetected  bool          `json:"ever_detected"`
	Chunks        int64         `json:"chunks"`
	Transitions   int64         `json:"transitions"`
	Duration      time.Duration `json:"duration"`
}

// Saved reports whether the output file exists and is non-empty
func (s Summary) Saved() bool {
	return s.FileSizeBytes > 0
}

// Messages returns the end-of-session reports shown to the user
func (s Summary) Messages() []string {
	var msgs []string
	if s.Saved() {
		msgs = append(msgs, fmt.Sprintf("Recording saved! File size: %d KB", s.FileSizeBytes/1024))
	} else {
		msgs = append(msgs, "Recording failed: File not found or empty")
	}
	if !s.EverDetected {
		msgs = append(msgs, "No significant sound detected during recording")
	}
	return msgs
}

// Session runs at most one capture loop at a time. Start and Stop may be
// called from any goroutine; detection state is only touched by the loop and
// is published through Events.
type Session struct {
	opts      Options
	threshold float64
	metrics   *observe.Metrics
	events    chan Event

	mu      sync.Mutex
	run     *run
	nextRun uint64

	// ended holds the outcome of a run that finished on its own until Stop
	// or the next Start collects it
	ended *endedRun
}

type endedRun struct {
	summary Summary
	err     error
	quit    chan struct{}
}

// collect hands out the outcome of a run that ended on its own and releases
// its pending terminal event. Must hold s.mu.
func (s *Session) collect() *endedRun {
	ended := s.ended
	if ended != nil {
		close(ended.quit)
		s.ended = nil
	}
	return ended
}

// run is the state of one recording, from Start to Stop.
type run struct {
	id      uint64
	path    string
	stream  Stream
	out     io.WriteCloser
	tracker *Tracker
	started time.Time

	stopping atomic.Bool
	quit     chan struct{}
	begun    chan struct{}
	done     chan struct{}

	// failure is the write or read error that ended the loop, if any
	failure error

	chunks       atomic.Int64
	transitions  atomic.Int64
	everDetected atomic.Bool

	outMu     sync.Mutex
	outClosed bool

	streamOnce sync.Once
	streamErr  error
	outOnce    sync.Once
	outErr     error
}

// NewSession creates an idle session
func NewSession(opts Options) *Session {
	if opts.Format == (Format{}) {
		opts.Format = DefaultFormat()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.OpenOutput == nil {
		opts.OpenOutput = createOutputFile
	}

	threshold := DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &Session{
		opts:      opts,
		threshold: threshold,
		metrics:   metrics,
		events:    make(chan Event, opts.EventBuffer),
	}
}

// Events returns the channel on which the capture loop publishes events. It
// is shared by all runs of the session and is never closed. The consumer must
// keep draining it while a run is active. A terminal event (EventWriteFailed
// or EventCaptureStopped) that cannot be delivered is dropped by the next
// Start or Stop.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Run returns the identifier of the active run, or 0 when idle
func (s *Session) Run() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return 0
	}
	return s.run.id
}

// Start opens the source and the output file and launches the capture loop.
// It returns once the loop is running. On failure nothing is left open.
func (s *Session) Start(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		return ErrAlreadyRunning
	}

	if s.opts.Authorizer != nil && !s.opts.Authorizer.Authorized() {
		return ErrPermissionDenied
	}

	if s.opts.Source == nil {
		return fmt.Errorf("%w: no audio source configured", ErrDeviceUnavailable)
	}

	stream, err := s.opts.Source.Open(s.opts.Format)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if stream.BufferSize() <= 0 {
		stream.Close()
		return fmt.Errorf("%w: invalid buffer size %d", ErrDeviceUnavailable, stream.BufferSize())
	}

	out, err := s.opts.OpenOutput(path)
	if err != nil {
		if closeErr := stream.Close(); closeErr != nil {
			slog.Warn("Failed to release audio source after output error", "error", closeErr)
		}
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	s.nextRun++
	r := &run{
		id:      s.nextRun,
		path:    path,
		stream:  stream,
		out:     out,
		tracker: NewTracker(s.threshold),
		started: time.Now(),
		quit:    make(chan struct{}),
		begun:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.collect()
	s.run = r

	s.metrics.ActiveSessions.Add(context.Background(), 1)
	go s.loop(r)
	<-r.begun

	slog.Info("Recording started", "output", path, "run", r.id,
		"buffer_frames", stream.BufferSize(), "threshold", s.threshold)
	return nil
}

// Stop ends the active run and returns its summary. It signals the loop,
// closes the source to unblock any pending read and waits up to StopTimeout
// for the loop to exit. On timeout the output is force-released and
// ErrStopTimeout is returned alongside the summary.
//
// A run that ended on its own (end of input, read or write failure) is
// already released when its terminal event is published. The first Stop
// after it returns that run's summary and the error that ended it;
// otherwise Stop on an idle session returns a zero Summary.
func (s *Session) Stop() (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.run
	if r == nil {
		if ended := s.collect(); ended != nil {
			return ended.summary, ended.err
		}
		return Summary{}, nil
	}

	return s.finish(r)
}

// finish must be called with s.mu held.
func (s *Session) finish(r *run) (Summary, error) {
	begin := time.Now()
	ctx := context.Background()

	r.stopping.Store(true)
	close(r.quit)

	// Closing the source is what unblocks ReadChunk. It runs on its own
	// goroutine so a stuck device cannot defeat the bounded wait below.
	go r.closeStream()

	var errs []error
	timer := time.NewTimer(s.opts.StopTimeout)
	select {
	case <-r.done:
		timer.Stop()
		if r.streamErr != nil {
			errs = append(errs, fmt.Errorf("failed to close audio source: %w", r.streamErr))
		}
		// The loop failed just before the stop request and will not report it
		if r.failure != nil {
			errs = append(errs, r.failure)
		}
	case <-timer.C:
		slog.Error("Capture loop did not exit in time, forcing release", "run", r.id, "timeout", s.opts.StopTimeout)
		errs = append(errs, fmt.Errorf("%w after %s", ErrStopTimeout, s.opts.StopTimeout))
	}

	if err := r.closeOutput(); err != nil {
		errs = append(errs, err)
	}

	summary := s.complete(r)
	s.metrics.StopDuration.Record(ctx, time.Since(begin).Seconds())
	return summary, errors.Join(errs...)
}

// complete builds the summary of a released run and makes the session idle.
// Must hold s.mu.
func (s *Session) complete(r *run) Summary {
	summary := Summary{
		Path:         r.path,
		EverDetected: r.everDetected.Load(),
		Chunks:       r.chunks.Load(),
		Transitions:  r.transitions.Load(),
		Duration:     time.Since(r.started),
	}
	if info, err := os.Stat(r.path); err == nil {
		summary.FileSizeBytes = info.Size()
	} else {
		slog.Warn("Recording file not found after stop", "output", r.path, "error", err)
	}

	s.run = nil
	s.metrics.ActiveSessions.Add(context.Background(), -1)

	slog.Info("Recording stopped", "output", r.path, "run", r.id, "size", summary.FileSizeBytes,
		"chunks", summary.Chunks, "sound_detected", summary.EverDetected)

	return summary
}

// loop is the capture worker. It releases the source on every exit path.
// When the run ends without a stop request it also releases the output and
// makes the session idle before publishing the terminal event, which carries
// the run's summary.
func (s *Session) loop(r *run) {
	close(r.begun)

	ev, ended := s.capture(r)
	r.closeStream()
	if !ended {
		close(r.done)
		return
	}

	errs := []error{ev.Err}
	if r.streamErr != nil {
		errs = append(errs, fmt.Errorf("failed to close audio source: %w", r.streamErr))
	}
	if err := r.closeOutput(); err != nil {
		errs = append(errs, err)
	}
	close(r.done)

	s.mu.Lock()
	detached := s.run == r
	if detached {
		summary := s.complete(r)
		s.ended = &endedRun{summary: summary, err: errors.Join(errs...), quit: r.quit}
		ev.Summary = &summary
	}
	s.mu.Unlock()

	// A concurrent Stop already released the run and reports it
	if detached {
		s.emit(r, ev)
	}
}

// capture reads chunks until a stop request or until the input ends. It
// returns the terminal event and true when the run ended on its own.
func (s *Session) capture(r *run) (Event, bool) {
	buf := make([]byte, r.stream.BufferSize()*s.opts.Format.FrameBytes())
	for !r.stopping.Load() {
		n, err := r.stream.ReadChunk(buf)
		if n > 0 {
			if werr := s.process(r, buf[:n]); werr != nil {
				r.failure = werr
				if r.stopping.Load() {
					return Event{}, false
				}
				return Event{Kind: EventWriteFailed, Err: werr}, true
			}
		}
		if err == nil {
			continue
		}
		if r.stopping.Load() {
			return Event{}, false
		}
		if errors.Is(err, ErrSourceClosed) {
			slog.Info("Audio input ended", "run", r.id)
			return Event{Kind: EventCaptureStopped}, true
		}
		slog.Error("Failed to read audio chunk", "run", r.id, "error", err)
		r.failure = err
		return Event{Kind: EventCaptureStopped, Err: err}, true
	}
	return Event{}, false
}

// process handles one chunk: write, measure, classify. A write error ends
// the loop.
func (s *Session) process(r *run, chunk []byte) error {
	ctx := context.Background()

	if err := r.write(chunk); err != nil {
		err = fmt.Errorf("%w: %v", ErrWriteFailed, err)
		slog.Error("Error saving recording", "output", r.path, "run", r.id, "error", err)
		s.metrics.WriteFailures.Add(ctx, 1)
		return err
	}
	r.chunks.Add(1)

	level, err := Measure(chunk)
	if err != nil {
		slog.Warn("Skipping loudness of malformed chunk", "run", r.id, "error", err)
		return nil
	}

	slog.Debug("Amplitude", "rms", level)
	s.metrics.RecordChunk(ctx, len(chunk), level)
	if s.opts.LevelObserver != nil {
		s.opts.LevelObserver(level)
	}

	for _, ev := range r.tracker.Observe(level) {
		switch ev.Kind {
		case EventStateChanged:
			r.transitions.Add(1)
			s.metrics.RecordStateChange(ctx, ev.State.String())
			slog.Info("Detection state changed", "state", ev.State, "rms", level)
		case EventFirstSoundDetected:
			r.everDetected.Store(true)
		}
		s.emit(r, ev)
	}

	return nil
}

// emit publishes ev unless the run is being stopped and nobody is reading.
func (s *Session) emit(r *run, ev Event) {
	ev.Run = r.id
	ev.Time = time.Now()

	select {
	case s.events <- ev:
	case <-r.quit:
		slog.Debug("Dropping event after stop request", "kind", ev.Kind, "run", r.id)
	}
}

func (r *run) write(chunk []byte) error {
	r.outMu.Lock()
	defer r.outMu.Unlock()

	if r.outClosed {
		return os.ErrClosed
	}
	_, err := r.out.Write(chunk)
	return err
}

func (r *run) closeStream() {
	r.streamOnce.Do(func() {
		r.streamErr = r.stream.Close()
	})
}

// closeOutput closes the output once. Later calls return the first result.
func (r *run) closeOutput() error {
	r.outOnce.Do(func() {
		r.outMu.Lock()
		defer r.outMu.Unlock()

		r.outClosed = true
		if err := r.out.Close(); err != nil {
			r.outErr = fmt.Errorf("failed to close recording: %w", err)
		}
	})
	return r.outErr
}

func createOutputFile(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return os.Create(path)
}
