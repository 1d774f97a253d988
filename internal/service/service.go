package service

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/soundsentry/internal/audio"
	"github.com/audiolibrelab/soundsentry/internal/config"
	"github.com/audiolibrelab/soundsentry/internal/observe"
)

// Service is the recording API used by the presentation layers (CLI, HTTP)
type Service interface {
	// RequestStart begins recording into path. An empty path records into
	// the configured output file.
	RequestStart(path string) error

	// RequestStop ends the active recording. It is a no-op returning a zero
	// summary when nothing is recording.
	RequestStop() (audio.Summary, error)

	// PermissionGranted records the outcome of the host's permission prompt
	PermissionGranted(granted bool)

	Status() Status
	GetConfig() *config.Config

	// Close stops any active recording and releases the controller
	Close() error
}

// Sink receives everything the presentation layer shows. Calls are
// serialized and made with the controller locked, so a Sink must not call
// back into the controller.
type Sink interface {
	RecordingStarted(path string)
	StateChanged(state audio.State, level float64)
	FirstSoundDetected()
	WriteFailed(err error)
	CaptureFailed(err error)
	PermissionRequired()
	SessionSummary(summary audio.Summary)
}

// RecordingStatus represents the current recording state
type RecordingStatus string

const (
	StatusStandby   RecordingStatus = "STANDBY"
	StatusRecording RecordingStatus = "RECORDING"
	StatusError     RecordingStatus = "ERROR"
)

// Status is the controller's view of the recording, built from relayed events
type Status struct {
	Status        RecordingStatus `json:"status"`
	Recording     bool            `json:"recording"`
	Permission    bool            `json:"permission"`
	OutputFile    string          `json:"output_file,omitempty"`
	StartTime     time.Time       `json:"start_time,omitempty"`
	State         string          `json:"state"`
	Level         float64         `json:"level"`
	SoundDetected bool            `json:"sound_detected"`
	LastSummary   *audio.Summary  `json:"last_summary,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// Option configures a Controller
type Option func(*Controller)

// WithSource overrides the capture source built from the configuration
func WithSource(src audio.Source) Option {
	return func(c *Controller) { c.source = src }
}

// WithPermission sets the initial permission state. Without it the
// controller starts without permission.
func WithPermission(granted bool) Option {
	return func(c *Controller) { c.permission.Store(granted) }
}

// WithMetrics records session metrics into m instead of the global provider
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller translates external triggers into session lifecycle calls and
// relays session events to a Sink.
type Controller struct {
	cfg        *config.Config
	source     audio.Source
	metrics    *observe.Metrics
	session    *audio.Session
	sink       Sink
	permission atomic.Bool

	mu        sync.Mutex
	recording bool
	run       uint64
	status    Status

	done      chan struct{}
	relayDone chan struct{}
	closeOnce sync.Once
}

// New creates a controller for cfg that reports to sink
func New(cfg *config.Config, sink Sink, opts ...Option) (*Controller, error) {
	c := &Controller{
		cfg:       cfg,
		sink:      sink,
		done:      make(chan struct{}),
		relayDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.source == nil {
		src, err := audio.NewSource(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio source: %w", err)
		}
		c.source = src
	}

	threshold := cfg.Threshold()
	c.session = audio.NewSession(audio.Options{
		Source:      c.source,
		Format:      audio.FormatFromConfig(cfg),
		Threshold:   &threshold,
		StopTimeout: cfg.Session.StopTimeout,
		Authorizer:  audio.AuthorizerFunc(c.permission.Load),
		Metrics:     c.metrics,
	})
	c.status = Status{Status: StatusStandby, State: audio.StateQuiet.String()}

	go c.relay()
	return c, nil
}

func (c *Controller) RequestStart(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		return audio.ErrAlreadyRunning
	}

	if !c.permission.Load() {
		slog.Info("Recording requested before microphone permission was granted")
		c.sink.PermissionRequired()
		return audio.ErrPermissionRequired
	}

	if path == "" {
		path = c.cfg.OutputPath("")
	}

	if err := c.session.Start(path); err != nil {
		c.setLastError(err)
		return err
	}

	c.recording = true
	c.run = c.session.Run()
	c.status = Status{
		Status:      StatusRecording,
		Recording:   true,
		OutputFile:  path,
		StartTime:   time.Now(),
		State:       audio.StateQuiet.String(),
		LastSummary: c.status.LastSummary,
	}
	c.sink.RecordingStarted(path)
	return nil
}

func (c *Controller) RequestStop() (audio.Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return audio.Summary{}, nil
	}
	return c.finish()
}

// finish stops the session and reports the summary. Must hold c.mu.
func (c *Controller) finish() (audio.Summary, error) {
	summary, err := c.session.Stop()

	c.recording = false
	c.run = 0
	c.status.Recording = false
	if c.status.Status == StatusRecording {
		c.status.Status = StatusStandby
	}
	c.status.LastSummary = &summary

	if err != nil {
		slog.Error("Recording ended with an error", "error", err)
		c.setLastError(err)
	}

	c.sink.SessionSummary(summary)
	return summary, err
}

func (c *Controller) PermissionGranted(granted bool) {
	c.permission.Store(granted)
	slog.Debug("Microphone permission updated", "granted", granted)
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status
	status.Permission = c.permission.Load()
	return status
}

func (c *Controller) GetConfig() *config.Config {
	return c.cfg
}

func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_, err = c.RequestStop()
		close(c.done)
		<-c.relayDone
	})
	return err
}

// relay forwards session events to the sink until the controller is closed
func (c *Controller) relay() {
	defer close(c.relayDone)

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.session.Events():
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev audio.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Events of a run that was already stopped are stale
	if ev.Run != c.run {
		slog.Debug("Dropping event from finished run", "kind", ev.Kind, "run", ev.Run)
		return
	}

	switch ev.Kind {
	case audio.EventStateChanged:
		c.status.State = ev.State.String()
		c.status.Level = ev.Level
		c.sink.StateChanged(ev.State, ev.Level)

	case audio.EventFirstSoundDetected:
		c.status.SoundDetected = true
		c.sink.FirstSoundDetected()

	case audio.EventWriteFailed:
		c.setLastError(ev.Err)
		c.sink.WriteFailed(ev.Err)
		c.finish()

	case audio.EventCaptureStopped:
		if ev.Err != nil {
			c.setLastError(ev.Err)
			c.sink.CaptureFailed(ev.Err)
		} else {
			slog.Info("Audio input ended, finalizing recording")
		}
		c.finish()
	}
}

// setLastError records a failure that left the controller stopped. Must hold c.mu.
func (c *Controller) setLastError(err error) {
	c.status.LastError = audio.Report(err)
	c.status.Status = StatusError
}
