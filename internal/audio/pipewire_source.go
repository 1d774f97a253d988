package audio

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const pipeWireExitTimeout = 5 * time.Second

// PipeWireSource captures by running pw-record and reading raw PCM from its
// standard output.
type PipeWireSource struct {
	target  string
	frames  int
	command string
	pw      *PipeWire
}

// NewPipeWireSource creates a source attached to target, or to the default
// source when target is empty. frames is the chunk size; zero selects
// DefaultFileBufferFrames.
func NewPipeWireSource(target string, frames int) *PipeWireSource {
	if frames <= 0 {
		frames = DefaultFileBufferFrames
	}
	return &PipeWireSource{target: target, frames: frames, command: "pw-record", pw: NewPipeWire()}
}

func (p *PipeWireSource) args(format Format) []string {
	args := []string{
		"--format", "s16",
		"--rate", strconv.Itoa(format.SampleRate),
		"--channels", strconv.Itoa(format.Channels),
		"--latency", fmt.Sprintf("%d/%d", p.frames, format.SampleRate),
	}
	if p.target != "" {
		args = append(args, "--target", p.target)
	}
	return append(args, "-")
}

// Open starts pw-record
func (p *PipeWireSource) Open(format Format) (Stream, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	if p.target != "" && p.pw != nil {
		if err := p.pw.ValidatePort(p.target); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}

	args := p.args(format)
	cmd := exec.Command(p.command, args...)

	// The stream owns the read end so it is closed only after pw-record exits
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create stdout pipe: %v", ErrDeviceUnavailable, err)
	}
	cmd.Stdout = pw

	stream := &pipeWireStream{
		readerStream: readerStream{rc: pr, frames: p.frames},
		cmd:          cmd,
		exited:       make(chan struct{}),
	}
	cmd.Stderr = &stream.stderr

	slog.Debug("Starting pw-record", "args", args)
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrDeviceUnavailable, p.command, err)
	}
	pw.Close()

	go stream.wait()
	return stream, nil
}

type pipeWireStream struct {
	readerStream
	cmd *exec.Cmd

	// stderr and waitErr are only read after exited is closed
	stderr  bytes.Buffer
	waitErr error
	exited  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *pipeWireStream) wait() {
	s.waitErr = s.cmd.Wait()
	close(s.exited)
}

// ReadChunk reports pw-record exiting with an error as a read failure rather
// than as the end of the input.
func (s *pipeWireStream) ReadChunk(buf []byte) (int, error) {
	n, err := s.readerStream.ReadChunk(buf)
	if !errors.Is(err, ErrSourceClosed) || s.closed.Load() {
		return n, err
	}

	select {
	case <-s.exited:
	case <-time.After(pipeWireExitTimeout):
		slog.Warn("pw-record closed its output but did not exit")
		return n, err
	}

	if s.waitErr != nil && !interruptedExit(s.waitErr) {
		return n, fmt.Errorf("pw-record exited: %v: %s", s.waitErr, bytes.TrimSpace(s.stderr.Bytes()))
	}
	return n, err
}

// Close interrupts pw-record and waits for it to exit, killing it when it
// does not exit in time.
func (s *pipeWireStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.stop()
		if err := s.rc.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func (s *pipeWireStream) stop() error {
	select {
	case <-s.exited:
	default:
		slog.Debug("Sending SIGINT to pw-record")
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to interrupt pw-record, falling back to SIGKILL", "error", err)
			s.cmd.Process.Kill()
		}

		select {
		case <-s.exited:
		case <-time.After(pipeWireExitTimeout):
			slog.Warn("pw-record did not exit within timeout, force killing")
			s.cmd.Process.Kill()
			<-s.exited
			return nil
		}
	}

	if s.waitErr == nil || interruptedExit(s.waitErr) {
		return nil
	}
	slog.Debug("pw-record stderr", "output", s.stderr.String())
	return fmt.Errorf("pw-record failed: %w", s.waitErr)
}

// interruptedExit reports whether err is the exit status of a process that
// ended because we signalled it
func interruptedExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}
