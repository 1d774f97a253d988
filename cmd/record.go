package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/audiolibrelab/soundsentry/internal/audio"
	"github.com/audiolibrelab/soundsentry/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record the microphone until Ctrl+C",
	Long: `Record the configured input to a raw PCM file (signed 16-bit little-endian, mono).
Each chunk is measured and state changes between QUIET and ACTIVE are printed.
Recording stops on Ctrl+C or when the input ends.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		path := cfg.OutputPath(name)
		slog.Info("Record command started", "output", path, "threshold", cfg.Threshold())

		if _, err := recordUntilDone(cmd.Context(), path, cmd.OutOrStdout()); err != nil {
			return err
		}

		// Execute pipeline if specified
		return executePipeline(cmd.Context(), name, 'r', cmd.OutOrStdout())
	},
}

// recordUntilDone records into path until the user interrupts or the input
// ends, and prints the session summary to out.
func recordUntilDone(ctx context.Context, path string, out io.Writer) (audio.Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	sink := newTerminalSink(out)

	// A terminal user launching the command has granted microphone access
	ctrl, err := service.New(cfg, sink, service.WithPermission(true))
	if err != nil {
		return audio.Summary{}, err
	}
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.RequestStart(path); err != nil {
		return audio.Summary{}, fmt.Errorf("failed to start recording: %w", err)
	}

	var summary audio.Summary
	select {
	case <-ctx.Done():
		slog.Info("Stopping recording...")
		summary, err = ctrl.RequestStop()
		if err != nil {
			return summary, fmt.Errorf("failed to stop recording: %w", err)
		}
	case summary = <-sink.summaries:
	}

	return summary, sink.Err()
}

// terminalSink prints controller notifications for a terminal user
type terminalSink struct {
	out       io.Writer
	summaries chan audio.Summary

	mu  sync.Mutex
	err error
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{
		out:       out,
		summaries: make(chan audio.Summary, 1),
	}
}

func (s *terminalSink) RecordingStarted(path string) {
	fmt.Fprintf(s.out, "Recording to %s - Press Ctrl+C to stop\n", path)
}

func (s *terminalSink) StateChanged(state audio.State, level float64) {
	fmt.Fprintf(s.out, "%s (rms %.1f)\n", state, level)
}

func (s *terminalSink) FirstSoundDetected() {
	fmt.Fprintln(s.out, "Sound detected!")
}

func (s *terminalSink) WriteFailed(err error) {
	fmt.Fprintln(s.out, audio.Report(err))
	s.setErr(err)
}

func (s *terminalSink) CaptureFailed(err error) {
	fmt.Fprintln(s.out, audio.Report(err))
	s.setErr(err)
}

func (s *terminalSink) PermissionRequired() {
	fmt.Fprintln(s.out, audio.Report(audio.ErrPermissionRequired))
}

func (s *terminalSink) SessionSummary(summary audio.Summary) {
	for _, msg := range summary.Messages() {
		fmt.Fprintln(s.out, msg)
	}

	select {
	case s.summaries <- summary:
	default:
	}
}

func (s *terminalSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first failure reported during the recording
func (s *terminalSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
