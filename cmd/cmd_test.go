package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/audiolibrelab/soundsentry/internal/audio"
	"github.com/audiolibrelab/soundsentry/internal/config"
)

func chunkOf(amplitude int16) []byte {
	samples := make([]int16, 256)
	for i := range samples {
		samples[i] = amplitude
	}
	return audio.EncodeSamples(samples)
}

// useTestConfig installs a config that replays input through the file backend
func useTestConfig(t *testing.T, input []byte) *config.Config {
	t.Helper()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.pcm")
	if err := os.WriteFile(inputPath, input, 0644); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}

	c := config.Default()
	c.Audio.Backend = "file"
	c.Audio.Device = inputPath
	c.Audio.BufferFrames = 256
	c.Output.Directory = filepath.Join(dir, "out")

	prev, prevSteps := cfg, steps
	cfg, steps = c, ""
	t.Cleanup(func() { cfg, steps = prev, prevSteps })
	return c
}

func TestRecordUntilDone_EndOfInput(t *testing.T) {
	input := append(append(chunkOf(0), chunkOf(500)...), chunkOf(0)...)
	c := useTestConfig(t, input)

	var out bytes.Buffer
	summary, err := recordUntilDone(context.Background(), c.OutputPath("take"), &out)
	if err != nil {
		t.Fatalf("recordUntilDone failed: %v", err)
	}

	if summary.FileSizeBytes != int64(len(input)) || !summary.EverDetected {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	text := out.String()
	for _, want := range []string{"Recording to ", "ACTIVE (rms 500.0)", "Sound detected!", "QUIET (rms 0.0)", "Recording saved! File size: 1 KB"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestRecordUntilDone_DeviceUnavailable(t *testing.T) {
	c := useTestConfig(t, nil)
	c.Audio.Device = filepath.Join(t.TempDir(), "missing.pcm")

	_, err := recordUntilDone(context.Background(), c.OutputPath(""), &bytes.Buffer{})
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestTerminalSink(t *testing.T) {
	var out bytes.Buffer
	sink := newTerminalSink(&out)

	sink.PermissionRequired()
	sink.CaptureFailed(audio.ErrPermissionDenied)
	sink.WriteFailed(audio.ErrWriteFailed)
	sink.SessionSummary(audio.Summary{})
	sink.SessionSummary(audio.Summary{FileSizeBytes: 2048, EverDetected: true})

	if !errors.Is(sink.Err(), audio.ErrPermissionDenied) {
		t.Errorf("Expected first error to be kept, got %v", sink.Err())
	}

	want := []string{
		"Microphone permission is required before recording",
		"Recording permission denied",
		"Error saving recording: failed to write recording",
		"Recording failed: File not found or empty",
		"No significant sound detected during recording",
		"Recording saved! File size: 2 KB",
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != len(want) {
		t.Fatalf("Expected %d lines, got %d:\n%s", len(want), len(lines), out.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}

	// Only the first summary is buffered
	if got := <-sink.summaries; got.FileSizeBytes != 0 {
		t.Errorf("Expected first summary, got %+v", got)
	}
}

func TestValidateSteps(t *testing.T) {
	tests := []struct {
		steps   string
		wantErr bool
	}{
		{"", false},
		{"r", false},
		{"raep", false},
		{"RAP", false},
		{"rm", true},
		{"x", true},
	}
	for _, tt := range tests {
		err := validateSteps(tt.steps)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateSteps(%q) error = %v, wantErr %v", tt.steps, err, tt.wantErr)
		}
	}
}

func TestWavPath(t *testing.T) {
	if got := wavPath("/tmp/rec/take.pcm"); got != "/tmp/rec/take.wav" {
		t.Errorf("Expected /tmp/rec/take.wav, got %s", got)
	}
	if got := wavPath("take"); got != "take.wav" {
		t.Errorf("Expected take.wav, got %s", got)
	}
}

func TestRunSteps_RecordAnalyzeExport(t *testing.T) {
	input := append(chunkOf(0), chunkOf(800)...)
	c := useTestConfig(t, input)

	var out bytes.Buffer
	if err := runSteps(context.Background(), "Morning take", []rune("rae"), &out); err != nil {
		t.Fatalf("runSteps failed: %v\n%s", err, out.String())
	}

	pcm := c.OutputPath("Morning take")
	if filepath.Base(pcm) != "Morning_take.pcm" {
		t.Errorf("Unexpected recording name: %s", pcm)
	}
	info, err := os.Stat(wavPath(pcm))
	if err != nil {
		t.Fatalf("Expected WAV export: %v", err)
	}
	// 44-byte header plus the samples
	if info.Size() != int64(len(input))+44 {
		t.Errorf("Expected WAV of %d bytes, got %d", len(input)+44, info.Size())
	}

	text := out.String()
	for _, want := range []string{"step 1/3: 'r'", "chunks: 2 of 512 bytes", "transitions: 1", "Exported 512 samples", "Pipeline: export completed"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestRunSteps_StopsAtFirstFailure(t *testing.T) {
	useTestConfig(t, chunkOf(0))

	var out bytes.Buffer
	err := runSteps(context.Background(), "never-recorded", []rune("ae"), &out)
	if err == nil || !strings.Contains(err.Error(), "pipeline analyze failed") {
		t.Fatalf("Expected analyze failure, got %v", err)
	}
	if strings.Contains(out.String(), "step 2/2") {
		t.Errorf("Expected pipeline to stop after the failed step, got:\n%s", out.String())
	}
}

func TestPrintInfo(t *testing.T) {
	c := useTestConfig(t, nil)

	var out bytes.Buffer
	printInfo(&out, c, "jam")

	text := out.String()
	for _, want := range []string{"output_pcm: " + filepath.Join(c.Output.Directory, "jam.pcm"), "threshold: 100.0 [default]", "backend: file", "- file"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}
}
