package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/soundsentry/internal/audio"
	"github.com/audiolibrelab/soundsentry/internal/play"
)

const stepsHelp = "valid: r=record, a=analyze, e=export, p=play"

// executePipeline runs the steps that follow startStep in --steps
func executePipeline(ctx context.Context, name string, startStep rune, out io.Writer) error {
	if steps == "" {
		return nil
	}

	pipelineSteps := []rune(strings.ToLower(steps))

	// Find the starting position in the pipeline
	startIndex := -1
	for i, step := range pipelineSteps {
		if step == startStep {
			startIndex = i
			break
		}
	}

	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, steps)
	}

	return runSteps(ctx, name, pipelineSteps[startIndex+1:], out)
}

// runSteps executes steps in order against the recording called name and
// stops at the first failure
func runSteps(ctx context.Context, name string, pipelineSteps []rune, out io.Writer) error {
	path := cfg.OutputPath(name)

	for i, step := range pipelineSteps {
		fmt.Fprintf(out, "Pipeline: executing step %d/%d: '%c'...\n", i+1, len(pipelineSteps), step)

		switch step {
		case 'r':
			if _, err := recordUntilDone(ctx, path, out); err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
			fmt.Fprintln(out, "Pipeline: recording completed")

		case 'a':
			if _, err := analyzeRecording(path, false, out); err != nil {
				return fmt.Errorf("pipeline analyze failed: %w", err)
			}
			fmt.Fprintln(out, "Pipeline: analysis completed")

		case 'e':
			if err := exportRecording(path, wavPath(path), out); err != nil {
				return fmt.Errorf("pipeline export failed: %w", err)
			}
			fmt.Fprintln(out, "Pipeline: export completed")

		case 'p':
			if err := play.New(audio.FormatFromConfig(cfg)).Play(path); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
			fmt.Fprintln(out, "Pipeline: playback completed")

		default:
			return fmt.Errorf("unknown pipeline step: '%c' (%s)", step, stepsHelp)
		}
	}

	return nil
}

func validateSteps(s string) error {
	if s == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'a': true, // analyze
		'e': true, // export
		'p': true, // play
	}

	for _, step := range strings.ToLower(s) {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (%s)", step, stepsHelp)
		}
	}

	return nil
}

// wavPath returns the WAV file written next to a raw recording
func wavPath(pcmPath string) string {
	return strings.TrimSuffix(pcmPath, filepath.Ext(pcmPath)) + ".wav"
}
