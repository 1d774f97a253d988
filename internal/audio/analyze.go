package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Analysis is the result of replaying a recording through the detector
type Analysis struct {
	Levels       []float64
	Events       []Event
	EverDetected bool
	Bytes        int64
}

// AnalyzeReader re-chunks raw PCM from r, measures every chunk and feeds the
// levels through a fresh Tracker. A short final chunk is measured when it
// holds at least one whole sample; a trailing odd byte is ignored.
func AnalyzeReader(r io.Reader, chunkBytes int, threshold float64) (Analysis, error) {
	if chunkBytes <= 0 || chunkBytes%2 != 0 {
		return Analysis{}, fmt.Errorf("%w: chunk size %d", ErrInvalidChunkLength, chunkBytes)
	}

	var result Analysis
	tracker := NewTracker(threshold)
	chunk := make([]byte, chunkBytes)

	for {
		n, err := io.ReadFull(r, chunk)
		result.Bytes += int64(n)

		if usable := n - n%2; usable > 0 {
			level, merr := Measure(chunk[:usable])
			if merr != nil {
				return result, merr
			}
			result.Levels = append(result.Levels, level)
			result.Events = append(result.Events, tracker.Observe(level)...)
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("failed to read PCM data: %w", err)
		}
	}

	result.EverDetected = tracker.EverDetected()
	return result, nil
}

// AnalyzeFile runs AnalyzeReader on the recording at path
func AnalyzeFile(path string, chunkBytes int, threshold float64) (Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	return AnalyzeReader(f, chunkBytes, threshold)
}

// Transitions returns the state change events of the analysis
func (a Analysis) Transitions() []Event {
	var out []Event
	for _, ev := range a.Events {
		if ev.Kind == EventStateChanged {
			out = append(out, ev)
		}
	}
	return out
}
