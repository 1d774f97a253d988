package audio

import (
	"errors"
	"fmt"
)

// Capture errors. Callers match them with errors.Is; most are returned wrapped
// with the underlying cause.
var (
	ErrDeviceUnavailable  = errors.New("audio device unavailable")
	ErrPermissionDenied   = errors.New("microphone access denied")
	ErrPermissionRequired = errors.New("microphone permission required")
	ErrSourceClosed       = errors.New("audio source closed")
	ErrInvalidChunkLength = errors.New("invalid chunk length")
	ErrAlreadyRunning     = errors.New("recording already in progress")
	ErrWriteFailed        = errors.New("failed to write recording")
	ErrStopTimeout        = errors.New("capture loop did not stop in time")
)

// Report renders err as a single human-readable line for the user
func Report(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrPermissionRequired):
		return "Microphone permission is required before recording"
	case errors.Is(err, ErrPermissionDenied):
		return "Recording permission denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return fmt.Sprintf("Failed to initialize audio input: %v", err)
	case errors.Is(err, ErrAlreadyRunning):
		return "A recording is already in progress"
	case errors.Is(err, ErrWriteFailed):
		return fmt.Sprintf("Error saving recording: %v", err)
	case errors.Is(err, ErrStopTimeout):
		return fmt.Sprintf("Recording did not stop cleanly: %v", err)
	case errors.Is(err, ErrInvalidChunkLength):
		return fmt.Sprintf("Invalid audio data: %v", err)
	case errors.Is(err, ErrSourceClosed):
		return "Audio input closed"
	default:
		return fmt.Sprintf("Recording error: %v", err)
	}
}
