package audio

import (
	"fmt"
	"time"
)

// EventKind identifies what happened in the capture loop
type EventKind string

const (
	EventStateChanged       EventKind = "STATE_CHANGED"
	EventFirstSoundDetected EventKind = "FIRST_SOUND_DETECTED"
	EventWriteFailed        EventKind = "WRITE_FAILED"
	// EventCaptureStopped is sent when the loop ends without a stop request:
	// end of stream (Err nil) or a device read failure.
	EventCaptureStopped EventKind = "CAPTURE_STOPPED"
)

// Event is a message from the capture loop to its consumer
type Event struct {
	Kind  EventKind
	Run   uint64
	State State
	Level float64
	Err   error
	Time  time.Time

	// Summary is set on the terminal event of a run that ended on its own
	Summary *Summary
}

func (e Event) String() string {
	switch e.Kind {
	case EventStateChanged:
		return fmt.Sprintf("state changed to %s (rms %.1f)", e.State, e.Level)
	case EventFirstSoundDetected:
		return "sound detected"
	case EventWriteFailed:
		return Report(e.Err)
	case EventCaptureStopped:
		if e.Err != nil {
			return Report(e.Err)
		}
		return "audio input ended"
	default:
		return string(e.Kind)
	}
}
