package audio

// State is the binary detection state of the capture stream
type State int

const (
	StateQuiet State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateQuiet:
		return "QUIET"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Tracker classifies loudness values as quiet or active and emits events only
// when the classification changes. It is not safe for concurrent use; the
// capture loop is its only caller.
type Tracker struct {
	threshold    float64
	state        State
	everDetected bool
	transitions  int
}

// NewTracker creates a tracker in the quiet state
func NewTracker(threshold float64) *Tracker {
	return &Tracker{threshold: threshold}
}

// Observe feeds one loudness value and returns the events it caused, if any.
// A level strictly above the threshold is active; anything else is quiet.
func (t *Tracker) Observe(level float64) []Event {
	next := StateQuiet
	if level > t.threshold {
		next = StateActive
	}
	if next == t.state {
		return nil
	}

	t.state = next
	t.transitions++
	events := []Event{{Kind: EventStateChanged, State: next, Level: level}}

	if next == StateActive && !t.everDetected {
		t.everDetected = true
		events = append(events, Event{Kind: EventFirstSoundDetected, State: next, Level: level})
	}

	return events
}

// State returns the current classification
func (t *Tracker) State() State {
	return t.state
}

// EverDetected reports whether any chunk has been active since the last reset
func (t *Tracker) EverDetected() bool {
	return t.everDetected
}

// Transitions returns how many state changes have been emitted
func (t *Tracker) Transitions() int {
	return t.transitions
}

// Threshold returns the configured activation level
func (t *Tracker) Threshold() float64 {
	return t.threshold
}

// Reset returns the tracker to the quiet state and clears the detection latch
func (t *Tracker) Reset() {
	t.state = StateQuiet
	t.everDetected = false
	t.transitions = 0
}
