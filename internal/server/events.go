package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/soundsentry/internal/audio"
)

const subscriberBuffer = 32

// EventMessage is the JSON form of a controller notification pushed to
// websocket clients
type EventMessage struct {
	Type     string         `json:"type"`
	Path     string         `json:"path,omitempty"`
	State    string         `json:"state,omitempty"`
	Level    float64        `json:"level,omitempty"`
	Error    string         `json:"error,omitempty"`
	Summary  *audio.Summary `json:"summary,omitempty"`
	Messages []string       `json:"messages,omitempty"`
	Time     time.Time      `json:"time"`
}

// Broadcaster is the presentation sink of the server. It fans controller
// notifications out to every connected client without blocking the
// controller; slow clients lose messages.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[chan EventMessage]struct{}
	dropped int
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[chan EventMessage]struct{})}
}

// Subscribe registers a client. The returned function unsubscribes it.
func (b *Broadcaster) Subscribe() (<-chan EventMessage, func()) {
	ch := make(chan EventMessage, subscriberBuffer)

	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
	}
}

func (b *Broadcaster) publish(msg EventMessage) {
	msg.Time = time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
			b.dropped++
			slog.Debug("Dropping event for slow client", "type", msg.Type, "dropped", b.dropped)
		}
	}
}

func (b *Broadcaster) RecordingStarted(path string) {
	slog.Info("Recording started", "output", path)
	b.publish(EventMessage{Type: "recording_started", Path: path, Messages: []string{"Recording started"}})
}

func (b *Broadcaster) StateChanged(state audio.State, level float64) {
	b.publish(EventMessage{Type: "state_changed", State: state.String(), Level: level})
}

func (b *Broadcaster) FirstSoundDetected() {
	b.publish(EventMessage{Type: "first_sound_detected", Messages: []string{"Sound detected!"}})
}

func (b *Broadcaster) WriteFailed(err error) {
	b.publish(EventMessage{Type: "write_failed", Error: err.Error(), Messages: []string{audio.Report(err)}})
}

func (b *Broadcaster) CaptureFailed(err error) {
	b.publish(EventMessage{Type: "capture_failed", Error: err.Error(), Messages: []string{audio.Report(err)}})
}

func (b *Broadcaster) PermissionRequired() {
	b.publish(EventMessage{Type: "permission_required", Messages: []string{audio.Report(audio.ErrPermissionRequired)}})
}

func (b *Broadcaster) SessionSummary(summary audio.Summary) {
	b.publish(EventMessage{Type: "session_summary", Path: summary.Path, Summary: &summary, Messages: summary.Messages()})
}
