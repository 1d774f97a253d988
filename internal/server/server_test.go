package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/audiolibrelab/soundsentry/internal/audio"
	"github.com/audiolibrelab/soundsentry/internal/config"
	"github.com/audiolibrelab/soundsentry/internal/service"
)

func blockingSource() audio.Source {
	return audio.NewReaderSource(func() (io.ReadCloser, error) {
		pr, _ := io.Pipe()
		return pr, nil
	}, 256)
}

func loudSource() audio.Source {
	samples := make([]int16, 256)
	for i := range samples {
		samples[i] = 1000
	}
	data := audio.EncodeSamples(samples)
	return audio.NewReaderSource(func() (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go pw.Write(data)
		return pr, nil
	}, 256)
}

func newTestServer(t *testing.T, src audio.Source, permission bool) (*httptest.Server, *service.Controller) {
	t.Helper()

	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()

	events := NewBroadcaster()
	ctrl, err := service.New(cfg, events, service.WithSource(src), service.WithPermission(permission))
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })

	srv := httptest.NewServer(New(ctrl, events, "0", true).Handler())
	t.Cleanup(srv.Close)
	return srv, ctrl
}

func postForm(t *testing.T, target string, values url.Values) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.PostForm(target, values)
	if err != nil {
		t.Fatalf("POST %s failed: %v", target, err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp.StatusCode, body
}

func getStatus(t *testing.T, base string) StatusResponse {
	t.Helper()
	resp, err := http.Get(base + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	return status
}

func TestStartRequiresPermission(t *testing.T) {
	srv, _ := newTestServer(t, blockingSource(), false)

	code, body := postForm(t, srv.URL+"/start", nil)
	if code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", code)
	}
	if body["success"] != false {
		t.Errorf("Expected failure response, got %v", body)
	}

	if code, _ := postForm(t, srv.URL+"/permission", url.Values{"granted": {"true"}}); code != http.StatusOK {
		t.Fatalf("Expected permission update to succeed, got %d", code)
	}

	code, body = postForm(t, srv.URL+"/start", url.Values{"file": {"morning take"}})
	if code != http.StatusOK {
		t.Fatalf("Expected start to succeed, got %d: %v", code, body)
	}
	if output, _ := body["output"].(string); !strings.HasSuffix(output, "morning_take.pcm") {
		t.Errorf("Expected sanitized output name, got %v", body["output"])
	}
}

func TestStartStopStatus(t *testing.T) {
	srv, _ := newTestServer(t, blockingSource(), true)

	if code, body := postForm(t, srv.URL+"/start", nil); code != http.StatusOK {
		t.Fatalf("Expected start to succeed, got %d: %v", code, body)
	}
	if code, _ := postForm(t, srv.URL+"/start", nil); code != http.StatusConflict {
		t.Errorf("Expected 409 for second start, got %d", code)
	}

	status := getStatus(t, srv.URL)
	if !status.Recording || status.Status.Status != service.StatusRecording {
		t.Errorf("Expected recording status, got %+v", status)
	}
	if status.Threshold != config.DefaultThreshold || status.SampleRate != 44100 {
		t.Errorf("Unexpected config in status: %+v", status)
	}

	code, body := postForm(t, srv.URL+"/stop", nil)
	if code != http.StatusOK {
		t.Fatalf("Expected stop to succeed, got %d: %v", code, body)
	}
	messages, _ := body["messages"].([]interface{})
	if len(messages) == 0 || messages[0] != "Recording failed: File not found or empty" {
		t.Errorf("Expected empty-recording report, got %v", body["messages"])
	}

	if status := getStatus(t, srv.URL); status.Recording {
		t.Errorf("Expected idle status after stop, got %+v", status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, blockingSource(), true)

	resp, err := http.Get(srv.URL + "/start")
	if err != nil {
		t.Fatalf("GET /start failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func TestPermissionValidation(t *testing.T) {
	srv, _ := newTestServer(t, blockingSource(), false)

	if code, _ := postForm(t, srv.URL+"/permission", url.Values{"granted": {"maybe"}}); code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", code)
	}
}

func TestEventStream(t *testing.T) {
	srv, _ := newTestServer(t, loudSource(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if code, body := postForm(t, srv.URL+"/start", nil); code != http.StatusOK {
		t.Fatalf("Expected start to succeed, got %d: %v", code, body)
	}

	var types []string
	for len(types) < 3 {
		var msg EventMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("Failed to read event after %v: %v", types, err)
		}
		types = append(types, msg.Type)
		if msg.Type == "state_changed" && msg.State != "ACTIVE" {
			t.Errorf("Expected ACTIVE state, got %s", msg.State)
		}
	}

	want := []string{"recording_started", "state_changed", "first_sound_detected"}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, blockingSource(), true)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestBroadcaster_DropsForSlowClients(t *testing.T) {
	b := NewBroadcaster()
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.StateChanged(audio.StateActive, 500)
	}

	if len(events) != subscriberBuffer {
		t.Errorf("Expected %d buffered events, got %d", subscriberBuffer, len(events))
	}
	if b.dropped != 10 {
		t.Errorf("Expected 10 dropped events, got %d", b.dropped)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{audio.ErrAlreadyRunning, http.StatusConflict},
		{audio.ErrPermissionRequired, http.StatusForbidden},
		{audio.ErrPermissionDenied, http.StatusForbidden},
		{audio.ErrDeviceUnavailable, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
