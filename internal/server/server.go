package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/audiolibrelab/soundsentry/internal/audio"
	"github.com/audiolibrelab/soundsentry/internal/observe"
	"github.com/audiolibrelab/soundsentry/internal/service"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server exposes the recording controller over HTTP
type Server struct {
	service service.Service
	events  *Broadcaster
	port    string
	metrics bool
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	service.Status
	Message    string  `json:"message,omitempty"`
	Profile    string  `json:"profile"`
	Threshold  float64 `json:"threshold"`
	SampleRate int     `json:"sample_rate"`
}

// New creates a web server for svc. events must be the sink svc reports to.
func New(svc service.Service, events *Broadcaster, port string, metrics bool) *Server {
	return &Server{
		service: svc,
		events:  events,
		port:    port,
		metrics: metrics,
	}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/permission", s.handlePermission)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleEvents)
	if s.metrics {
		mux.Handle("/metrics", observe.Handler())
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts the listener down
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	slog.Info("Starting SoundSentry Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// handleStart starts a recording. The optional form value "file" names the
// recording inside the output directory.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form data", "error", err)
		return
	}

	var path string
	if name := r.FormValue("file"); name != "" {
		if cfg := s.service.GetConfig(); cfg != nil {
			path = cfg.OutputPath(name)
		}
	}

	if err := s.service.RequestStart(path); err != nil {
		s.sendErrorResponse(w, statusForError(err), audio.Report(err), "operation", "start_recording")
		return
	}

	status := s.service.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"output":  status.OutputFile,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	summary, err := s.service.RequestStop()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, audio.Report(err), "operation", "stop_recording")
		return
	}

	response := map[string]interface{}{
		"success": true,
		"message": "Recording stopped",
	}
	if summary.Path != "" {
		response["summary"] = summary
		response["messages"] = summary.Messages()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handlePermission forwards the host's permission decision
func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form data", "error", err)
		return
	}

	granted, err := strconv.ParseBool(r.FormValue("granted"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "granted must be true or false", "value", r.FormValue("granted"))
		return
	}

	s.service.PermissionGranted(granted)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"granted": granted,
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status := s.service.Status()
	response := StatusResponse{
		Status:  status,
		Message: generateStatusMessage(status),
	}
	if cfg := s.service.GetConfig(); cfg != nil {
		response.Profile = cfg.Profile
		response.Threshold = cfg.Threshold()
		response.SampleRate = cfg.Audio.SampleRate
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleEvents streams controller notifications over a websocket
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so no event is missed
	events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("Websocket handshake failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frame
	ctx := conn.CloseRead(r.Context())
	slog.Debug("Event client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Event client disconnected", "remote", r.RemoteAddr)
			return
		case msg := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				slog.Debug("Failed to push event", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func generateStatusMessage(status service.Status) string {
	switch status.Status {
	case service.StatusRecording:
		if status.SoundDetected {
			return fmt.Sprintf("Recording in progress - %s (sound detected)", status.OutputFile)
		}
		return fmt.Sprintf("Recording in progress - %s", status.OutputFile)
	case service.StatusError:
		if status.LastError != "" {
			return status.LastError
		}
		return "An error occurred during the operation"
	default:
		if !status.Permission {
			return "Waiting for microphone permission"
		}
		return "Ready to record"
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, audio.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionRequired), errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
