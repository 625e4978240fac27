// Package httpapi exposes the session service over HTTP. Planning is
// asynchronous: creation returns immediately and clients follow progress by
// polling the session or subscribing to its server-sent event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deepnoodle-ai/coastline"
)

// Options configures the HTTP server.
type Options struct {
	Service *coastline.Service
	Bus     *coastline.EventBus
	Logger  *slog.Logger

	// RunTimeout bounds one background planning run. Zero means 10
	// minutes.
	RunTimeout time.Duration
}

// Server routes session API requests. It implements http.Handler.
type Server struct {
	service    *coastline.Service
	bus        *coastline.EventBus
	logger     *slog.Logger
	runTimeout time.Duration
	mux        *http.ServeMux
}

// NewServer validates the options and builds the route table.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = coastline.NewLogger()
	}
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	s := &Server{
		service:    opts.Service,
		bus:        opts.Bus,
		logger:     logger,
		runTimeout: runTimeout,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/sessions", s.handleCreate)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleCancel)
	s.mux.HandleFunc("POST /v1/sessions/{id}/decision", s.handleDecision)
	s.mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleEvents)
	s.mux.HandleFunc("POST /v1/sessions/sweep", s.handleSweep)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var prefs coastline.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), false)
		return
	}
	session, err := s.service.Create(r.Context(), prefs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	go s.runInBackground(session.ID)
	writeJSON(w, http.StatusAccepted, session)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"checkpoints_removed": count})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var decision coastline.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), false)
		return
	}
	session, err := s.service.Decide(r.Context(), r.PathValue("id"), decision)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	swept, err := s.service.ExpireSweep(r.Context(), time.Now())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"swept": swept})
}

// handleEvents streams a session's progress events as SSE until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotImplemented, "event streaming is not enabled", false)
		return
	}
	session, err := s.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", false)
		return
	}

	events, cancel := s.bus.Subscribe(session.ThreadID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, coastline.Event{
		Type:      coastline.EventStatus,
		ThreadID:  session.ThreadID,
		Data:      map[string]string{"status": string(session.Status)},
		Timestamp: time.Now().UTC(),
	})
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) runInBackground(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	if _, err := s.service.Run(ctx, sessionID); err != nil {
		s.logger.Error("background planning run failed", "session_id", sessionID, "error", err)
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	planErr := coastline.ClassifyError(err)
	status := http.StatusInternalServerError
	if planErr.Type == coastline.ErrorTypeClientProtocol {
		status = http.StatusBadRequest
		if strings.Contains(planErr.Cause, "not found") {
			status = http.StatusNotFound
		} else if strings.Contains(planErr.Cause, "not awaiting") {
			status = http.StatusConflict
		}
	}
	writeError(w, status, planErr.Cause, planErr.Recoverable)
}

func writeSSE(w http.ResponseWriter, event coastline.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, recoverable bool) {
	writeJSON(w, status, map[string]any{"error": message, "recoverable": recoverable})
}
