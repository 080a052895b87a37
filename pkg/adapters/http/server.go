package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/state"
	"github.com/aretw0/pergola/pkg/thread"
)

// Engine is the thread API served over HTTP.
type Engine interface {
	ports.ThreadAPI
	Delete(ctx context.Context, threadID string) error
}

// Streamer is implemented by engines that report committed waves while a
// run is in flight. When available, runs are broadcast to SSE subscribers.
type Streamer interface {
	Stream(ctx context.Context, threadID string, input map[string]any) <-chan domain.StepEvent
}

// Server exposes an Engine as a JSON API.
type Server struct {
	Engine  Engine
	Streams *StreamManager
	Logger  *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	server := &Server{
		Engine:  engine,
		Streams: NewStreamManager(),
		Logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}
	server.Streams.logger = server.Logger

	r := chi.NewRouter()
	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)
	r.Get("/graph", server.GetGraph)
	r.Route("/threads", func(r chi.Router) {
		r.Post("/", server.CreateThread)
		r.Get("/", server.ListThreads)
		r.Route("/{threadID}", func(r chi.Router) {
			r.Delete("/", server.DeleteThread)
			r.Post("/runs", server.RunThread)
			r.Post("/abort", server.AbortThread)
			r.Get("/state", server.GetState)
			r.Patch("/state", server.UpdateState)
			r.Get("/history", server.GetHistory)
			r.Get("/events", server.SubscribeEvents)
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RunRequest is the body of POST /threads/{id}/runs.
type RunRequest struct {
	// Input starts a new run when present; an absent input resumes.
	Input map[string]any `json:"input,omitempty"`
	// Resume continues a paused run after applying Patch.
	Resume bool           `json:"resume,omitempty"`
	Patch  map[string]any `json:"patch,omitempty"`
}

// CreateThread handles POST /threads.
func (s *Server) CreateThread(w http.ResponseWriter, r *http.Request) {
	id, err := s.Engine.Create(r.Context())
	if err != nil {
		s.fail(w, "CreateThread", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"thread_id": id})
}

// ListThreads handles GET /threads.
func (s *Server) ListThreads(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Threads(r.Context())
	if err != nil {
		s.fail(w, "ListThreads", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, ids)
}

// DeleteThread handles DELETE /threads/{id}.
func (s *Server) DeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Delete(r.Context(), chi.URLParam(r, "threadID")); err != nil {
		s.fail(w, "DeleteThread", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AbortThread handles POST /threads/{id}/abort.
func (s *Server) AbortThread(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Abort(r.Context(), chi.URLParam(r, "threadID")); err != nil {
		s.fail(w, "AbortThread", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunThread handles POST /threads/{id}/runs.
func (s *Server) RunThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	var body RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			s.Logger.Warn("RunThread: Invalid request body", "error", err)
			return
		}
	}

	if body.Resume && len(body.Patch) > 0 {
		if _, err := s.Engine.UpdateState(r.Context(), threadID, body.Patch); err != nil {
			s.fail(w, "RunThread", err)
			return
		}
	}

	input := body.Input
	if body.Resume {
		input = nil
	} else if input == nil {
		input = map[string]any{}
	}

	out, err := s.run(r.Context(), threadID, input)
	if err != nil {
		s.fail(w, "RunThread", err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// run executes a thread, broadcasting each committed wave when the engine
// can stream.
func (s *Server) run(ctx context.Context, threadID string, input map[string]any) (*domain.Outcome, error) {
	streamer, ok := s.Engine.(Streamer)
	if !ok {
		return s.Engine.Run(ctx, threadID, input)
	}

	var out *domain.Outcome
	var err error
	for ev := range streamer.Stream(ctx, threadID, input) {
		if ev.Outcome != nil || ev.Err != nil {
			out, err = ev.Outcome, ev.Err
		}
		if bytes, merr := json.Marshal(ev); merr == nil {
			s.Streams.Broadcast(threadID, string(bytes))
		}
	}
	if out == nil && err == nil {
		err = ctx.Err()
	}
	return out, err
}

// GetState handles GET /threads/{id}/state. A "ns" query parameter
// addresses a sub-workflow frame below the thread.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	cp, err := s.Engine.GetState(r.Context(), frameKey(r))
	if err != nil {
		s.fail(w, "GetState", err)
		return
	}
	s.writeJSON(w, http.StatusOK, cp)
}

// UpdateState handles PATCH /threads/{id}/state.
func (s *Server) UpdateState(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.Logger.Warn("UpdateState: Invalid request body", "error", err)
		return
	}

	cp, err := s.Engine.UpdateState(r.Context(), frameKey(r), patch)
	if err != nil {
		s.fail(w, "UpdateState", err)
		return
	}
	s.writeJSON(w, http.StatusOK, cp)
}

// GetHistory handles GET /threads/{id}/history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Engine.History(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		s.fail(w, "GetHistory", err)
		return
	}
	if history == nil {
		history = []domain.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

// GetGraph handles GET /graph. It returns the Mermaid flowchart, overlaid
// with the trajectory and pending nodes of a thread when "thread" is set.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	var overlay *graph.Overlay
	if id := r.URL.Query().Get("thread"); id != "" {
		cp, err := s.Engine.GetState(r.Context(), id)
		if err != nil {
			s.fail(w, "GetGraph", err)
			return
		}
		overlay = &graph.Overlay{VisitedNodes: cp.Trajectory, PendingNodes: cp.PendingNodes}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.Mermaid(s.Engine.Graph(), overlay))
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "pergola-http",
		"version": strings.TrimSpace(pergola.Version),
		"graph":   s.Engine.Graph().Name(),
	})
}

// StreamManager handles active SSE connections
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // ThreadID -> Set of Channels
	logger      *slog.Logger
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logging.NewNop(),
	}
}

func (sm *StreamManager) Subscribe(threadID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[threadID]; !ok {
		sm.subscribers[threadID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[threadID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[threadID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, threadID)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(threadID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[threadID] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message", "thread_id", threadID)
		}
	}
}

// SubscribeEvents handles GET /threads/{id}/events (SSE). Each message is
// a JSON step event of a run started through this server.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.Logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	threadID := chi.URLParam(r, "threadID")
	ch, cancel := s.Streams.Subscribe(threadID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.Logger.Debug("SSE client disconnected", "thread_id", threadID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// -- Helpers --

// frameKey builds the checkpoint key from the thread id and the optional
// "ns" query parameter.
func frameKey(r *http.Request) string {
	key := chi.URLParam(r, "threadID")
	if ns := r.URL.Query().Get("ns"); ns != "" {
		key += "/" + strings.Trim(ns, "/")
	}
	return key
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("response encode failed", "error", err)
	}
}

// fail maps engine errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	var missing *domain.MissingFieldError
	var routing *domain.RoutingError
	switch {
	case errors.Is(err, domain.ErrThreadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSuperseded), errors.Is(err, domain.ErrAborted),
		errors.Is(err, thread.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, state.ErrUndeclaredField), errors.As(err, &missing), errors.As(err, &routing):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.Logger.Error(op+" failed", "error", err)
	} else {
		s.Logger.Warn(op+" rejected", "error", err, "status", status)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
