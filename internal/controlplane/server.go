package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/pacer/internal/host"
	"github.com/fentz26/pacer/internal/link"
	"github.com/fentz26/pacer/internal/logging"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/store"
	"github.com/fentz26/pacer/internal/timer"
)

// Version is reported by /health. The CLI overrides it at startup.
var Version = "dev"

// Server provides the HTTP API for the pacer source.
type Server struct {
	service *Service
	hub     *link.Hub
	mailbox link.Mailbox
	addr    string
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates a new HTTP server. hub and mailbox may be nil, in which
// case the sync endpoints are not mounted.
func NewServer(service *Service, hub *link.Hub, mailbox link.Mailbox, addr string, logger *slog.Logger) *Server {
	s := &Server{
		service: service,
		hub:     hub,
		mailbox: mailbox,
		addr:    addr,
		logger:  logging.NewComponentLogger(logger, "http"),
	}
	// No WriteTimeout: /sync/ws holds its connection open.
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	// Routine endpoints
	mux.HandleFunc("/routines", s.handleRoutines)
	mux.HandleFunc("/routines/", s.handleRoutineByID)

	// Session endpoints
	mux.HandleFunc("/session", s.handleSession)
	mux.HandleFunc("/session/", s.handleSessionAction)
	mux.HandleFunc("/events", s.handleEvents)

	mux.HandleFunc("/workouts", s.handleWorkouts)

	// Sync endpoints
	if s.hub != nil {
		mux.Handle("/sync/ws", s.hub)
	}
	if s.mailbox != nil {
		mux.Handle("/sync/mailbox/drain", link.DrainHandler(s.mailbox, s.logger))
	}
	return mux
}

// Listen binds the configured address. Binding before Serve lets callers
// fail fast on a busy port.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return ln, nil
}

// Serve serves on ln until Shutdown. A Shutdown that happens first makes
// Serve return immediately.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("serving pacer API", logging.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK       bool   `json:"ok"`
	DB       string `json:"db"`
	Version  string `json:"version"`
	Time     string `json:"time"`
	Host     bool   `json:"host"`
	Session  string `json:"session,omitempty"`
	Follower bool   `json:"follower"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Host:    s.service.controller.Host() != nil,
	}
	if view, ok := s.service.Session(); ok {
		resp.Session = view.SessionID
	}
	if s.hub != nil {
		resp.Follower = s.hub.Connected()
	}

	status := http.StatusOK
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Routine Handlers ---

type createRoutineRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Plan        models.Plan `json:"plan"`
}

func (s *Server) handleRoutines(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createRoutineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		routine, err := s.service.CreateRoutine(r.Context(), req.Name, req.Description, req.Plan)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, routine)
	case http.MethodGet:
		routines, err := s.service.ListRoutines(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		if routines == nil {
			routines = []models.Routine{}
		}
		writeJSON(w, http.StatusOK, routines)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoutineByID handles /routines/{id}
func (s *Server) handleRoutineByID(w http.ResponseWriter, r *http.Request) {
	ref := strings.Trim(strings.TrimPrefix(r.URL.Path, "/routines/"), "/")
	if ref == "" {
		http.Error(w, "routine id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		routine, err := s.service.GetRoutine(r.Context(), ref)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, routine)
	case http.MethodDelete:
		if err := s.service.DeleteRoutine(r.Context(), ref); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Session Handlers ---

// PendingResponse is returned with 202 when a start was queued.
type PendingResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		info, err := s.service.StartSession(r.Context(), req)
		if errors.Is(err, host.ErrStartPending) {
			writeJSON(w, http.StatusAccepted, PendingResponse{Status: "pending"})
			return
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, info)
	case http.MethodGet:
		view, ok := s.service.Session()
		if !ok {
			http.Error(w, host.ErrNoSession.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		if err := s.service.StopSession(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionAction handles POST /session/{action}
func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/session/"), "/")
	view, err := s.service.Control(r.Context(), action)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	events, err := s.service.ListSessionEvents(r.Context(), r.URL.Query().Get("session"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []models.SessionEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- History Handlers ---

func (s *Server) handleWorkouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	workouts, err := s.service.ListWorkouts(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if workouts == nil {
		workouts = []models.Workout{}
	}
	writeJSON(w, http.StatusOK, workouts)
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, timer.ErrInvalidPlan), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, host.ErrNoSession), errors.Is(err, ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, host.ErrSessionActive), errors.Is(err, host.ErrSessionCompleted), errors.Is(err, store.ErrDuplicateRoutine):
		return http.StatusConflict
	case errors.Is(err, host.ErrStartPending):
		return http.StatusAccepted
	case errors.Is(err, ErrHostUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", logging.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
