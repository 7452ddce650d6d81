// Package controlplane provides the HTTP API and service layer for the
// pacer source.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fentz26/pacer/internal/audit"
	"github.com/fentz26/pacer/internal/host"
	"github.com/fentz26/pacer/internal/logging"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/store"
	"github.com/fentz26/pacer/internal/timer"
)

// Session actions accepted by Control.
const (
	ActionToggle   = "toggle"
	ActionPause    = "pause"
	ActionResume   = "resume"
	ActionNext     = "next"
	ActionPrevious = "previous"
	ActionReset    = "reset"
)

// Service provides the control plane business logic.
type Service struct {
	store      *store.Store
	journal    *audit.Journal
	controller *host.Controller
	logger     *slog.Logger
}

// NewService creates a new control plane service.
func NewService(s *store.Store, journal *audit.Journal, ctl *host.Controller, logger *slog.Logger) *Service {
	return &Service{
		store:      s,
		journal:    journal,
		controller: ctl,
		logger:     logging.NewComponentLogger(logger, "controlplane"),
	}
}

// --- Routine Operations ---

// CreateRoutine validates plan and stores it under name.
func (s *Service) CreateRoutine(ctx context.Context, name, description string, plan models.Plan) (*models.Routine, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if err := timer.ValidatePlan(plan); err != nil {
		s.record(ctx, audit.ActionRoutineCreate, plan, audit.OutcomeRejected, err.Error())
		return nil, err
	}
	routine, err := s.store.CreateRoutine(ctx, name, description, plan)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionRoutineCreate, plan, audit.OutcomeOK, routine.ID)
	return routine, nil
}

// GetRoutine retrieves a routine by ID or name.
func (s *Service) GetRoutine(ctx context.Context, ref string) (*models.Routine, error) {
	return s.store.GetRoutine(ctx, ref)
}

// ListRoutines returns every stored routine.
func (s *Service) ListRoutines(ctx context.Context) ([]models.Routine, error) {
	return s.store.ListRoutines(ctx)
}

// DeleteRoutine removes a routine by ID or name.
func (s *Service) DeleteRoutine(ctx context.Context, ref string) error {
	if err := s.store.DeleteRoutine(ctx, ref); err != nil {
		return err
	}
	s.record(ctx, audit.ActionRoutineDelete, ref, audit.OutcomeOK, ref)
	return nil
}

// --- Session Operations ---

// StartRequest names what to run: a stored routine or an inline plan.
type StartRequest struct {
	RoutineID string       `json:"routine_id,omitempty"`
	Plan      *models.Plan `json:"plan,omitempty"`
}

// StartSession resolves req and starts it through the controller. When the
// host is not connected yet the start is queued and host.ErrStartPending is
// returned.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (host.SessionInfo, error) {
	var (
		plan models.Plan
		meta host.SessionMeta
	)
	switch {
	case req.RoutineID != "" && req.Plan != nil:
		return host.SessionInfo{}, fmt.Errorf("%w: routine_id and plan are exclusive", ErrInvalidRequest)
	case req.RoutineID != "":
		routine, err := s.store.GetRoutine(ctx, req.RoutineID)
		if err != nil {
			return host.SessionInfo{}, err
		}
		plan = routine.Plan
		meta.RoutineName = routine.Name
	case req.Plan != nil:
		plan = *req.Plan
		meta.RoutineName = plan.Name
	default:
		return host.SessionInfo{}, fmt.Errorf("%w: routine_id or plan is required", ErrInvalidRequest)
	}
	return s.controller.RequestStart(ctx, plan, meta)
}

// Session returns the current session view. ok is false when idle.
func (s *Service) Session() (host.View, bool) {
	h := s.controller.Host()
	if h == nil {
		return host.View{}, false
	}
	return h.Latest()
}

// StopSession stops the current session.
func (s *Service) StopSession(ctx context.Context) error {
	h := s.controller.Host()
	if h == nil {
		return host.ErrNoSession
	}
	return h.StopSession(ctx)
}

// Control applies a named control to the current session.
func (s *Service) Control(ctx context.Context, action string) (host.View, error) {
	h := s.controller.Host()
	if h == nil {
		return host.View{}, ErrHostUnavailable
	}
	switch action {
	case ActionToggle:
		return h.Toggle(ctx)
	case ActionPause:
		return h.Pause(ctx)
	case ActionResume:
		return h.Resume(ctx)
	case ActionNext:
		return h.SkipNext(ctx)
	case ActionPrevious:
		return h.SkipPrevious(ctx)
	case ActionReset:
		return h.Reset(ctx)
	default:
		return host.View{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// --- History ---

// ListWorkouts returns the most recent completed workouts.
func (s *Service) ListWorkouts(ctx context.Context, limit int) ([]models.Workout, error) {
	return s.store.ListWorkouts(ctx, limit)
}

// ListSessionEvents returns the audit trail, optionally for one session.
func (s *Service) ListSessionEvents(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	return s.store.ListSessionEvents(ctx, sessionID)
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) record(ctx context.Context, action string, inputs any, outcome, details string) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Record(ctx, action, inputs, outcome, "", details); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("record audit event", logging.String("action", action), logging.Error(err))
	}
}
