// Package host runs the authoritative timer session.
//
// A Host owns at most one session. The session's machine lives on its own
// loop.Runner; every tick and control is applied there, and the hooks turn
// the resulting step into surface publishes and sync messages. Observers only
// ever see View copies.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/pacer/internal/audit"
	"github.com/fentz26/pacer/internal/link"
	"github.com/fentz26/pacer/internal/logging"
	"github.com/fentz26/pacer/internal/loop"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/permit"
	"github.com/fentz26/pacer/internal/surface"
	"github.com/fentz26/pacer/internal/timer"
)

// Config controls cadence.
type Config struct {
	TickInterval time.Duration
	// PublishEvery is the surface throttle in ticks when no boundary is crossed.
	PublishEvery int
	// TimerUpdateEvery is the TimerUpdate resync cadence in ticks.
	TimerUpdateEvery int
	CountdownWindow  int
}

// DefaultConfig returns the 100ms / 10-tick cadence.
func DefaultConfig() Config {
	return Config{
		TickInterval:     loop.DefaultInterval,
		PublishEvery:     10,
		TimerUpdateEvery: 10,
		CountdownWindow:  timer.DefaultCountdownWindow,
	}
}

// Recorder is the completion side effect. It runs at most once per session
// and never for an aborted one.
type Recorder interface {
	RecordWorkout(ctx context.Context, w models.Workout) (bool, error)
}

// Journal receives audit events.
type Journal interface {
	Record(ctx context.Context, action string, inputs any, outcome, sessionID, details string) (*models.SessionEvent, error)
}

// Deps are the collaborators of a Host. Nil fields get inert defaults.
type Deps struct {
	Surface   surface.Sink
	Permits   permit.Provider
	Sender    link.Sender
	Recorder  Recorder
	Journal   Journal
	Logger    *slog.Logger
	NewTicker loop.TickerFunc
	Now       func() time.Time
}

// SessionMeta describes where a plan came from.
type SessionMeta struct {
	RoutineName string `json:"routine_name,omitempty"`
}

// SessionInfo describes a started session.
type SessionInfo struct {
	ID          string      `json:"id"`
	RoutineName string      `json:"routine_name,omitempty"`
	Plan        models.Plan `json:"plan"`
	StartedAt   time.Time   `json:"started_at"`
	// Background is false when the permit was denied.
	Background bool `json:"background"`
}

// Host keeps a session ticking and publishes its state.
type Host struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	seq    *link.Sequencer

	// ctl serializes session lifecycle changes. It is never held by loop hooks.
	ctl sync.Mutex

	mu      sync.Mutex
	session *session
	view    View
	subs    map[int]chan View
	nextSub int

	foreground atomic.Bool
}

type session struct {
	info   SessionInfo
	runner *loop.Runner
	permit permit.Permit

	completed atomic.Bool
	stopping  atomic.Bool

	// loop goroutine only
	sincePublish int
	sinceSync    int
}

// New creates a host with no session.
func New(cfg Config, deps Deps) *Host {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.PublishEvery <= 0 {
		cfg.PublishEvery = def.PublishEvery
	}
	if cfg.TimerUpdateEvery <= 0 {
		cfg.TimerUpdateEvery = def.TimerUpdateEvery
	}
	if cfg.CountdownWindow < 0 {
		cfg.CountdownWindow = 0
	}
	if deps.Surface == nil {
		deps.Surface = surface.Multi{}
	}
	if deps.Permits == nil {
		deps.Permits = permit.Always{}
	}
	if deps.Sender == nil {
		deps.Sender = link.Nop{}
	}
	if deps.NewTicker == nil {
		deps.NewTicker = loop.NewTicker
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Host{
		cfg:    cfg,
		deps:   deps,
		logger: logging.NewComponentLogger(deps.Logger, "host"),
		seq:    link.NewSequencer(),
		subs:   make(map[int]chan View),
	}
}

// StartSession validates plan and starts running it. Invalid plans are
// rejected before anything is created.
func (h *Host) StartSession(ctx context.Context, plan models.Plan, meta SessionMeta) (SessionInfo, error) {
	h.ctl.Lock()
	defer h.ctl.Unlock()

	if h.current() != nil {
		return SessionInfo{}, ErrSessionActive
	}

	sess := &session{}
	m := timer.New(
		timer.WithCountdownWindow(h.cfg.CountdownWindow),
		timer.WithCompletionHook(func(state models.TimerState) { h.recordCompletion(sess, state) }),
	)
	if err := m.Initialize(plan); err != nil {
		h.journal(ctx, audit.ActionSessionStart, plan, audit.OutcomeRejected, "", err.Error())
		return SessionInfo{}, err
	}

	sess.info = SessionInfo{
		ID:          uuid.New().String(),
		RoutineName: meta.RoutineName,
		Plan:        m.Plan(),
		StartedAt:   h.deps.Now(),
	}

	p, err := h.deps.Permits.Acquire(ctx)
	switch {
	case err == nil:
		sess.permit = p
		sess.info.Background = true
	case ctx.Err() != nil:
		return SessionInfo{}, ctx.Err()
	default:
		h.logger.Warn("background permit unavailable, running in foreground only",
			logging.Session(sess.info.ID), logging.Error(err))
	}

	m.Start()
	sess.runner = loop.New(m, loop.Config{
		Interval:       h.cfg.TickInterval,
		StopOnComplete: true,
		NewTicker:      h.deps.NewTicker,
	}, loop.Hooks{
		Gate:      func() bool { return sess.permit != nil || h.foreground.Load() },
		OnTick:    func(step timer.Step, m *timer.Machine) { h.afterTick(sess, step, m) },
		OnCommand: func(step timer.Step, m *timer.Machine) { h.afterCommand(sess, step, m) },
		OnExit: func(*timer.Machine) {
			h.release(sess)
			h.retract(sess)
		},
	})

	view := h.buildView(sess, m)
	h.commit(view, true)

	env := h.seq.Wrap(sess.info.ID, link.Started{Plan: view.Plan, State: view.State})
	h.deps.Sender.Send(env)
	if err := h.deps.Sender.SendDurable(env); err != nil {
		h.logger.Warn("queue durable start", logging.Session(sess.info.ID), logging.Error(err))
	}

	sess.runner.Start()
	h.mu.Lock()
	h.session = sess
	h.mu.Unlock()

	outcome := audit.OutcomeOK
	if !sess.info.Background {
		outcome = audit.OutcomeDegraded
	}
	h.journal(ctx, audit.ActionSessionStart, plan, outcome, sess.info.ID, meta.RoutineName)
	h.logger.Info("session started",
		logging.Session(sess.info.ID),
		logging.Int("rounds", plan.Rounds),
		logging.Int("intervals", len(plan.Intervals)),
		logging.Bool("background", sess.info.Background),
	)
	return sess.info, nil
}

// StopSession halts the loop, releases the permit and clears the surface.
// Stopping a session that has not completed is an abort: the completion
// side effect is disarmed and followers are sent Stopped.
func (h *Host) StopSession(ctx context.Context) error {
	h.ctl.Lock()
	defer h.ctl.Unlock()

	sess := h.current()
	if sess == nil {
		return ErrNoSession
	}

	sess.stopping.Store(true)
	if !sess.completed.Load() {
		_, err := sess.runner.Do(ctx, func(m *timer.Machine) timer.Step {
			m.Disarm()
			m.Pause()
			return timer.Step{}
		})
		if err != nil && !errors.Is(err, loop.ErrStopped) {
			h.logger.Warn("disarm before stop", logging.Session(sess.info.ID), logging.Error(err))
		}
	}
	sess.runner.Stop()
	h.release(sess)

	aborted := !sess.completed.Load()
	if err := h.deps.Surface.Clear(); err != nil {
		h.logger.Warn("clear surface", logging.Error(err))
	}
	if aborted {
		h.deps.Sender.Send(h.seq.Wrap(sess.info.ID, link.Stopped{}))
	}

	h.mu.Lock()
	h.session = nil
	h.mu.Unlock()
	h.commit(View{}, false)

	outcome := audit.OutcomeOK
	if aborted {
		outcome = audit.OutcomeAborted
	}
	h.journal(ctx, audit.ActionSessionStop, sess.info.ID, outcome, sess.info.ID, "")
	h.logger.Info("session stopped", logging.Session(sess.info.ID), logging.Bool("aborted", aborted))
	return nil
}

// Toggle flips between running and paused.
func (h *Host) Toggle(ctx context.Context) (View, error) {
	return h.control(ctx, func(m *timer.Machine) timer.Step { m.Toggle(); return timer.Step{} })
}

// Pause pauses a running session.
func (h *Host) Pause(ctx context.Context) (View, error) {
	return h.control(ctx, func(m *timer.Machine) timer.Step { m.Pause(); return timer.Step{} })
}

// Resume resumes a paused session.
func (h *Host) Resume(ctx context.Context) (View, error) {
	return h.control(ctx, func(m *timer.Machine) timer.Step { m.Start(); return timer.Step{} })
}

// SkipNext forces an advance.
func (h *Host) SkipNext(ctx context.Context) (View, error) {
	return h.control(ctx, (*timer.Machine).SkipNext)
}

// SkipPrevious steps back one interval.
func (h *Host) SkipPrevious(ctx context.Context) (View, error) {
	return h.control(ctx, (*timer.Machine).SkipPrevious)
}

// Reset returns the session to its first interval, paused.
func (h *Host) Reset(ctx context.Context) (View, error) {
	return h.control(ctx, (*timer.Machine).Reset)
}

// Republish pushes the current state to the surface and the follower once.
func (h *Host) Republish(ctx context.Context) error {
	_, err := h.control(ctx, func(*timer.Machine) timer.Step { return timer.Step{} })
	if errors.Is(err, ErrSessionCompleted) {
		view, _ := h.Latest()
		h.publish(view)
		return nil
	}
	return err
}

// SetForeground tells a degraded host whether it may tick.
func (h *Host) SetForeground(fg bool) {
	h.foreground.Store(fg)
}

// Greeting returns the envelopes a newly connected follower needs to
// converge on the current session.
func (h *Host) Greeting() []link.Envelope {
	view, ok := h.Latest()
	if !ok {
		return nil
	}
	envs := []link.Envelope{h.seq.Wrap(view.SessionID, link.Started{Plan: view.Plan, State: view.State})}
	if view.State.Completed {
		envs = append(envs, h.seq.Wrap(view.SessionID, link.Completed{}))
	}
	return envs
}

func (h *Host) control(ctx context.Context, fn func(*timer.Machine) timer.Step) (View, error) {
	sess := h.current()
	if sess == nil {
		return View{}, ErrNoSession
	}
	if sess.completed.Load() {
		return View{}, ErrSessionCompleted
	}
	if _, err := sess.runner.Do(ctx, fn); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			if sess.completed.Load() {
				return View{}, ErrSessionCompleted
			}
			return View{}, ErrNoSession
		}
		return View{}, err
	}
	view, _ := h.Latest()
	return view, nil
}

func (h *Host) current() *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// afterTick runs on the loop goroutine.
func (h *Host) afterTick(sess *session, step timer.Step, m *timer.Machine) {
	if step.Completed {
		sess.completed.Store(true)
	}
	sess.sincePublish++
	running := m.Phase() == timer.PhaseRunning
	if running {
		sess.sinceSync++
	}

	view := h.buildView(sess, m)
	publish := step.Changed() || sess.sincePublish >= h.cfg.PublishEvery
	if publish {
		sess.sincePublish = 0
	}
	h.commit(view, publish)

	id := sess.info.ID
	switch {
	case step.Completed:
		h.deps.Sender.Send(h.seq.Wrap(id, link.Completed{}))
		h.logger.Info("session completed", logging.Session(id))
	case step.Boundary:
		sess.sinceSync = 0
		h.deps.Sender.Send(h.seq.Wrap(id, link.IntervalChanged{State: view.State}))
	case step.Countdown > 0:
		sess.sinceSync = 0
		h.deps.Sender.Send(h.seq.Wrap(id, link.Countdown{TimeRemainingMillis: view.State.TimeRemainingMillis}))
	case running && sess.sinceSync >= h.cfg.TimerUpdateEvery:
		sess.sinceSync = 0
		h.deps.Sender.Send(h.seq.Wrap(id, link.TimerUpdate{TimeRemainingMillis: view.State.TimeRemainingMillis}))
	}
}

// afterCommand runs on the loop goroutine.
func (h *Host) afterCommand(sess *session, step timer.Step, m *timer.Machine) {
	if sess.stopping.Load() {
		return
	}
	if step.Completed {
		sess.completed.Store(true)
	}
	sess.sincePublish = 0
	sess.sinceSync = 0

	view := h.buildView(sess, m)
	h.commit(view, true)

	if step.Completed {
		h.deps.Sender.Send(h.seq.Wrap(sess.info.ID, link.Completed{}))
		h.logger.Info("session completed", logging.Session(sess.info.ID))
		return
	}
	h.deps.Sender.Send(h.seq.Wrap(sess.info.ID, link.IntervalChanged{State: view.State}))
}

// recordCompletion is the machine's completion hook. The machine's latch
// guarantees it runs at most once per session.
func (h *Host) recordCompletion(sess *session, state models.TimerState) {
	plan := sess.info.Plan
	completedAt := h.deps.Now()
	w := models.Workout{
		SessionID:      sess.info.ID,
		RoutineName:    sess.info.RoutineName,
		Rounds:         plan.Rounds,
		Intervals:      len(plan.Intervals),
		DurationMillis: completedAt.Sub(sess.info.StartedAt).Milliseconds(),
		StartedAt:      sess.info.StartedAt,
		CompletedAt:    completedAt,
	}
	if h.deps.Recorder != nil {
		if _, err := h.deps.Recorder.RecordWorkout(context.Background(), w); err != nil {
			h.logger.Error("record workout", logging.Session(sess.info.ID), logging.Error(err))
		}
	}
	h.journal(context.Background(), audit.ActionSessionComplete, state, audit.OutcomeOK, sess.info.ID, "")
}

func (h *Host) release(sess *session) {
	if sess.permit == nil {
		return
	}
	if err := sess.permit.Release(); err != nil {
		h.logger.Warn("release permit", logging.Session(sess.info.ID), logging.Error(err))
	}
}

// retract withdraws the durable Started so a follower waking after the
// session ended never mirrors it.
func (h *Host) retract(sess *session) {
	if err := h.deps.Sender.Retract(sess.info.ID); err != nil {
		h.logger.Warn("retract durable start", logging.Session(sess.info.ID), logging.Error(err))
	}
}

func (h *Host) journal(ctx context.Context, action string, inputs any, outcome, sessionID, details string) {
	if h.deps.Journal == nil {
		return
	}
	if _, err := h.deps.Journal.Record(ctx, action, inputs, outcome, sessionID, details); err != nil {
		h.logger.Warn("journal write", logging.String(logging.FieldEventType, action), logging.Error(err))
	}
}
