// Package follower mirrors the source's session and runs a fallback timer
// when told to go standalone.
//
// A Follower is in exactly one mode at a time. While mirrored it has no tick
// loop of its own and only adopts what the source sends. Standalone mode is
// entered explicitly and owns an Engine; any switch tears the previous mode
// down before the next one starts.
package follower

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/pacer/internal/link"
	"github.com/fentz26/pacer/internal/logging"
	"github.com/fentz26/pacer/internal/loop"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/permit"
	"github.com/fentz26/pacer/internal/timer"
)

// Mode is the follower's operating mode.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeMirrored   Mode = "mirrored"
	ModeStandalone Mode = "standalone"
)

// Result reports what Handle did with an envelope.
type Result string

const (
	Applied             Result = "applied"
	IgnoredStale        Result = "ignored_stale"
	IgnoredOtherSession Result = "ignored_other_session"
	IgnoredNoSession    Result = "ignored_no_session"
)

// Haptic is a feedback category.
type Haptic string

const (
	HapticStrong  Haptic = "strong"
	HapticLight   Haptic = "light"
	HapticSuccess Haptic = "success"
)

// Haptics renders feedback.
type Haptics interface {
	Play(h Haptic)
}

// Alerts shows a user-visible alert even when the watch face is not in front.
type Alerts interface {
	Alert(title, body string)
}

// PlanCache keeps the last mirrored plan for standalone use.
type PlanCache interface {
	SavePlan(ctx context.Context, key string, plan models.Plan) error
	LoadPlan(ctx context.Context, key string) (models.Plan, error)
}

// CacheKey is the PlanCache slot used for the last mirrored plan.
const CacheKey = "last"

// Config controls the fallback engine cadence.
type Config struct {
	TickInterval    time.Duration
	CountdownWindow int
}

// Deps are the follower's collaborators. Nil fields get inert defaults.
type Deps struct {
	Haptics   Haptics
	Alerts    Alerts
	Permits   permit.Provider
	Cache     PlanCache
	Logger    *slog.Logger
	NewTicker loop.TickerFunc
}

// View is an immutable copy of what the watch face shows.
type View struct {
	Mode      Mode
	Link      link.Status
	Offline   bool
	SessionID string
	Plan      models.Plan
	State     models.TimerState
	Current   models.Interval
	// Phase is only meaningful in standalone mode.
	Phase     timer.Phase
	Completed bool
}

// Follower applies sync messages and owns the fallback engine.
type Follower struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu     sync.Mutex
	mode   Mode
	mirror *mirror
	engine *Engine
	// seen holds the last structural seq of sessions no longer mirrored.
	seen map[string]uint64

	viewMu  sync.Mutex
	view    View
	subs    map[int]chan View
	nextSub int
}

type mirror struct {
	sessionID      string
	plan           models.Plan
	state          models.TimerState
	lastStructural uint64
	lastApplied    uint64
	alerted        bool
}

// New creates an idle follower with the link unavailable.
func New(cfg Config, deps Deps) *Follower {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = loop.DefaultInterval
	}
	if cfg.CountdownWindow == 0 {
		cfg.CountdownWindow = timer.DefaultCountdownWindow
	}
	if deps.Haptics == nil {
		deps.Haptics = nopFeedback{}
	}
	if deps.Alerts == nil {
		deps.Alerts = nopFeedback{}
	}
	if deps.Permits == nil {
		deps.Permits = permit.Always{}
	}
	if deps.NewTicker == nil {
		deps.NewTicker = loop.NewTicker
	}
	return &Follower{
		cfg:    cfg,
		deps:   deps,
		logger: logging.NewComponentLogger(deps.Logger, "follower"),
		mode:   ModeIdle,
		seen:   make(map[string]uint64),
		view:   View{Mode: ModeIdle, Link: link.StatusUnavailable, Offline: true},
		subs:   make(map[int]chan View),
	}
}

// Mode returns the current mode.
func (f *Follower) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// Handle applies one envelope from the source.
func (f *Follower) Handle(env link.Envelope) Result {
	var effects []func()
	f.mu.Lock()
	res := f.apply(env, &effects)
	f.mu.Unlock()

	for _, fx := range effects {
		fx()
	}
	if res != Applied {
		f.logger.Debug("sync message ignored",
			logging.String("type", string(env.Message.Kind())),
			logging.Session(env.SessionID),
			logging.Uint64("seq", env.Seq),
			logging.String("result", string(res)),
		)
	}
	return res
}

func (f *Follower) apply(env link.Envelope, effects *[]func()) Result {
	if started, ok := env.Message.(link.Started); ok {
		return f.applyStarted(env, started, effects)
	}

	m := f.mirror
	if m == nil {
		if _, ended := f.seen[env.SessionID]; ended {
			return IgnoredStale
		}
		return IgnoredNoSession
	}
	if m.sessionID != env.SessionID {
		return IgnoredOtherSession
	}

	switch msg := env.Message.(type) {
	case link.IntervalChanged:
		if env.Seq <= m.lastStructural {
			return IgnoredStale
		}
		moved := !m.state.SameSlot(msg.State)
		m.state = msg.State
		m.lastStructural = env.Seq
		m.lastApplied = max(m.lastApplied, env.Seq)
		if moved {
			*effects = append(*effects, f.play(HapticStrong))
		}
		f.publishMirror()
	case link.Countdown, link.TimerUpdate:
		if env.Seq <= m.lastApplied {
			return IgnoredStale
		}
		if c, ok := msg.(link.Countdown); ok {
			m.state.TimeRemainingMillis = c.TimeRemainingMillis
			*effects = append(*effects, f.play(HapticLight))
		} else {
			m.state.TimeRemainingMillis = msg.(link.TimerUpdate).TimeRemainingMillis
		}
		m.lastApplied = env.Seq
		f.publishMirror()
	case link.Completed:
		if env.Seq <= m.lastStructural {
			return IgnoredStale
		}
		m.state.Running = false
		m.state.TimeRemainingMillis = 0
		m.state.Completed = true
		view := f.mirrorView(m)
		view.Mode = ModeIdle
		view.Completed = true
		f.endMirror(env.Seq)
		f.setView(func(v *View) { keepLink(v, view) })
		*effects = append(*effects, f.play(HapticSuccess))
	case link.Stopped:
		if env.Seq <= m.lastStructural {
			return IgnoredStale
		}
		f.endMirror(env.Seq)
		f.setView(func(v *View) { keepLink(v, View{Mode: ModeIdle}) })
	default:
		return IgnoredNoSession
	}
	return Applied
}

func (f *Follower) applyStarted(env link.Envelope, msg link.Started, effects *[]func()) Result {
	if env.Durable {
		if m := f.mirror; m == nil || m.sessionID != env.SessionID || !m.alerted {
			if last, ended := f.seen[env.SessionID]; !ended || env.Seq > last {
				*effects = append(*effects, func() {
					f.deps.Alerts.Alert("Workout started", fmt.Sprintf("%s on your phone", planLabel(msg.Plan)))
				})
			}
		}
	}

	if m := f.mirror; m != nil && m.sessionID == env.SessionID {
		if env.Durable {
			m.alerted = true
		}
		if env.Seq <= m.lastStructural {
			return IgnoredStale
		}
		m.plan = msg.Plan
		m.state = msg.State
		m.lastStructural = env.Seq
		m.lastApplied = max(m.lastApplied, env.Seq)
		f.publishMirror()
		return Applied
	}
	if last, ended := f.seen[env.SessionID]; ended && env.Seq <= last {
		return IgnoredStale
	}

	f.stopEngine()
	if f.mirror != nil {
		f.endMirror(f.mirror.lastStructural)
	}
	f.mirror = &mirror{
		sessionID:      env.SessionID,
		plan:           msg.Plan,
		state:          msg.State,
		lastStructural: env.Seq,
		lastApplied:    env.Seq,
		alerted:        env.Durable,
	}
	delete(f.seen, env.SessionID)
	f.mode = ModeMirrored
	f.publishMirror()
	*effects = append(*effects, f.play(HapticStrong), f.cachePlan(msg.Plan))
	f.logger.Info("mirroring session", logging.Session(env.SessionID), logging.Bool("durable", env.Durable))
	return Applied
}

// OnLinkStatus records transport status. It never changes mode.
func (f *Follower) OnLinkStatus(status link.Status) {
	f.setView(func(v *View) {
		v.Link = status
		v.Offline = status != link.StatusConnected
	})
	if status != link.StatusConnected {
		f.logger.Info("sync link unavailable")
	}
}

// HasSession reports whether there is something to run standalone: a live
// mirror that has not completed.
func (f *Follower) HasSession() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mirror != nil
}

// EnterStandalone switches to the fallback engine. A live mirror seeds it
// and is torn down first; otherwise the cached plan is started from the top.
func (f *Follower) EnterStandalone(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mode == ModeStandalone {
		return nil
	}

	var (
		plan  models.Plan
		state *models.TimerState
	)
	if m := f.mirror; m != nil {
		plan = m.plan
		st := m.state
		state = &st
	} else {
		if f.deps.Cache == nil {
			return ErrNoCachedPlan
		}
		cached, err := f.deps.Cache.LoadPlan(ctx, CacheKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoCachedPlan, err)
		}
		plan = cached
	}

	engine, err := newEngine(engineConfig{
		interval:        f.cfg.TickInterval,
		countdownWindow: f.cfg.CountdownWindow,
		newTicker:       f.deps.NewTicker,
		permits:         f.deps.Permits,
		haptics:         f.deps.Haptics,
		logger:          f.deps.Logger,
		onChange:        f.engineChanged,
	}, plan, state)
	if err != nil {
		return fmt.Errorf("seed fallback engine: %w", err)
	}

	if f.mirror != nil {
		f.endMirror(f.mirror.lastStructural)
	}
	f.mode = ModeStandalone
	f.engine = engine
	f.setView(func(v *View) {
		v.Mode = ModeStandalone
		v.SessionID = ""
		v.Completed = false
	})
	engine.Start()
	f.logger.Info("standalone timer started", logging.Bool("resumed", state != nil))
	return nil
}

// StopStandalone tears the fallback engine down and returns to idle.
func (f *Follower) StopStandalone() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode != ModeStandalone {
		return ErrNotStandalone
	}
	f.stopEngine()
	f.setView(func(v *View) { keepLink(v, View{Mode: ModeIdle}) })
	return nil
}

// Toggle flips the standalone timer between running and paused.
func (f *Follower) Toggle(ctx context.Context) error {
	return f.local(ctx, func(m *timer.Machine) timer.Step { m.Toggle(); return timer.Step{} })
}

// SkipNext advances the standalone timer.
func (f *Follower) SkipNext(ctx context.Context) error {
	return f.local(ctx, (*timer.Machine).SkipNext)
}

// SkipPrevious steps the standalone timer back.
func (f *Follower) SkipPrevious(ctx context.Context) error {
	return f.local(ctx, (*timer.Machine).SkipPrevious)
}

// Reset returns the standalone timer to its first interval.
func (f *Follower) Reset(ctx context.Context) error {
	return f.local(ctx, (*timer.Machine).Reset)
}

// Close stops the fallback engine if one runs.
func (f *Follower) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopEngine()
}

func (f *Follower) local(ctx context.Context, fn func(*timer.Machine) timer.Step) error {
	f.mu.Lock()
	e := f.engine
	f.mu.Unlock()
	if e == nil {
		return ErrNotStandalone
	}
	if _, err := e.Do(ctx, fn); err != nil {
		return fmt.Errorf("standalone control: %w", err)
	}
	return nil
}

// stopEngine requires f.mu.
func (f *Follower) stopEngine() {
	if f.engine == nil {
		return
	}
	f.engine.Stop()
	f.engine = nil
	if f.mode == ModeStandalone {
		f.mode = ModeIdle
	}
	f.logger.Info("standalone timer stopped")
}

// endMirror requires f.mu.
func (f *Follower) endMirror(seq uint64) {
	m := f.mirror
	if m == nil {
		return
	}
	f.seen[m.sessionID] = max(seq, m.lastStructural)
	f.mirror = nil
	if f.mode == ModeMirrored {
		f.mode = ModeIdle
	}
}

func (f *Follower) play(h Haptic) func() {
	return func() { f.deps.Haptics.Play(h) }
}

func (f *Follower) cachePlan(plan models.Plan) func() {
	return func() {
		if f.deps.Cache == nil {
			return
		}
		if err := f.deps.Cache.SavePlan(context.Background(), CacheKey, plan); err != nil {
			f.logger.Warn("cache mirrored plan", logging.Error(err))
		}
	}
}

func planLabel(plan models.Plan) string {
	if plan.Name != "" {
		return plan.Name
	}
	return fmt.Sprintf("%d rounds x %d intervals", plan.Rounds, len(plan.Intervals))
}

type nopFeedback struct{}

func (nopFeedback) Play(Haptic)          {}
func (nopFeedback) Alert(string, string) {}
