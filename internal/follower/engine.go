package follower

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/pacer/internal/logging"
	"github.com/fentz26/pacer/internal/loop"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/permit"
	"github.com/fentz26/pacer/internal/timer"
)

// EngineState is what the fallback engine reports after every loop turn.
type EngineState struct {
	Plan    models.Plan
	State   models.TimerState
	Phase   timer.Phase
	Current models.Interval
}

// Engine is the follower's own timer. It holds a keep-alive permit exactly
// while its session is running.
type Engine struct {
	machine  *timer.Machine
	runner   *loop.Runner
	permits  permit.Provider
	haptics  Haptics
	logger   *slog.Logger
	onChange func(EngineState)

	mu     sync.Mutex
	permit permit.Permit
	// denied suppresses retries until the session stops running.
	denied bool
}

type engineConfig struct {
	interval        time.Duration
	countdownWindow int
	newTicker       loop.TickerFunc
	permits         permit.Provider
	haptics         Haptics
	logger          *slog.Logger
	onChange        func(EngineState)
}

// newEngine seeds an engine from state when given, otherwise from the start
// of plan. A fresh plan starts running.
func newEngine(cfg engineConfig, plan models.Plan, state *models.TimerState) (*Engine, error) {
	m := timer.New(timer.WithCountdownWindow(cfg.countdownWindow))
	if state != nil {
		if err := m.Restore(plan, *state); err != nil {
			return nil, err
		}
	} else {
		if err := m.Initialize(plan); err != nil {
			return nil, err
		}
		m.Start()
	}

	e := &Engine{
		machine:  m,
		permits:  cfg.permits,
		haptics:  cfg.haptics,
		logger:   logging.NewComponentLogger(cfg.logger, "fallback"),
		onChange: cfg.onChange,
	}
	e.runner = loop.New(m, loop.Config{
		Interval:       cfg.interval,
		StopOnComplete: true,
		NewTicker:      cfg.newTicker,
	}, loop.Hooks{
		OnTick:    e.after,
		OnCommand: e.after,
		OnExit:    func(*timer.Machine) { e.releasePermit() },
	})

	e.syncPermit(m)
	return e, nil
}

// Start reports the seeded state and begins ticking.
func (e *Engine) Start() {
	e.report(e.machine)
	e.runner.Start()
}

// Stop halts the loop and releases the permit.
func (e *Engine) Stop() {
	e.runner.Stop()
	e.releasePermit()
}

// Done is closed when the loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.runner.Done() }

// Do applies fn on the loop goroutine.
func (e *Engine) Do(ctx context.Context, fn func(*timer.Machine) timer.Step) (timer.Step, error) {
	return e.runner.Do(ctx, fn)
}

// HoldsPermit reports whether the keep-alive permit is held.
func (e *Engine) HoldsPermit() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.permit != nil
}

func (e *Engine) after(step timer.Step, m *timer.Machine) {
	switch {
	case step.Completed:
		e.haptics.Play(HapticSuccess)
	case step.Boundary:
		e.haptics.Play(HapticStrong)
	case step.Countdown > 0:
		e.haptics.Play(HapticLight)
	}
	e.syncPermit(m)
	e.report(m)
}

func (e *Engine) report(m *timer.Machine) {
	if e.onChange == nil {
		return
	}
	cur, _ := m.CurrentInterval()
	e.onChange(EngineState{Plan: m.Plan(), State: m.State(), Phase: m.Phase(), Current: cur})
}

// syncPermit holds the permit while running and drops it otherwise.
func (e *Engine) syncPermit(m *timer.Machine) {
	if m.Phase() != timer.PhaseRunning {
		e.releasePermit()
		e.mu.Lock()
		e.denied = false
		e.mu.Unlock()
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.permit != nil || e.denied {
		return
	}
	p, err := e.permits.Acquire(context.Background())
	if err != nil {
		e.denied = true
		e.logger.Warn("keep-alive permit unavailable", logging.Error(err))
		return
	}
	e.permit = p
}

func (e *Engine) releasePermit() {
	e.mu.Lock()
	p := e.permit
	e.permit = nil
	e.mu.Unlock()
	if p == nil {
		return
	}
	if err := p.Release(); err != nil {
		e.logger.Warn("release keep-alive permit", logging.Error(err))
	}
}
