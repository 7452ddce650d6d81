// Package timer implements the interval/round progression state machine.
//
// A Machine is a plain synchronous object: it never reads the wall clock and
// never broadcasts. Callers drive it with Tick and the control operations and
// inspect the returned Step to decide what to publish. It is not safe for
// concurrent use; exactly one goroutine may own a Machine at a time.
package timer

import (
	"github.com/fentz26/pacer/internal/models"
)

// Phase is the lifecycle position of a Machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
)

// DefaultCountdownWindow is how many final whole seconds of an interval
// produce countdown edges.
const DefaultCountdownWindow = 3

// Step describes what a single operation changed.
type Step struct {
	// Boundary is set when the round or interval changed (completion included).
	Boundary bool
	// Completed is set on the call that finished the session.
	Completed bool
	// Countdown is the whole second (1..window) the remaining time crossed
	// during this call, or 0.
	Countdown int
}

// Changed reports whether the step moved the machine to another slot.
func (s Step) Changed() bool {
	return s.Boundary || s.Completed
}

// Option configures a Machine.
type Option func(*Machine)

// WithCountdownWindow sets the countdown edge window in seconds.
// Values below zero disable countdown edges.
func WithCountdownWindow(seconds int) Option {
	return func(m *Machine) {
		if seconds < 0 {
			seconds = 0
		}
		m.countdownWindow = seconds
	}
}

// WithCompletionHook registers fn to run when the session completes
// naturally. It runs at most once per Initialize.
func WithCompletionHook(fn func(models.TimerState)) Option {
	return func(m *Machine) {
		m.onComplete = fn
	}
}

// Machine owns a TimerState and advances it through a plan.
type Machine struct {
	plan  models.Plan
	state models.TimerState
	phase Phase
	ready bool
	latch latch

	countdownWindow int
	onComplete      func(models.TimerState)
}

// New creates an idle machine with no plan.
func New(opts ...Option) *Machine {
	m := &Machine{
		phase:           PhaseIdle,
		countdownWindow: DefaultCountdownWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads plan and resets to round 1, interval 0. On error the
// machine is left exactly as it was.
func (m *Machine) Initialize(plan models.Plan) error {
	if err := ValidatePlan(plan); err != nil {
		return err
	}
	m.plan = plan.Clone()
	m.state = InitialState(m.plan)
	m.phase = PhaseIdle
	m.ready = true
	m.latch = latch{}
	return nil
}

// Restore loads plan positioned at state. Used to continue a session that
// another machine was running.
func (m *Machine) Restore(plan models.Plan, state models.TimerState) error {
	if err := ValidatePlan(plan); err != nil {
		return err
	}
	if err := ValidateState(plan, state); err != nil {
		return invalid(err.Error())
	}
	m.plan = plan.Clone()
	m.state = state
	m.ready = true
	m.latch = latch{}
	switch {
	case state.Completed:
		m.phase = PhaseCompleted
		m.latch.fired = true
	case state.Running:
		m.phase = PhaseRunning
	case state == InitialState(m.plan):
		m.phase = PhaseIdle
	default:
		m.phase = PhasePaused
	}
	return nil
}

// Start moves idle or paused machines to running.
func (m *Machine) Start() {
	if !m.ready || m.phase == PhaseRunning || m.phase == PhaseCompleted {
		return
	}
	m.phase = PhaseRunning
	m.state.Running = true
}

// Pause moves a running machine to paused.
func (m *Machine) Pause() {
	if m.phase != PhaseRunning {
		return
	}
	m.phase = PhasePaused
	m.state.Running = false
}

// Toggle flips between running and paused.
func (m *Machine) Toggle() {
	if m.phase == PhaseRunning {
		m.Pause()
		return
	}
	m.Start()
}

// Tick consumes deltaMillis of the current interval. It only acts while
// running. Reaching zero advances in the same call.
func (m *Machine) Tick(deltaMillis int64) Step {
	if m.phase != PhaseRunning || deltaMillis < 0 {
		return Step{}
	}
	if m.state.TimeRemainingMillis <= 0 {
		return m.Advance()
	}

	prev := m.state.TimeRemainingMillis
	next := prev - deltaMillis
	if next < 0 {
		next = 0
	}
	m.state.TimeRemainingMillis = next
	countdown := m.crossed(prev, next)

	if next == 0 {
		step := m.Advance()
		step.Countdown = countdown
		return step
	}
	return Step{Countdown: countdown}
}

// Advance moves to the next interval, wrapping into the next round, or
// completes the session after the final interval of the final round.
func (m *Machine) Advance() Step {
	if !m.ready || m.phase == PhaseCompleted {
		return Step{}
	}

	idx := m.state.CurrentIntervalIndex + 1
	round := m.state.CurrentRound
	if idx >= len(m.plan.Intervals) {
		idx = 0
		round++
	}
	if round > m.plan.Rounds {
		m.complete()
		return Step{Boundary: true, Completed: true}
	}

	m.state.CurrentIntervalIndex = idx
	m.state.CurrentRound = round
	m.state.TimeRemainingMillis = m.plan.Intervals[idx].DurationMillis()
	return Step{Boundary: true}
}

// SkipNext forces an advance regardless of the remaining time.
func (m *Machine) SkipNext() Step {
	return m.Advance()
}

// SkipPrevious steps back one interval, crossing into the previous round
// when needed. At the very first interval it restarts that interval instead.
func (m *Machine) SkipPrevious() Step {
	if !m.ready || m.phase == PhaseCompleted {
		return Step{}
	}

	idx := m.state.CurrentIntervalIndex
	round := m.state.CurrentRound
	switch {
	case idx > 0:
		idx--
	case round > 1:
		round--
		idx = len(m.plan.Intervals) - 1
	}

	moved := idx != m.state.CurrentIntervalIndex || round != m.state.CurrentRound
	m.state.CurrentIntervalIndex = idx
	m.state.CurrentRound = round
	m.state.TimeRemainingMillis = m.plan.Intervals[idx].DurationMillis()
	return Step{Boundary: moved}
}

// Reset returns to the initialized state of the current plan. The
// completion latch stays as it is: a session completes at most once.
func (m *Machine) Reset() Step {
	if !m.ready {
		return Step{}
	}
	moved := !m.state.SameSlot(InitialState(m.plan)) || m.state.Completed
	m.state = InitialState(m.plan)
	m.phase = PhaseIdle
	return Step{Boundary: moved}
}

// Disarm prevents the completion hook from ever firing for this session.
// Used when a session is aborted.
func (m *Machine) Disarm() {
	m.latch.disarmed = true
}

// State returns a copy of the current state.
func (m *Machine) State() models.TimerState {
	return m.state
}

// Phase returns the lifecycle phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Ready reports whether a plan is loaded.
func (m *Machine) Ready() bool {
	return m.ready
}

// Plan returns a copy of the loaded plan.
func (m *Machine) Plan() models.Plan {
	return m.plan.Clone()
}

// CurrentInterval returns the interval the machine is positioned at.
func (m *Machine) CurrentInterval() (models.Interval, bool) {
	if !m.ready {
		return models.Interval{}, false
	}
	return m.plan.Intervals[m.state.CurrentIntervalIndex], true
}

// NextInterval returns the interval that follows the current one and the
// round it belongs to. ok is false at the final interval of the final round.
func (m *Machine) NextInterval() (iv models.Interval, round int, ok bool) {
	if !m.ready || m.state.Completed {
		return models.Interval{}, 0, false
	}
	idx := m.state.CurrentIntervalIndex + 1
	round = m.state.CurrentRound
	if idx >= len(m.plan.Intervals) {
		idx = 0
		round++
	}
	if round > m.plan.Rounds {
		return models.Interval{}, 0, false
	}
	return m.plan.Intervals[idx], round, true
}

// PreviousInterval returns the interval before the current one and its
// round. ok is false at round 1, interval 0.
func (m *Machine) PreviousInterval() (iv models.Interval, round int, ok bool) {
	if !m.ready {
		return models.Interval{}, 0, false
	}
	idx := m.state.CurrentIntervalIndex - 1
	round = m.state.CurrentRound
	if idx < 0 {
		idx = len(m.plan.Intervals) - 1
		round--
	}
	if round < 1 {
		return models.Interval{}, 0, false
	}
	return m.plan.Intervals[idx], round, true
}

func (m *Machine) complete() {
	m.state.Running = false
	m.state.TimeRemainingMillis = 0
	m.state.Completed = true
	m.phase = PhaseCompleted
	if m.latch.trip() && m.onComplete != nil {
		m.onComplete(m.state)
	}
}

// crossed returns the smallest whole second in the countdown window that
// lies in [next, prev).
func (m *Machine) crossed(prev, next int64) int {
	for n := 1; n <= m.countdownWindow; n++ {
		mark := int64(n) * 1000
		if prev > mark && next <= mark {
			return n
		}
	}
	return 0
}

// latch records whether the completion side effect may still run.
type latch struct {
	fired    bool
	disarmed bool
}

func (l *latch) trip() bool {
	if l.fired || l.disarmed {
		return false
	}
	l.fired = true
	return true
}
