// Package link implements the sync channel between the authoritative source
// and its follower.
//
// Messages form a closed set. Structural messages (Started, IntervalChanged,
// Completed, Stopped) carry everything a follower needs to converge, so a late
// duplicate is harmless. Countdown and TimerUpdate only carry the remaining
// time and may be dropped or reordered freely.
package link

import "github.com/fentz26/pacer/internal/models"

// Kind is the wire tag of a message.
type Kind string

const (
	KindStarted         Kind = "started"
	KindIntervalChanged Kind = "interval_changed"
	KindCountdown       Kind = "countdown"
	KindTimerUpdate     Kind = "timer_update"
	KindCompleted       Kind = "completed"
	KindStopped         Kind = "stopped"
)

// Structural reports whether messages of this kind change round or interval.
func (k Kind) Structural() bool {
	switch k {
	case KindCountdown, KindTimerUpdate:
		return false
	}
	return true
}

// Message is one of the types below. The set is closed.
type Message interface {
	Kind() Kind
	isMessage()
}

// Started announces a new session with its full plan and state.
type Started struct {
	Plan  models.Plan
	State models.TimerState
}

// IntervalChanged carries the full state after a round or interval change,
// or after a control that changed running state.
type IntervalChanged struct {
	State models.TimerState
}

// Countdown is sent for each of the final whole seconds of an interval.
type Countdown struct {
	TimeRemainingMillis int64
}

// TimerUpdate is the low-priority periodic resync of the remaining time.
type TimerUpdate struct {
	TimeRemainingMillis int64
}

// Completed marks natural completion.
type Completed struct{}

// Stopped marks an abort.
type Stopped struct{}

func (Started) Kind() Kind         { return KindStarted }
func (IntervalChanged) Kind() Kind { return KindIntervalChanged }
func (Countdown) Kind() Kind       { return KindCountdown }
func (TimerUpdate) Kind() Kind     { return KindTimerUpdate }
func (Completed) Kind() Kind       { return KindCompleted }
func (Stopped) Kind() Kind         { return KindStopped }

func (Started) isMessage()         {}
func (IntervalChanged) isMessage() {}
func (Countdown) isMessage()       {}
func (TimerUpdate) isMessage()     {}
func (Completed) isMessage()       {}
func (Stopped) isMessage()         {}
