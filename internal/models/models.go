// Package models defines the core domain types for pacer.
package models

import "time"

// IntervalKind describes how an interval is presented. It carries no timing
// semantics.
type IntervalKind string

const (
	KindWorkout  IntervalKind = "workout"
	KindRest     IntervalKind = "rest"
	KindWarmup   IntervalKind = "warmup"
	KindCooldown IntervalKind = "cooldown"
)

// Valid reports whether k is one of the known kinds.
func (k IntervalKind) Valid() bool {
	switch k {
	case KindWorkout, KindRest, KindWarmup, KindCooldown:
		return true
	}
	return false
}

// Interval is a single named timed segment of a plan.
type Interval struct {
	Name     string       `json:"name"`
	Duration int          `json:"duration"` // seconds
	Kind     IntervalKind `json:"kind"`
}

// DurationMillis returns the interval length in milliseconds.
func (i Interval) DurationMillis() int64 {
	return int64(i.Duration) * 1000
}

// Plan is the immutable interval/round definition for one session.
type Plan struct {
	Name      string     `json:"name,omitempty"`
	Intervals []Interval `json:"intervals"`
	Rounds    int        `json:"rounds"`
}

// TotalDuration returns the wall time a plan takes when run without skips.
func (p Plan) TotalDuration() time.Duration {
	var secs int
	for _, iv := range p.Intervals {
		secs += iv.Duration
	}
	return time.Duration(secs*p.Rounds) * time.Second
}

// Clone returns a deep copy so callers can hold a plan without sharing the
// interval slice.
func (p Plan) Clone() Plan {
	out := p
	out.Intervals = append([]Interval(nil), p.Intervals...)
	return out
}

// TimerState is the mutable progress of a session. Only the timer state
// machine writes it; everyone else reads copies.
type TimerState struct {
	Running              bool  `json:"running"`
	CurrentRound         int   `json:"current_round"`
	CurrentIntervalIndex int   `json:"current_interval_index"`
	TimeRemainingMillis  int64 `json:"time_remaining_millis"`
	Completed            bool  `json:"completed"`
}

// SameSlot reports whether two states point at the same round and interval.
func (s TimerState) SameSlot(other TimerState) bool {
	return s.CurrentRound == other.CurrentRound && s.CurrentIntervalIndex == other.CurrentIntervalIndex
}

// ExecutionSnapshot is the throttled projection written to the external
// surface (notification/widget).
type ExecutionSnapshot struct {
	SessionID           string       `json:"session_id"`
	IntervalName        string       `json:"interval_name"`
	IntervalKind        IntervalKind `json:"interval_kind"`
	TimeRemainingMillis int64        `json:"time_remaining_millis"`
	CurrentRound        int          `json:"current_round"`
	TotalRounds         int          `json:"total_rounds"`
	Running             bool         `json:"running"`
	Completed           bool         `json:"completed"`
	// Background is false when the host could not obtain a background
	// execution permit and only ticks while in the foreground.
	Background  bool      `json:"background"`
	PublishedAt time.Time `json:"published_at"`
}

// Routine is a stored plan that a session can be started from.
type Routine struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Plan        Plan      `json:"plan"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Workout records one naturally completed session.
type Workout struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	RoutineName    string    `json:"routine_name"`
	Rounds         int       `json:"rounds"`
	Intervals      int       `json:"intervals"`
	DurationMillis int64     `json:"duration_millis"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// SessionEvent is an audit record for a session-level decision.
type SessionEvent struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	SessionID  string    `json:"session_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
