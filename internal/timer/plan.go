package timer

import (
	"fmt"

	"github.com/fentz26/pacer/internal/models"
)

// ValidatePlan checks the structural invariants a session needs: at least
// one interval, at least one round, and no negative durations.
func ValidatePlan(plan models.Plan) error {
	if len(plan.Intervals) == 0 {
		return invalid("no intervals")
	}
	if plan.Rounds < 1 {
		return invalid(fmt.Sprintf("rounds must be at least 1, got %d", plan.Rounds))
	}
	for i, iv := range plan.Intervals {
		if iv.Duration < 0 {
			return invalid(fmt.Sprintf("interval %d (%q) has negative duration", i, iv.Name))
		}
		if iv.Kind != "" && !iv.Kind.Valid() {
			return invalid(fmt.Sprintf("interval %d (%q) has unknown kind %q", i, iv.Name, iv.Kind))
		}
	}
	return nil
}

// ValidateState checks that a state is addressable within plan.
func ValidateState(plan models.Plan, state models.TimerState) error {
	if state.CurrentRound < 1 || state.CurrentRound > plan.Rounds {
		return fmt.Errorf("round %d out of range [1, %d]", state.CurrentRound, plan.Rounds)
	}
	if state.CurrentIntervalIndex < 0 || state.CurrentIntervalIndex >= len(plan.Intervals) {
		return fmt.Errorf("interval index %d out of range [0, %d]", state.CurrentIntervalIndex, len(plan.Intervals)-1)
	}
	if state.TimeRemainingMillis < 0 {
		return fmt.Errorf("negative time remaining %d", state.TimeRemainingMillis)
	}
	if state.Completed && (state.Running || state.TimeRemainingMillis != 0) {
		return fmt.Errorf("completed state must be stopped at zero")
	}
	return nil
}

// InitialState is the state a plan starts in.
func InitialState(plan models.Plan) models.TimerState {
	return models.TimerState{
		CurrentRound:         1,
		CurrentIntervalIndex: 0,
		TimeRemainingMillis:  plan.Intervals[0].DurationMillis(),
	}
}
