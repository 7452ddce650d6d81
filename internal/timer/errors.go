package timer

import "errors"

// ErrInvalidPlan is matched by every plan validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// InvalidPlanError explains why a plan was rejected.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return "invalid plan: " + e.Reason
}

// Is lets errors.Is(err, ErrInvalidPlan) match.
func (e *InvalidPlanError) Is(target error) bool {
	return target == ErrInvalidPlan
}

func invalid(reason string) error {
	return &InvalidPlanError{Reason: reason}
}
