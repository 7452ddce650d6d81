package follower

import "errors"

var (
	// ErrNoCachedPlan is returned by EnterStandalone when there is nothing
	// to run.
	ErrNoCachedPlan = errors.New("no cached plan")
	// ErrNotStandalone is returned by local controls outside standalone mode.
	ErrNotStandalone = errors.New("follower is not standalone")
)
