package loop

import "errors"

// ErrStopped is returned when a command is issued to a runner that is not running.
var ErrStopped = errors.New("tick loop not running")
