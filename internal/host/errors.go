package host

import "errors"

var (
	// ErrSessionActive is returned when a session is already running.
	ErrSessionActive = errors.New("session already active")
	// ErrNoSession is returned by controls when no session exists.
	ErrNoSession = errors.New("no active session")
	// ErrSessionCompleted is returned by controls after natural completion,
	// until the session is stopped.
	ErrSessionCompleted = errors.New("session completed")
	// ErrStartPending tells the caller its start intent was queued until the
	// host connects.
	ErrStartPending = errors.New("start queued until host connects")
)
