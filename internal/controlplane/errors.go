package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnknownAction   = errors.New("unknown session action")
	ErrHostUnavailable = errors.New("execution host not connected")
)
