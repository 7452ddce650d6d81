package link

import "errors"

var (
	// ErrTransportUnavailable means the sync channel cannot currently send
	// or receive. Followers recover from it locally.
	ErrTransportUnavailable = errors.New("sync transport unavailable")

	// ErrMalformedMessage is returned by Decode for frames that do not
	// describe a valid message.
	ErrMalformedMessage = errors.New("malformed sync message")
)
