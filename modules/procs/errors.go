package procs

import "errors"

var (
	// Launch errors
	ErrNoCommand      = errors.New("process command is empty")
	ErrAlreadyStarted = errors.New("process already started")
	ErrNotRunning     = errors.New("process is not running")

	// Wire errors
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrNotSubordinate     = errors.New("message channel not available: not started by a launcher")
)
