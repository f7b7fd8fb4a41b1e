package blockchain

import "errors"

var (
	// Supervisor errors
	ErrAlreadyRunning = errors.New("blockchain node already running")
	ErrStopTimeout    = errors.New("blockchain node did not stop in time")

	// Node process errors
	ErrNoClient        = errors.New("blockchain client command not configured")
	ErrNodeInitMissing = errors.New("node process stream ended before init")
)
