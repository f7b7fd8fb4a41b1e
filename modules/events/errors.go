package events

import (
	"errors"
	"fmt"
)

var (
	// Registration errors
	ErrCommandHandlerExists = errors.New("command handler already registered")
	ErrHandlerNil           = errors.New("handler cannot be nil")

	// Request errors
	ErrNoHandler = errors.New("no handler registered for command")
	ErrBusClosed = errors.New("event bus closed")
)

// NoHandlerError is returned by Request and Call when nothing handles the
// named command. It matches ErrNoHandler with errors.Is.
type NoHandlerError struct {
	Command string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNoHandler, e.Command)
}

// Is reports whether target is ErrNoHandler.
func (e *NoHandlerError) Is(target error) bool {
	return target == ErrNoHandler
}
