package pipeline

import "errors"

var (
	// Configuration errors
	ErrBadBundlerConfig     = errors.New("bad bundler config")
	ErrBundlerNotConfigured = errors.New("bundler command not configured")
	ErrUnknownConfigFormat  = errors.New("unknown bundler config format")

	// Subprocess errors
	ErrBundlerExited = errors.New("bundler exited before the build finished")
	ErrBundlerFailed = errors.New("bundler reported an error")

	// Collaborator errors
	ErrUnexpectedReply  = errors.New("unexpected reply")
	ErrInvalidBuildArgs = errors.New("invalid build arguments")
	ErrInvalidClassName = errors.New("invalid contract class name")
)
