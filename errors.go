package dappkit

import (
	"errors"
)

// Application errors
var (
	// Configuration errors
	ErrConfigSectionNotFound = errors.New("config section not found")
	ErrConfigFeederError     = errors.New("config feeder error")
	ErrConfigSetupError      = errors.New("config setup error")
	ErrConfigNilPointer      = errors.New("config is nil pointer")

	// Service registry errors
	ErrServiceAlreadyRegistered = errors.New("service already registered")
	ErrServiceNotFound          = errors.New("service not found")
	ErrTargetNotPointer         = errors.New("target must be a non-nil pointer")
	ErrServiceIncompatible      = errors.New("service cannot be assigned to target")

	// Module errors
	ErrCircularDependency      = errors.New("circular dependency detected")
	ErrModuleDependencyMissing = errors.New("module depends on non-existent module")

	// Environment errors
	ErrAnchorNotSet = errors.New("anchored environment value not set")
)
