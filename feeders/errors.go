package feeders

import (
	"errors"
	"fmt"
)

// File feeder errors
var (
	ErrFeederPathEmpty = errors.New("feeder path is empty")
	ErrFeederReadFile  = errors.New("cannot read config file")
)

// Env feeder errors
var (
	ErrEnvInvalidStructure = errors.New("env: invalid structure")
	ErrEnvUnsupportedType  = errors.New("env: unsupported field type")
	ErrEnvInvalidValue     = errors.New("env: invalid value")
	ErrEnvFieldCannotBeSet = errors.New("env: field cannot be set")
)

func wrapReadError(fileType, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrFeederReadFile, fileType, path, err)
}

func wrapEnvTypeError(envName string, fieldType fmt.Stringer) error {
	return fmt.Errorf("%w: %s (%s)", ErrEnvUnsupportedType, envName, fieldType)
}
