package dappkit

// Logger defines the interface for application logging.
// dappkit uses structured logging with key-value pairs so that the
// orchestrator, the build pipeline and the process supervisors all produce
// consistent, parseable output.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// *slog.Logger from the standard library satisfies this interface as-is,
// which is what the dappkit command uses.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal lifecycle events like node startup or a finished build.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	//
	// Example:
	//   logger.Error("Failed to write contract artifact", "contract", "Token", "error", err)
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Used for detailed diagnostic information, typically disabled.
	Debug(msg string, args ...any)
}

// nopLogger discards everything. It backs components constructed without a logger.
type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NopLogger returns a Logger that discards all output.
func NopLogger() Logger {
	return nopLogger{}
}
