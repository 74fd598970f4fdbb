// Package logger defines the structured logging interface used by the rs485
// connector and its tools.
//
// Messages carry key/value pairs. The default implementation is backed by
// log/slog and writes JSON, or colored console output when ENV=development.
package logger

// Level indicates the logging severity level.
type Level int8

const (
	// DebugLevel logs frame traffic and state transitions.
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs recoverable link problems.
	WarnLevel
	// ErrorLevel logs failures that need attention.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to InfoLevel
// and ok is false.
func ParseLevel(name string) (level Level, ok bool) {
	switch name {
	case "debug":
		return DebugLevel, true
	case "info", "":
		return InfoLevel, true
	case "warn", "warning":
		return WarnLevel, true
	case "error":
		return ErrorLevel, true
	case "fatal":
		return FatalLevel, true
	}
	return InfoLevel, false
}

// Logger is a leveled, structured logger.
type Logger interface {
	// Debug logs a message at DebugLevel.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel and then calls os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger carrying the given key/value pairs.
	With(keysAndValues ...any) Logger
	// Level returns the minimum enabled level.
	Level() Level
	// SetLevel sets the minimum enabled level.
	SetLevel(level Level)
}
