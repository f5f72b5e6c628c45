package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log = zerolog.New(io.Discard)

// Level represents the logging level
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Format selects the log encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// toLevelValue converts a Level string to zerolog.Level
func toLevelValue(level Level) zerolog.Level {
	switch strings.ToUpper(string(level)) {
	case string(LevelDebug):
		return zerolog.DebugLevel
	case string(LevelInfo):
		return zerolog.InfoLevel
	case string(LevelWarning), "WARN":
		return zerolog.WarnLevel
	case string(LevelCritical), "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global logger writing to stdout.
func Init(level Level, format Format) {
	InitWithWriter(level, format, os.Stdout)
}

// InitWithWriter initializes the logger with a custom writer (useful for testing)
func InitWithWriter(level Level, format Format, w io.Writer) {
	zLevel := toLevelValue(level)
	zerolog.SetGlobalLevel(zLevel)

	out := w
	if !strings.EqualFold(string(format), string(FormatJSON)) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log = zerolog.New(out).Level(zLevel).With().Timestamp().Logger()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return log.Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error logs an error message (CRITICAL level)
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With creates a child logger with additional fields
func With() zerolog.Context {
	return log.With()
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
