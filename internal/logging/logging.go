// Package logging holds the process-wide zerolog logger shared by every
// coderelay component. The serve command calls Init once after flag
// parsing; everything else logs through the package-level constructors
// so call sites stay a single chained line.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Level aliases zerolog's level type so callers can configure logging
// without importing zerolog themselves.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config controls the shared logger.
type Config struct {
	// Level is the minimum severity that gets written.
	Level Level
	// Output receives log lines. Defaults to os.Stderr.
	Output io.Writer
	// Pretty switches from JSON lines to human-readable console output.
	Pretty bool
}

// DefaultConfig is info-level JSON to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  InfoLevel,
		Output: os.Stderr,
	}
}

var logger zerolog.Logger

func init() {
	Init(DefaultConfig())
}

// Init replaces the shared logger. It may be called again later, for
// example when flag parsing raises the level chosen at startup.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}
	logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a Level, case-insensitively.
// Unrecognized names fall back to InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Debug starts a debug-level event on the shared logger.
func Debug() *zerolog.Event {
	return logger.Debug()
}

// Info starts an info-level event on the shared logger.
func Info() *zerolog.Event {
	return logger.Info()
}

// Warn starts a warn-level event on the shared logger.
func Warn() *zerolog.Event {
	return logger.Warn()
}

// Error starts an error-level event on the shared logger.
func Error() *zerolog.Event {
	return logger.Error()
}

// Fatal starts a fatal-level event. Completing the event with Msg or
// Send exits the process.
func Fatal() *zerolog.Event {
	return logger.Fatal()
}
