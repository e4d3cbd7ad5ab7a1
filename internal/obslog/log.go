// Package obslog provides the structured logger shared by every moo
// component, wrapping zerolog the same way the rest of the ambient stack
// does.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init replaces it; until Init is
// called it writes human-readable output to stderr at zerolog's default
// global level (debug).
var Logger zerolog.Logger

// Level is a named log level independent of zerolog's own type, so
// callers (config, CLI flags) don't need to import zerolog directly.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls logger construction.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Init (re)configures the process-wide logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the component name,
// e.g. "relbox", "vm", "scheduler".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTxID returns a child logger tagged with a transaction id.
func WithTxID(component string, txID uint64) zerolog.Logger {
	return Logger.With().Str("component", component).Uint64("tx_id", txID).Logger()
}

// WithTaskID returns a child logger tagged with a task id.
func WithTaskID(component, taskID string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("task_id", taskID).Logger()
}
