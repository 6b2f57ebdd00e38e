// Package obslog provides structured logging for the supervisor using
// zerolog: a global logger initialized once at startup, component-scoped
// child loggers, and stderr-tagged helpers for user-visible failures.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, set by Init.
var Logger zerolog.Logger

// Level is a supervisor log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
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
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// Module tags mirror Habitat's per-subsystem LOGKEY convention (the
// original Rust supervisor tags manager log lines "MR"); each subsystem
// here stamps its own user-visible stderr lines with its own tag rather
// than all sharing the manager's.
const (
	ModuleManager   = "MR"
	ModuleService   = "SC"
	ModuleGossip    = "GS"
	ModuleSpecStore = "SS"
	ModuleCLI       = "CL"
)

// WithComponent returns a child logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithService returns a child logger tagged with a service name.
func WithService(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("service", name).Logger()
}

// WithGroup returns a child logger tagged with a service group.
func WithGroup(logger zerolog.Logger, group string) zerolog.Logger {
	return logger.With().Str("group", group).Logger()
}
