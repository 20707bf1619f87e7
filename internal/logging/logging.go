// Package logging configures the process-wide zerolog logger and hands out
// component-scoped sub-loggers.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var root = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Config holds logger configuration.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // human-readable console output
}

// Setup replaces the process logger according to cfg. Unknown levels fall
// back to info.
func Setup(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	root = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// For returns a sub-logger tagged with the component name.
func For(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}
