package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is one of zerolog's level strings (debug, info, warn, error).
	Level string

	// JSON switches structured JSON output on; off means the human console writer.
	JSON bool

	// Output defaults to stdout.
	Output io.Writer
}

// New builds the root logger. Components derive their own child loggers from
// it with WithComponent.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSON {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// WithComponent creates a child logger with a component field.
func WithComponent(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
