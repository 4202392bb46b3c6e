// Package logger builds the root zerolog logger the pipeline hangs its
// component loggers off. Every package derives its own logger with a
// component field; this package only decides level, format, and the
// service-wide fields stamped on every line.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "tickerbrief"

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error; anything else falls back to info
	Pretty bool   // Console output for dev mode; JSON otherwise
}

// New creates the root structured logger.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}
