// Package logging builds the zerolog logger shared by the server and tools.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/ngoyal88/costrelay/pkg/config"
	"github.com/rs/zerolog"
)

// New returns a JSON logger on out, or a console logger when cfg.Pretty is
// set. A nil out writes to stdout. The level is applied process-wide so that
// Apply can change it later.
func New(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Apply(cfg)
	return zerolog.New(out).With().Timestamp().Str("service", "costrelay").Logger()
}

// ParseLevel falls back to info for empty or unknown names.
func ParseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Apply sets the process-wide minimum level, including for loggers already
// handed out.
func Apply(cfg config.LoggingConfig) {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
}
