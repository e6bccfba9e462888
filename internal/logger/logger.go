// Package logger builds the zerolog loggers used across helpbot.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/davidhoung2/helpbot/internal/config"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// New returns a root logger writing to out. Format "console" always uses the
// human-readable writer, "json" never does, and "auto" picks the console
// writer only when out is a terminal.
func New(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if useConsole(cfg.Format, out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component field.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Nop returns a disabled logger for tests and optional wiring.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// ParseLevel maps a config level string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func useConsole(format string, out io.Writer) bool {
	switch format {
	case "console":
		return true
	case "json":
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
