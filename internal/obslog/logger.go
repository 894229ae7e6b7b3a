// Package obslog builds the single process-wide zerolog.Logger used by
// every component, passed in by reference at construction rather than
// reached for as a package global.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the logger's level and output format.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
}

// New builds a zerolog.Logger per Options: JSON by default, a
// console-pretty writer when Format is "pretty".
func New(opts Options) zerolog.Logger {
	var out io.Writer = os.Stdout
	if opts.Format == "pretty" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(parseLevel(opts.Level))

	return zerolog.New(out).
		With().
		Timestamp().
		Str("service", "pubsubd").
		Logger()
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
