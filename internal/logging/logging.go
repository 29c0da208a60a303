// Package logging builds the zerolog.Logger shared by the engine, worker
// and facade layers, replacing the teacher's ad hoc vv() trace function
// with structured, leveled fields.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Options controls the logger construction. A zero Options gives a quiet
// info-level JSON logger to stderr, matching library-friendly defaults.
type Options struct {
	// Level is parsed with zerolog.ParseLevel; an invalid or empty string
	// falls back to zerolog.InfoLevel.
	Level string
	// Pretty renders a human console writer instead of JSON, for local
	// CLI use (the benchmark harness sets this from its --pretty flag).
	Pretty bool
	// Writer overrides the output sink; defaults to os.Stderr.
	Writer io.Writer
}

// New builds a *zerolog.Logger per opts. Safe to call with a zero Options.
func New(opts Options) *zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &l
}

// Nop returns a logger that discards everything. store.Open and the
// packages below it build their own equivalent zerolog.Nop() logger when
// none is supplied; they do not call this function.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
