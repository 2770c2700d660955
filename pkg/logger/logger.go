// Package logger builds the process-wide zerolog instance shared by Core,
// Sentinels and Strikers. Every line carries a `process` field naming which
// of the three binaries emitted it; components then attach their own
// `service`/`repository`/`handler` fields when they derive child loggers.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the output shape of the process logger
type Options struct {
	// Process tags every line: core, sentinel, or striker
	Process string
	// Level is a zerolog level name; "warning" is accepted as warn.
	// Unknown names fall back to info.
	Level string
	// Pretty switches to human-readable console output for dev runs
	Pretty bool
}

// New builds the root logger for a process. The level is scoped to the
// returned logger rather than set globally, so tests and embedded tooling
// can run at their own verbosity.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	name := strings.ToLower(strings.TrimSpace(opts.Level))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	root := zerolog.New(out).Level(level).With().Timestamp()
	if opts.Process != "" {
		root = root.Str("process", opts.Process)
	}
	return root.Logger()
}

// ReplaceGlobal installs l as zerolog's package-level logger so stray
// log.Info() calls in dependencies land in the same stream.
func ReplaceGlobal(l zerolog.Logger) {
	log.Logger = l
}
