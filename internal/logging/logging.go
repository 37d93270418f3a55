// Package logging configures the process-wide zerolog logger: a global
// level parsed from a level string and a color-if-terminal console writer
// for interactive use, with JSON kept available for production log
// shipping.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Configure sets zerolog's global level from level (falling back to
// "info" on empty or unrecognized input) and returns a logger writing
// to stderr: a colorized console writer when stderr is a terminal, or
// raw JSON otherwise.
func Configure(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(parseLevel(level))

	var w = os.Stderr
	if isatty.IsTerminal(w.Fd()) {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
		return zerolog.New(cw).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
