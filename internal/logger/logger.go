// Package logger provides scoped loggers for the conference server.
//
// Scopes are filtered with the DEBUG environment variable using the
// same glob syntax as the mediasoup libraries, e.g. DEBUG="Room*,-Gateway".
package logger

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
)

var (
	baseLogger = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		color, _ := strconv.ParseBool(os.Getenv("DEBUG_COLORS"))
		w.NoColor = !color
		w.TimeFormat = "2006-01-02 15:04:05.999"
	})).With().Timestamp().Caller().Logger()

	baseLevel = zerolog.InfoLevel
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.999Z07:00"
	zerologr.VerbosityFieldName = ""
}

// New creates a logger for the given scope. The scope is matched
// against the comma separated patterns in DEBUG; matching scopes log
// at debug level, patterns prefixed with '-' exclude scopes again.
func New(scope string) logr.Logger {
	level := baseLevel

	if debugScopes(os.Getenv("DEBUG"), scope) {
		level = zerolog.DebugLevel
	}

	logger := baseLogger.Level(level)

	return zerologr.New(&logger).WithName(scope)
}

func debugScopes(debug, scope string) bool {
	enabled := false

	for _, part := range strings.Split(debug, ",") {
		part = strings.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		shouldMatch := true
		if part[0] == '-' {
			shouldMatch = false
			part = part[1:]
		}
		if g, err := glob.Compile(part); err == nil && g.Match(scope) {
			enabled = shouldMatch
		}
	}

	return enabled
}
