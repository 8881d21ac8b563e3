package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger instantiates the zerolog configuration shared by every raft
// server instance, tagged with a "component" field so log lines from the
// consensus core are distinguishable from the graph-storage and supervisor
// components sharing the same process. Level and format are read once from
// the environment; callers that need per-instance overrides should call
// this once at construction time and store the returned pointer, never a
// package-level global.
func NewLogger(component string) *zerolog.Logger {
	var logger zerolog.Logger
	switch strings.TrimSpace(os.Getenv("KATLA_RAFT_LOG_LEVEL")) {
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if component == "" {
		component = "raft"
	}

	if strings.TrimSpace(os.Getenv("KATLA_RAFT_LOG_FORMAT_JSON")) == "" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true, TimeFormat: time.RFC3339}
		output.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %s |", i))
		}
		output.FormatMessage = func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		}
		logger = zerolog.New(output).With().Timestamp().Caller().Str("component", component).Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Str("component", component).Logger()
	}
	return &logger
}
