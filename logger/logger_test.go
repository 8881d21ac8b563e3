package logger

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestSetLoggerLogLevel(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		logLevel string
		expected string
	}{
		{logLevel: "info", expected: "info"},
		{logLevel: "warn", expected: "warn"},
		{logLevel: "debug", expected: "debug"},
		{logLevel: "error", expected: "error"},
		{logLevel: "fatal", expected: "fatal"},
		{logLevel: "trace", expected: "trace"},
		{logLevel: "panic", expected: "panic"},
		{logLevel: "plop", expected: "info"},
	}

	for _, tc := range tests {
		os.Setenv("KATLA_RAFT_LOG_LEVEL", tc.logLevel)
		log.Logger = *NewLogger("raft")
		assert.Equal(tc.expected, zerolog.GlobalLevel().String())
		os.Unsetenv("KATLA_RAFT_LOG_LEVEL")

		os.Setenv("KATLA_RAFT_LOG_LEVEL", tc.logLevel)
		os.Setenv("KATLA_RAFT_LOG_FORMAT_JSON", "true")
		log.Logger = *NewLogger("raft")
		assert.Equal(tc.expected, zerolog.GlobalLevel().String())
		os.Unsetenv("KATLA_RAFT_LOG_LEVEL")
		os.Unsetenv("KATLA_RAFT_LOG_FORMAT_JSON")
	}
}

func TestLoggerInfo(t *testing.T) {
	log.Logger = *NewLogger("raft")
	log.Info().Msg("testing logger")
}
