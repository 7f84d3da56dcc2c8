package lib

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultLogger(t *testing.T) {
	// execute the function call
	got := NewDefaultLogger().(*Logger)
	// compare got vs expected
	require.Equal(t, DebugLevel, got.config.Level)
	require.Equal(t, os.Stdout, got.config.Out)
}

func TestNewNullLogger(t *testing.T) {
	// execute the function call
	got := NewNullLogger().(*Logger)
	// compare got vs expected
	require.Equal(t, io.Discard, got.config.Out)
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		level    int32
		log      func(l LoggerI)
		expected string
	}{
		{
			name:     "info at info",
			detail:   "an info line is written when the level is info",
			level:    InfoLevel,
			log:      func(l LoggerI) { l.Info("arg1 arg2") },
			expected: "INFO: arg1 arg2",
		},
		{
			name:     "debug at info",
			detail:   "a debug line is filtered when the level is info",
			level:    InfoLevel,
			log:      func(l LoggerI) { l.Debug("arg1 arg2") },
			expected: "",
		},
		{
			name:     "warnf at debug",
			detail:   "formatted warnings are written when the level is debug",
			level:    DebugLevel,
			log:      func(l LoggerI) { l.Warnf("%s %s", "arg1", "arg2") },
			expected: "WARN: arg1 arg2",
		},
		{
			name:     "error at error",
			detail:   "an error line is written when the level is error",
			level:    ErrorLevel,
			log:      func(l LoggerI) { l.Errorf("%d", 7) },
			expected: "ERROR: 7",
		},
		{
			name:     "warn at error",
			detail:   "a warning is filtered when the level is error",
			level:    ErrorLevel,
			log:      func(l LoggerI) { l.Warn("arg1") },
			expected: "",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			logger := NewLogger(LoggerConfig{Level: test.level, Out: buf})
			test.log(logger)
			if test.expected == "" {
				require.Empty(t, buf.String())
				return
			}
			require.Contains(t, buf.String(), test.expected)
		})
	}
}

func TestLoggerNamed(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	logger := NewLogger(LoggerConfig{Level: DebugLevel, Out: buf})
	// named children nest their module names
	logger.Named("bft").Named("votes").Info("quorum")
	got := buf.String()
	require.Contains(t, got, "[bft.votes]")
	require.Contains(t, got, "quorum")
	// the parent is unaffected
	buf.Reset()
	logger.Info("plain")
	require.NotContains(t, buf.String(), "[bft")
}
