// Package logging configures the global zerolog logger for a run.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps debug, info, warn and error to a zerolog level. Anything
// else is info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init configures the global logger: human readable output on stderr and,
// when logDir is set, JSON lines in <logDir>/run_<runID>.log. It returns the
// log file path (empty without logDir) and a function closing the file.
// A log file that cannot be created is reported on stderr and skipped.
func Init(level, logDir, runID string) (string, func() error) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	noop := func() error { return nil }
	if logDir == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return "", noop
	}

	file, path, err := openLogFile(logDir, runID)
	if err != nil {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		log.Warn().Err(err).Msg("File logging disabled")
		return "", noop
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()
	return path, file.Close
}

func openLogFile(logDir, runID string) (io.WriteCloser, string, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(logDir, fmt.Sprintf("run_%s.log", runID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file: %w", err)
	}
	return file, path, nil
}
