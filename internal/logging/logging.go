// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs a text handler on stderr as the default logger,
// with the level taken from LLM_COUNCIL_LOG_LEVEL (DEBUG, INFO, WARN or
// ERROR). It defaults to Info. Stdout is left alone because the CLI prints
// answers there and the MCP server speaks its protocol over it.
func ConfigureLogging() *slog.Logger {
	return ConfigureLoggingTo(os.Stderr, os.Getenv("LLM_COUNCIL_LOG_LEVEL"))
}

// ConfigureLoggingTo is ConfigureLogging with an explicit writer and level.
func ConfigureLoggingTo(w io.Writer, level string) *slog.Logger {
	logLevel.Set(ParseLevel(level))
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// SetLogLevel changes the level of the configured logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// ParseLevel maps a level name to a slog level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
