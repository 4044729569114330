package fedicrawl

import (
	"io"
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the process-wide default logger with a TextHandler
// writing to w, and configures the log level based on the FEDICRAWL_LOG_LEVEL
// environment variable. It defaults to Info level if not specified.
//
// Call this once at process startup. Passing a nil writer defaults to os.Stdout.
func ConfigureLogging(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}

	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("FEDICRAWL_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel overrides the level set by ConfigureLogging, e.g. for tests.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
