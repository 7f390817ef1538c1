// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup builds the root slog logger and installs it as the default.
// When logDir is non-empty, JSON logs are additionally written to a
// rotating file under it.
func Setup(logDir string) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "phbgateway.log"),
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		})
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger, nil
}
