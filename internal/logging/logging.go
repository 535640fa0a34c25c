// Package logging builds the process logger: logrus to the console, optionally teed to a
// rotated log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eddiefleurent/nifty_condor/internal/config"
)

// New creates a logger from the environment section. The returned closer releases the log
// file and is never nil.
func New(cfg config.EnvironmentConfig, console io.Writer) (*logrus.Logger, io.Closer, error) {
	if console == nil {
		console = os.Stdout
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatter(cfg.LogFormat))

	var closer io.Closer = nopCloser{}
	writer := console
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating log dir: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		writer = io.MultiWriter(console, file)
		closer = file
	}
	logger.SetOutput(writer)

	return logger, closer, nil
}

func parseLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

func formatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	}
	return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
