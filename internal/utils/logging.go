// Package utils holds small helpers shared across opgate packages.
package utils

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// LoggerOptions configures InitLogger.
type LoggerOptions struct {
	Level           string
	Output          io.Writer
	Prefix          string
	ReportTimestamp bool
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = log.Default()
)

// InitLogger builds a structured logger. Output defaults to stderr so log
// lines never mix with command output on stdout.
func InitLogger(opts LoggerOptions) *log.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return log.NewWithOptions(out, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.ReportTimestamp,
	})
}

// InitDefaultLogger builds the process logger, honouring OPGATE_LOG_LEVEL,
// and installs it as the default.
func InitDefaultLogger() *log.Logger {
	level := os.Getenv("OPGATE_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger := InitLogger(LoggerOptions{Level: level, Prefix: "opgate"})
	SetDefaultLogger(logger)
	return logger
}

// GetDefaultLogger returns the process logger.
func GetDefaultLogger() *log.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process logger.
func SetDefaultLogger(l *log.Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}
