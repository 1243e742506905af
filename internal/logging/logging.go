// Package logging builds the zap logger shared by all components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nixlim/idle-reaper/internal/config"
)

// Options selects the logger outputs.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File, when set, receives JSON log lines in append mode. A leading ~ is
	// expanded to the home directory.
	File string
	// Console enables a JSON core writing to Writer (stderr when nil).
	Console bool
	Writer  io.Writer
}

// New returns a logger teeing the enabled outputs and a function that
// flushes and closes them. With no outputs enabled the logger discards
// everything.
func New(opts Options) (*zap.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	enc := zapcore.NewJSONEncoder(encoderConfig())
	var (
		cores []zapcore.Core
		file  *os.File
	)

	if opts.Console {
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(w), level))
	}

	if opts.File != "" {
		path := config.ExpandTilde(opts.File)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(file), level))
	}

	log := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	closeFn := func() error {
		_ = log.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return log, closeFn, nil
}

// ParseLevel maps a config level name to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
