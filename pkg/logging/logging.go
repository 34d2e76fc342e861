// Package logging configures structured logging for the relay server and client.
//
// Both binaries use Go's standard log/slog. Output goes to stdout and, when a
// log file is configured, also to a size-rotated file.
//
// Usage:
//
//	closer, err := logging.Setup(logging.Options{Level: "debug", File: "relay.log"})
//	defer closer.Close()
//	slog.Info("listening", "addr", addr)
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultMaxSizeMB = 100

// Options controls how logging is configured.
type Options struct {
	Level  string    // "debug", "info", "warn", "error" (default: "info")
	Format string    // "text" or "json" (default: "text")
	Output io.Writer // console output (default: os.Stdout)

	File       string // optional log file, rotated by size
	MaxSizeMB  int    // rotate after this many megabytes (default: 100)
	MaxBackups int    // rotated files to keep (0 keeps all)
	MaxAgeDays int    // days to keep rotated files (0 keeps all)
}

// ParseLevel converts a string level name to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from opts. The returned closer releases the log file,
// if any, and must be called on shutdown.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	if err := Validate(opts.Level); err != nil {
		return nil, nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotator, err := newRotator(opts)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(out, rotator)
		closer = rotator
	}

	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler), closer, nil
}

// Setup builds a logger with New and installs it as the slog default.
func Setup(opts Options) (io.Closer, error) {
	logger, closer, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

func newRotator(opts Options) (*lumberjack.Logger, error) {
	if st, err := os.Stat(opts.File); err == nil && st.IsDir() {
		return nil, errors.New("logging: can't use directory as log file name")
	}
	if dir := filepath.Dir(opts.File); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		LocalTime:  true,
	}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// LevelNames returns all valid level names, useful for --help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// Validate returns an error if the level string is not recognized.
func Validate(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", "":
		return nil
	default:
		return fmt.Errorf("unknown log level %q (valid: %s)", level, LevelNames())
	}
}
