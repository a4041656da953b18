package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/natefinch/lumberjack"
)

var levels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

type Options struct {
	Level string
	// File enables a rotating JSON log next to the console output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	Console    io.Writer
}

func ParseLevel(s string) (log.Level, error) {
	lvl, ok := levels[strings.ToLower(s)]
	if !ok {
		return log.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// Setup builds the process logger and installs it as the slog default.
// The returned closer flushes the file sink, if any.
func Setup(opt Options) (*log.Logger, io.Closer, error) {
	lvl, err := ParseLevel(opt.Level)
	if err != nil {
		return nil, nil, err
	}

	console := opt.Console
	if console == nil {
		console = os.Stdout
	}

	handlers := []log.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		}),
	}

	var closer io.Closer = nopCloser{}
	if opt.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opt.File,
			MaxSize:    orDefault(opt.MaxSizeMB, 10),
			MaxBackups: orDefault(opt.MaxBackups, 3),
			Compress:   true,
		}
		handlers = append(handlers, log.NewJSONHandler(lj, &log.HandlerOptions{Level: lvl}))
		closer = lj
	}

	var h log.Handler = handlers[0]
	if len(handlers) > 1 {
		h = fanout(handlers)
	}

	logger := log.New(h)
	log.SetDefault(logger)
	return logger, closer, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends every record to each handler that accepts its level.
type fanout []log.Handler

func (f fanout) Enabled(ctx context.Context, l log.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r log.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []log.Attr) log.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) log.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
