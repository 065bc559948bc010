// Package logging builds the process logger: a timestamped debug log file under
// the log directory with a latest.log symlink next to it, plus an optional tint
// console handler.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
)

const latestName = "latest.log"

type Options struct {
	Dir     string
	Level   log.Level
	Console bool
	Stdout  io.Writer
}

// Setup returns the logger and a closer for the log file. With an empty Dir no
// file is written; with neither a file nor a console the logger discards.
func Setup(opt Options, now time.Time) (*log.Logger, io.Closer, error) {
	var handlers []log.Handler
	closer := io.Closer(nopCloser{})

	if opt.Dir != "" {
		f, err := openLogFile(opt.Dir, now)
		if err != nil {
			return nil, nil, err
		}
		closer = f
		handlers = append(handlers, log.NewTextHandler(f, &log.HandlerOptions{Level: log.LevelDebug}))
	}

	if opt.Console {
		out := opt.Stdout
		if out == nil {
			out = os.Stdout
		}
		handlers = append(handlers, tint.NewHandler(out, &tint.Options{
			Level:      opt.Level,
			TimeFormat: time.TimeOnly,
		}))
	}

	switch len(handlers) {
	case 0:
		return log.New(log.NewTextHandler(io.Discard, nil)), closer, nil
	case 1:
		return log.New(handlers[0]), closer, nil
	}
	return log.New(tee(handlers)), closer, nil
}

// FileName is the per-run log file name for the given start time.
func FileName(now time.Time) string {
	return fmt.Sprintf("pipeline_%s.log", now.Format("20060102_150405"))
}

func openLogFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	name := FileName(now)
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	latest := filepath.Join(dir, latestName)
	if err := os.Remove(latest); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.Close()
		return nil, fmt.Errorf("remove %s: %w", latestName, err)
	}
	if err := os.Symlink(name, latest); err != nil {
		f.Close()
		return nil, fmt.Errorf("link %s: %w", latestName, err)
	}

	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// tee fans a record out to every handler that accepts its level.
type tee []log.Handler

func (t tee) Enabled(ctx context.Context, level log.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, r log.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) WithAttrs(attrs []log.Attr) log.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t tee) WithGroup(name string) log.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
