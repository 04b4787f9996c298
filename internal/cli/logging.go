// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bodaay/katago-weights/pkg/kataweights"
)

// newLogger builds the diagnostics logger. Records go to stderr with
// --verbose and to --log-file when set; otherwise they are discarded.
func newLogger(ro *RootOpts, stderr io.Writer) (*slog.Logger, func(), error) {
	level, err := parseLevel(ro.LogLevel)
	if err != nil {
		return nil, func() {}, err
	}
	if ro.Verbose {
		level = slog.LevelDebug
	}

	var writers []io.Writer
	closeFn := func() {}

	if ro.Verbose {
		writers = append(writers, stderr)
	}
	if ro.LogFile != "" {
		f, err := os.OpenFile(ro.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, closeFn, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = func() { _ = f.Close() }
	}
	if len(writers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFn, nil
	}

	h := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: level})
	return slog.New(h), closeFn, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q (want debug, info, warn or error)", s)
}

// logProgress records pipeline events. Progress ticks are logged at debug.
func logProgress(logger *slog.Logger) kataweights.ProgressFunc {
	return func(ev kataweights.ProgressEvent) {
		level := slog.LevelInfo
		switch {
		case ev.Event == "file_progress":
			level = slog.LevelDebug
		case ev.Level == "warn" || ev.Event == "warn":
			level = slog.LevelWarn
		case ev.Level == "error" || ev.Event == "error":
			level = slog.LevelError
		}

		attrs := []any{slog.String("event", ev.Event)}
		if ev.URL != "" {
			attrs = append(attrs, slog.String("url", ev.URL))
		}
		if ev.Path != "" {
			attrs = append(attrs, slog.String("path", ev.Path))
		}
		if ev.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", ev.Attempt))
		}
		if ev.Downloaded > 0 || ev.Total > 0 {
			attrs = append(attrs, slog.Int64("downloaded", ev.Downloaded), slog.Int64("total", ev.Total))
		}
		logger.Log(context.Background(), level, ev.Message, attrs...)
	}
}
