package log

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "060102 15:04:05.000"

func newConsoleHandler(w io.Writer, level slog.Leveler) slog.Handler {
	noColor := true
	if w == nil {
		w = os.Stderr
		noColor = !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())
	}

	return tint.NewHandler(w, &tint.Options{
		AddSource:  true,
		Level:      level,
		TimeFormat: timeFormat,
		NoColor:    noColor,
	})
}

func newFileHandler(opts Options, level slog.Leveler) (slog.Handler, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
		return nil, nil, err
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}

	// Rotation is handled by lumberjack, the file is opened on first write.
	writer := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     maxAge,
		LocalTime:  true,
	}

	handlerOpts := &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	switch opts.Format {
	case FormatJSON:
		return slog.NewJSONHandler(writer, handlerOpts), writer, nil
	case FormatText, "":
		return slog.NewTextHandler(writer, handlerOpts), writer, nil
	default:
		_ = writer.Close()
		return nil, nil, errors.New("unknown log format " + string(opts.Format))
	}
}

// multiHandler sends every record to all of its handlers.
type multiHandler []slog.Handler

func (mh multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range mh {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (mh multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range mh {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (mh multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(multiHandler, len(mh))
	for i, h := range mh {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (mh multiHandler) WithGroup(name string) slog.Handler {
	next := make(multiHandler, len(mh))
	for i, h := range mh {
		next[i] = h.WithGroup(name)
	}
	return next
}
