package logging

import (
	"context"
	"log/slog"
)

// fanout duplicates every record to a set of handlers. A handler error stops
// the fan-out so logging failures are not silently ignored.
type fanout struct {
	handlers []slog.Handler
}

// NewFanout combines several handlers into one.
func NewFanout(handlers ...slog.Handler) slog.Handler {
	return &fanout{handlers: handlers}
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: next}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanout{handlers: next}
}

// minLevel drops records below a threshold before they reach the wrapped
// handler. Used to keep the error log file free of routine records.
type minLevel struct {
	handler slog.Handler
	min     slog.Level
}

// NewMinLevel wraps handler so it only sees records at or above min.
func NewMinLevel(handler slog.Handler, min slog.Level) slog.Handler {
	return &minLevel{handler: handler, min: min}
}

func (m *minLevel) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= m.min && m.handler.Enabled(ctx, level)
}

func (m *minLevel) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < m.min {
		return nil
	}
	return m.handler.Handle(ctx, r)
}

func (m *minLevel) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevel{handler: m.handler.WithAttrs(attrs), min: m.min}
}

func (m *minLevel) WithGroup(name string) slog.Handler {
	return &minLevel{handler: m.handler.WithGroup(name), min: m.min}
}
