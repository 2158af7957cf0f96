package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns the live attributes added to every record, such as
// the current page and marker count of the session.
type ContextProvider func() []slog.Attr

// ContextHandler wraps another handler and injects provider attributes.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// NewContextHandler creates a handler that adds provider attributes to each record.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{
		inner:    inner,
		provider: provider,
	}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds the provider attributes the record does not already carry and
// delegates to the inner handler. A record logging its own page keeps it.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(missingAttrs(r, h.provider())...)
	}
	return h.inner.Handle(ctx, r)
}

func missingAttrs(r slog.Record, attrs []slog.Attr) []slog.Attr {
	if r.NumAttrs() == 0 {
		return attrs
	}
	seen := make(map[string]bool, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		seen[a.Key] = true
		return true
	})
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if !seen[a.Key] {
			out = append(out, a)
		}
	}
	return out
}

// WithAttrs returns a new ContextHandler with the given attributes.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{
		inner:    h.inner.WithAttrs(attrs),
		provider: h.provider,
	}
}

// WithGroup returns a new ContextHandler with the given group.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{
		inner:    h.inner.WithGroup(name),
		provider: h.provider,
	}
}
