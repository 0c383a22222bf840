// Package correlation follows one delivery from the inbound webhook through the
// event bus to every dispatch it causes. The id travels in the context inside a
// process and in the event envelope between processes.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
)

// LogKey is the attribute name carrying the id on log records and spans.
const LogKey = "correlation_id"

// Header carries an upstream id into the HTTP server.
const Header = "X-Correlation-Id"

const idBytes = 6

type contextKey struct{}

// NewID returns a 12 character random hex id.
func NewID() string {
	b := make([]byte, idBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Continue attaches an id received from another process, or a fresh one when the
// sender had none.
func Continue(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewID()
	}
	return WithID(ctx, id)
}

func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Handler adds the context's id to every record it passes on.
type Handler struct {
	slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{Handler: inner}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String(LogKey, id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewHandler(h.Handler.WithAttrs(attrs))
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return NewHandler(h.Handler.WithGroup(name))
}
