// Package logging wraps log/slog with correlation-id injection so every
// subsystem logs with the same tick/unit context without threading a
// logger type of its own through every call site.
package logging

import (
	"context"
	"log/slog"
)

type correlationKey struct{}

// Fields is the correlation payload attached to a context via WithFields.
type Fields struct {
	Tick int64
	Unit string
}

// WithFields returns a context carrying correlation fields for subsequent
// log calls made with a Logger obtained from New.
func WithFields(ctx context.Context, f Fields) context.Context {
	return context.WithValue(ctx, correlationKey{}, f)
}

func fieldsFrom(ctx context.Context) (Fields, bool) {
	f, ok := ctx.Value(correlationKey{}).(Fields)
	return f, ok
}

// Logger is the minimal correlated logging surface used across the runtime.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
	With(args ...any) Logger
}

type correlatedLogger struct{ base *slog.Logger }

// New returns a correlated Logger wrapping base (slog.Default() if nil).
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

func (l *correlatedLogger) attrsWithCorrelation(ctx context.Context, attrs []any) []any {
	if f, ok := fieldsFrom(ctx); ok {
		if f.Tick != 0 {
			attrs = append(attrs, slog.Int64("tick", f.Tick))
		}
		if f.Unit != "" {
			attrs = append(attrs, slog.String("unit", f.Unit))
		}
	}
	return attrs
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, l.attrsWithCorrelation(ctx, attrs)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, l.attrsWithCorrelation(ctx, attrs)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, l.attrsWithCorrelation(ctx, attrs)...)
}

func (l *correlatedLogger) With(args ...any) Logger {
	return &correlatedLogger{base: l.base.With(args...)}
}
