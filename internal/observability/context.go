package observability

import (
	"context"
	"log/slog"
)

// loggerContextKey is the private context key used to store a *slog.Logger.
type loggerContextKey struct{}

// correlationIDContextKey is the private context key used to store the
// correlation ID of the envelope being processed, so deeper layers and
// outbound calls can correlate with the originating event chain.
type correlationIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithCorrelationID stores a non-empty correlation ID in the context.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil || correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDContextKey{}, correlationID)
}

// CorrelationIDFromContext retrieves the correlation ID from the context, or
// an empty string when none is present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(correlationIDContextKey{}); v != nil {
		if cid, ok := v.(string); ok {
			return cid
		}
	}
	return ""
}

// CID8 returns the first eight characters of a correlation ID, the short
// form carried on every log line next to the full ID.
func CID8(correlationID string) string {
	if len(correlationID) <= 8 {
		return correlationID
	}
	return correlationID[:8]
}

// WithCorrelation returns lg extended with the correlation_id and cid8
// fields.
func WithCorrelation(lg *slog.Logger, correlationID string) *slog.Logger {
	if correlationID == "" {
		return lg
	}
	return lg.With(
		slog.String("correlation_id", correlationID),
		slog.String("cid8", CID8(correlationID)),
	)
}
