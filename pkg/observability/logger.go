package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Attribute keys added by [TracingHandler].
const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrService = "service"
	attrEnv     = "env"
	attrRank    = "rank"
	attrEpoch   = "epoch"
)

type epochKey struct{}

// ContextWithEpoch tags ctx with the training epoch in progress. Records
// logged with the returned context carry an "epoch" attribute.
func ContextWithEpoch(ctx context.Context, epoch int) context.Context {
	return context.WithValue(ctx, epochKey{}, epoch)
}

// EpochFromContext returns the epoch set by [ContextWithEpoch].
func EpochFromContext(ctx context.Context) (int, bool) {
	epoch, ok := ctx.Value(epochKey{}).(int)

	return epoch, ok
}

// TracingHandler is an [slog.Handler] that stamps every record with the
// process identity (service, rank, env) and, when present in the context,
// the active span and the training epoch.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps inner. The identity attributes are attached before
// any group so they stay at the top level.
func NewTracingHandler(inner slog.Handler, service, env string, rank int) *TracingHandler {
	identity := []slog.Attr{
		slog.String(attrService, service),
		slog.Int(attrRank, rank),
	}

	if env != "" {
		identity = append(identity, slog.String(attrEnv, env))
	}

	return &TracingHandler{inner: inner.WithAttrs(identity)}
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle adds context attributes and delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(contextAttrs(ctx, record)...)

	err := th.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs implements [slog.Handler].
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: th.inner.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler].
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: th.inner.WithGroup(name)}
}

func contextAttrs(ctx context.Context, record slog.Record) []slog.Attr {
	var attrs []slog.Attr

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	if epoch, ok := EpochFromContext(ctx); ok && !hasAttr(record, attrEpoch) {
		attrs = append(attrs, slog.Int(attrEpoch, epoch))
	}

	return attrs
}

func hasAttr(record slog.Record, key string) bool {
	found := false

	record.Attrs(func(attr slog.Attr) bool {
		found = attr.Key == key

		return !found
	})

	return found
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
