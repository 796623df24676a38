package eventing

import "context"

type contextKey string

const (
	contextKeyEnvelope contextKey = "eventing.envelope"
	contextKeyCorr     contextKey = "eventing.correlation_id"
)

// WithEnvelope attaches envelope metadata to context.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, contextKeyEnvelope, env)
}

// EnvelopeFromContext returns envelope metadata if available.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	if ctx == nil {
		return Envelope{}, false
	}
	env, ok := ctx.Value(contextKeyEnvelope).(Envelope)
	return env, ok
}

// WithCorrelationID sets the correlation id propagated to emitted events.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, contextKeyCorr, correlationID)
}

// CorrelationIDFromContext returns the correlation id, falling back to the
// id of the envelope being handled.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if corr, ok := ctx.Value(contextKeyCorr).(string); ok && corr != "" {
		return corr
	}
	if env, ok := EnvelopeFromContext(ctx); ok {
		return env.CorrelationID
	}
	return ""
}

// MetaFromContext builds envelope metadata from context.
func MetaFromContext(ctx context.Context) Meta {
	return Meta{CorrelationID: CorrelationIDFromContext(ctx)}
}
