package runtime

import (
	"context"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
)

type envelopeKey struct{}

func withEnvelope(ctx context.Context, env envelope.Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFromContext returns the envelope being delivered, if ctx belongs to
// a delivery.
func EnvelopeFromContext(ctx context.Context) (envelope.Envelope, bool) {
	if ctx == nil {
		return envelope.Envelope{}, false
	}
	env, ok := ctx.Value(envelopeKey{}).(envelope.Envelope)
	return env, ok
}
