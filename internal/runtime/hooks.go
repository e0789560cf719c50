package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	loggingpkg "github.com/drblury/kernelbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/kernelbus/internal/runtime/metadata"
)

// DeliveryContext describes one delivery to the hooks.
type DeliveryContext struct {
	MessageID     envelope.MessageID
	Sender        envelope.Address
	Recipient     envelope.Address
	InReplyTo     envelope.MessageID
	BodyKind      envelope.BodyKind
	CorrelationID string
	// Context is the delivery context handed to the listener.
	Context   context.Context
	StartedAt time.Time
	// Duration is only set for OnDeliveryDone and OnDeliveryError.
	Duration time.Duration
}

// DeliveryHooks defines callbacks around each listener invocation. Nil hooks
// are skipped.
type DeliveryHooks struct {
	OnDeliveryStart func(ctx DeliveryContext)
	OnDeliveryDone  func(ctx DeliveryContext)
	OnDeliveryError func(ctx DeliveryContext, err error)
}

func (h DeliveryHooks) empty() bool {
	return h.OnDeliveryStart == nil && h.OnDeliveryDone == nil && h.OnDeliveryError == nil
}

// Merge returns hooks that call h first and other second.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: chainHooks(h.OnDeliveryStart, other.OnDeliveryStart),
		OnDeliveryDone:  chainHooks(h.OnDeliveryDone, other.OnDeliveryDone),
		OnDeliveryError: chainErrorHooks(h.OnDeliveryError, other.OnDeliveryError),
	}
}

func chainHooks(a, b func(DeliveryContext)) func(DeliveryContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DeliveryContext, error)) func(DeliveryContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// DeliveryHooksMiddleware registers extra hooks as their own chain link, next
// to the hooks passed through PipelineDependencies.
func DeliveryHooksMiddleware(hooks DeliveryHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "delivery_hooks",
		Builder: func(*Pipeline) (message.HandlerMiddleware, error) {
			return deliveryHooksMiddleware(hooks), nil
		},
	}
}

func deliveryHooksMiddleware(hooks DeliveryHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			dctx := newDeliveryContext(msg)

			if hooks.OnDeliveryStart != nil {
				hooks.OnDeliveryStart(dctx)
			}

			msgs, err := h(msg)
			dctx.Duration = time.Since(dctx.StartedAt)

			if err != nil {
				if hooks.OnDeliveryError != nil {
					hooks.OnDeliveryError(dctx, err)
				}
			} else if hooks.OnDeliveryDone != nil {
				hooks.OnDeliveryDone(dctx)
			}
			return msgs, err
		}
	}
}

func newDeliveryContext(msg *message.Message) DeliveryContext {
	dctx := DeliveryContext{
		MessageID:     envelope.MessageID(msg.UUID),
		CorrelationID: msg.Metadata.Get(metadatapkg.KeyCorrelationID),
		Context:       msg.Context(),
		StartedAt:     time.Now(),
	}
	if env, ok := EnvelopeFromContext(msg.Context()); ok {
		dctx.MessageID = env.Header.ID()
		dctx.Sender = env.Header.Sender()
		dctx.Recipient = env.Header.Recipient()
		dctx.InReplyTo = env.Header.InReplyTo()
		dctx.BodyKind = env.Kind()
	}
	return dctx
}

// LoggingHooks returns hooks that log the delivery lifecycle.
func LoggingHooks(logger loggingpkg.ServiceLogger) DeliveryHooks {
	fields := func(ctx DeliveryContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"message_id": ctx.MessageID.String(),
			"sender":     ctx.Sender.Name(),
			"recipient":  ctx.Recipient.Name(),
			"body_kind":  string(ctx.BodyKind),
		}
	}
	return DeliveryHooks{
		OnDeliveryStart: func(ctx DeliveryContext) {
			logger.Debug("Delivery started", fields(ctx))
		},
		OnDeliveryDone: func(ctx DeliveryContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Delivery completed", f)
		},
		OnDeliveryError: func(ctx DeliveryContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Delivery errored", err, f)
		},
	}
}

// MetricsHooks returns hooks that report deliveries to plain callbacks.
func MetricsHooks(onStart, onDone, onError func(recipient string, kind envelope.BodyKind)) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: func(ctx DeliveryContext) {
			if onStart != nil {
				onStart(ctx.Recipient.Name(), ctx.BodyKind)
			}
		},
		OnDeliveryDone: func(ctx DeliveryContext) {
			if onDone != nil {
				onDone(ctx.Recipient.Name(), ctx.BodyKind)
			}
		},
		OnDeliveryError: func(ctx DeliveryContext, err error) {
			if onError != nil {
				onError(ctx.Recipient.Name(), ctx.BodyKind)
			}
		},
	}
}

// AlertingHooks returns hooks that call alertFunc for failed deliveries.
func AlertingHooks(alertFunc func(ctx DeliveryContext, err error)) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryError: alertFunc,
	}
}
