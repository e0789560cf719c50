package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	idspkg "github.com/drblury/kernelbus/internal/runtime/ids"
	loggingpkg "github.com/drblury/kernelbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/kernelbus/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a delivery middleware for the given pipeline.
// Returning a nil middleware skips the registration.
type MiddlewareBuilder func(*Pipeline) (message.HandlerMiddleware, error)

// MiddlewareRegistration describes one link of the delivery chain.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 50 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = errspkg.IsRetryable
	}
	return cfg
}

// DefaultMiddlewares returns the standard delivery chain, outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogDeliveriesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		StatsMiddleware(),
		HooksMiddleware(),
		TimeoutMiddleware(),
		ConfiguredRetryMiddleware(),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware ensures each delivery carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
					msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
				}
				return h(msg)
			}
		},
	}
}

// LogDeliveriesMiddleware logs every delivery at debug level when
// Config.LogDeliveries is set. A nil logger selects the pipeline logger.
func LogDeliveriesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_deliveries",
		Builder: func(p *Pipeline) (message.HandlerMiddleware, error) {
			if !p.Conf.LogDeliveries {
				return nil, nil
			}
			l := logger
			if l == nil {
				l = p.Logger
			}
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					fields := loggingpkg.LogFields{"message_uuid": msg.UUID, "metadata": msg.Metadata}
					if env, ok := EnvelopeFromContext(msg.Context()); ok {
						fields = envelopeFields(env)
						fields["correlation_id"] = msg.Metadata.Get(metadatapkg.KeyCorrelationID)
					}
					l.Debug("Delivering message", fields)
					return h(msg)
				}
			}, nil
		},
	}
}

// TracerMiddleware wraps each delivery in an OpenTelemetry consumer span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(p *Pipeline) (message.HandlerMiddleware, error) {
			return p.tracerMiddleware(), nil
		},
	}
}

func (p *Pipeline) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			attrs := []attribute.KeyValue{
				attribute.String("kernelbus.message_id", msg.UUID),
				attribute.String("kernelbus.correlation_id", msg.Metadata.Get(metadatapkg.KeyCorrelationID)),
			}
			if env, ok := EnvelopeFromContext(msg.Context()); ok {
				attrs = append(attrs,
					attribute.String("kernelbus.sender", env.Header.Sender().Name()),
					attribute.String("kernelbus.recipient", env.Header.Recipient().Name()),
					attribute.String("kernelbus.body_kind", string(env.Kind())),
					attribute.Bool("kernelbus.reply", env.IsReply()),
				)
			}

			ctx, span := p.tracer.Start(msg.Context(), "kernelbus.deliver",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()
			msg.SetContext(ctx)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

// MetricsMiddleware records delivery outcomes and durations when the pipeline
// has metrics.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(p *Pipeline) (message.HandlerMiddleware, error) {
			if p.metrics == nil {
				return nil, nil
			}
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					start := time.Now()
					msgs, err := h(msg)
					recipient := msg.Metadata.Get(metadatapkg.KeyRecipient)
					kind := msg.Metadata.Get(metadatapkg.KeyBodyKind)
					p.metrics.RecordDelivery(recipient, kind, outcomeOf(err), time.Since(start))
					return msgs, err
				}
			}, nil
		},
	}
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// StatsMiddleware feeds the per-listener statistics exposed by Listeners.
func StatsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "stats",
		Builder: func(p *Pipeline) (message.HandlerMiddleware, error) {
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					env, ok := EnvelopeFromContext(msg.Context())
					if !ok {
						return h(msg)
					}
					entry, ok := p.listenerEntry(env.Header.Recipient())
					if !ok {
						return h(msg)
					}

					invocation := entry.stats.onDeliveryStart(metadatapkg.FromWatermill(msg.Metadata))
					start := time.Now()
					msgs, err := h(msg)
					entry.stats.onDeliveryFinish(invocation, time.Since(start), err, p.errorClassifier)
					return msgs, err
				}
			}, nil
		},
	}
}

// HooksMiddleware invokes the hooks configured in PipelineDependencies.
func HooksMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "hooks",
		Builder: func(p *Pipeline) (message.HandlerMiddleware, error) {
			if p.hooks.empty() {
				return nil, nil
			}
			return deliveryHooksMiddleware(p.hooks), nil
		},
	}
}

// TimeoutMiddleware bounds each delivery by Config.DeliveryTimeout.
func TimeoutMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "timeout",
		Builder: func(p *Pipeline) (message.HandlerMiddleware, error) {
			if p.Conf.DeliveryTimeout <= 0 {
				return nil, nil
			}
			return middleware.Timeout(p.Conf.DeliveryTimeout), nil
		},
	}
}

// ConfiguredRetryMiddleware retries deliveries that failed with a Retryable
// error, using the retry settings of the pipeline configuration.
func ConfiguredRetryMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(p *Pipeline) (message.HandlerMiddleware, error) {
			if p.Conf.DeliveryRetries <= 0 {
				return nil, nil
			}
			return p.retryMiddlewareWithConfig(RetryMiddlewareConfig{
				MaxRetries:      p.Conf.DeliveryRetries,
				InitialInterval: p.Conf.RetryInitialInterval,
				MaxInterval:     p.Conf.RetryMaxInterval,
			}), nil
		},
	}
}

// RetryMiddleware retries deliveries using the provided configuration
// (defaults applied to zero values).
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	normalized := cfg.withDefaults()
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(p *Pipeline) (message.HandlerMiddleware, error) {
			if normalized.MaxRetries <= 0 {
				return nil, nil
			}
			return p.retryMiddlewareWithConfig(normalized), nil
		},
	}
}

func (p *Pipeline) retryMiddlewareWithConfig(cfg RetryMiddlewareConfig) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		Multiplier:      2,
		ShouldRetry: func(params middleware.RetryParams) bool {
			return normalized.RetryIf(params.Err)
		},
		OnRetryHook: func(retryNum int, delay time.Duration) {
			p.Logger.Debug("Retrying delivery", loggingpkg.LogFields{
				"retry":    retryNum,
				"delay_ms": delay.Milliseconds(),
			})
		},
	}.Middleware
}

// RecovererMiddleware converts listener panics into delivery errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

func (reg MiddlewareRegistration) resolve(p *Pipeline) (message.HandlerMiddleware, error) {
	switch {
	case reg.Middleware != nil:
		return reg.Middleware, nil
	case reg.Builder != nil:
		return reg.Builder(p)
	default:
		return nil, errors.New("middleware registration requires Middleware or Builder")
	}
}

// buildHandler composes the configured middleware around deliver. The first
// registration becomes the outermost link.
func (p *Pipeline) buildHandler(deps PipelineDependencies) (message.HandlerFunc, error) {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	chain := make([]message.HandlerMiddleware, 0, len(registrations))
	for _, reg := range registrations {
		mw, err := reg.resolve(p)
		if err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return nil, fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
		if mw != nil {
			chain = append(chain, mw)
		}
	}

	handler := message.HandlerFunc(p.deliver)
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler, nil
}
