/*
Package runtime implements the kernelbus message pipeline and the correlation
assistants that services use to talk to each other.

# Architecture Overview

A Pipeline keeps two registration tables keyed by envelope.Address: listeners,
which receive envelopes, and senders, which may originate them. Send validates
the routing fields, stamps a fresh MessageID, copies the body and hands the
envelope to a dispatcher. Delivery always happens asynchronously; the sender
only learns about routing problems, never about failures inside the recipient.

Deliveries travel as Watermill messages. The direct dispatcher keeps the
envelope in the message context; the channel dispatcher moves it through a
gochannel inbox, so the body is encoded with the pipeline's body catalog.

# Package Structure

## Pipeline (pipeline.go, delivery.go)

Registration, routing and the delivery handler that resolves the envelope
and runs the middleware chain in front of Listener.ProcessMessage.

## Assistant (assistant.go, future.go, handlers.go)

The Assistant pairs outbound requests with inbound replies. A reply may
arrive before SendWithReply has recorded its request; such replies are parked
and claimed afterwards. Duplicate replies are dropped. Inbound requests are
dispatched to per-kind handlers; HandleFunc and HandleProto add typed
variants.

## Service (service.go)

An address plus its Assistant, registered as both listener and sender.

## Middleware (middleware.go, hooks.go)

The default delivery chain, outermost first:
  - CorrelationID: ensures every delivery has a correlation id
  - LogDeliveries: debug logging when Config.LogDeliveries is set
  - Tracer: OpenTelemetry consumer span per delivery
  - Metrics: Prometheus delivery counters and durations
  - Stats: per-listener statistics
  - Hooks: DeliveryHooks callbacks
  - Timeout: Config.DeliveryTimeout
  - Retry: redelivers errors marked with errors.Retryable
  - Recoverer: panic recovery

## Stats & Monitoring (models.go, resources.go, metrics.go, introspection.go)

Latency percentiles, throughput, error categories and backlog per listener,
Prometheus collectors, and an HTTP handler serving /api/listeners and
/api/catalog.

# Sub-packages

  - bodies/: body catalog, JSON and protobuf codecs
  - config/: configuration, validation and viper loading
  - envelope/: Address, MessageID, Header, Body and Envelope
  - errors/: sentinel errors and error types
  - handlers/: typed request handlers
  - ids/: message id generators
  - jsoncodec/: JSON marshaling
  - logging/: logger interface and adapters
  - metadata/: delivery metadata keys and conversion
  - transport/: dispatcher factory

# Usage Example

	p, err := runtime.NewPipeline(config.Default(), logger, runtime.PipelineDependencies{
		Catalog: bodies.NewCatalog(Ping{}, Pong{}),
	})

	a := runtime.NewService(envelope.MustAddress("svc.A"))
	b := runtime.NewService(envelope.MustAddress("svc.B"))
	_ = a.Attach(p)
	_ = b.Attach(p)

	_ = runtime.HandleFunc(b.Assistant(), func(ctx context.Context, req runtime.Request[Ping]) error {
		_, err := req.Reply(ctx, Pong{Seq: req.Body.Seq})
		return err
	})

	future, _ := a.Request(ctx, b.Address(), Ping{Seq: 1})
	pong, _ := runtime.AwaitReply[Pong](ctx, future)
*/
package runtime
