// Package kernelbus is an in-process message bus for services that talk to
// each other through a single Pipeline. Every message travels as an Envelope:
// a Header (message id, sender, recipient and the id it answers) plus a Body
// whose kind is registered in a Catalog.
//
// The Pipeline keeps two tables, listeners and senders, keyed by Address. Send
// validates both ends, stamps a fresh message id and hands the envelope to a
// dispatcher that delivers it asynchronously. Delivery runs through a Watermill
// middleware chain (correlation ids, logging, tracing, metrics, timeouts,
// retries and panic recovery), so a failing listener never affects the sender
// or other listeners.
//
// An Assistant sits next to a service and turns the fire-and-forget pipeline
// into request/reply: SendWithReply returns a ReplyFuture that completes when
// the matching reply arrives, regardless of whether the reply lands before or
// after the caller starts waiting. Incoming requests are routed to handlers by
// body kind; HandleFunc and HandleProto register typed handlers.
//
// Service bundles an address and an assistant and can Attach itself to a
// Pipeline in one call:
//
//	p := kernelbus.MustNewPipeline(kernelbus.DefaultConfig(), logger, kernelbus.PipelineDependencies{Catalog: catalog})
//	svc := kernelbus.NewService(kernelbus.MustAddress("projects"))
//	_ = svc.Attach(p)
//	future, _ := svc.Request(ctx, kernelbus.MustAddress("loader"), &LoadProject{Path: path})
//	reply, err := kernelbus.AwaitReply[*ProjectHandle](ctx, future)
//
// # Dispatchers
//
// Two dispatchers ship with the package:
//   - direct: one goroutine per delivery, bodies are handed over in memory
//   - channel: Watermill's gochannel pub/sub, bodies are encoded through the catalog
//
// Custom dispatchers are registered with RegisterDispatcher or injected through
// PipelineDependencies.DispatcherFactory.
//
// # Introspection
//
// Pipeline.IntrospectionHandler serves GET /api/listeners and GET /api/catalog
// as JSON, optionally guarded by a bearer token and CORS allow-list from Config.
package kernelbus
