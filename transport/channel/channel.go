// Package channel provides a dispatcher backed by the watermill gochannel
// pub/sub. Every listener gets a buffered inbox topic; delivery messages cross
// it as copies, so the message context does not survive and bodies travel
// encoded in the payload.
package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/kernelbus/transport"
)

// TransportName is the name used to register this dispatcher.
const TransportName = "channel"

// PubSub is the subset of gochannel.GoChannel used by the dispatcher.
type PubSub interface {
	message.Publisher
	message.Subscriber
}

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) PubSub {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new gochannel dispatcher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Dispatcher, error) {
	var buffer int64
	if cfg != nil {
		buffer = cfg.GetChannelBuffer()
	}
	return New(buffer, logger), nil
}

// Capabilities returns the capabilities of this dispatcher.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

type inbox struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatcher routes delivery messages through gochannel topics, one per inbox.
type Dispatcher struct {
	pubSub PubSub
	logger watermill.LoggerAdapter

	mu        sync.Mutex
	inboxes   map[string]*inbox
	closed    bool
	consumers sync.WaitGroup
	handlers  sync.WaitGroup
	inFlight  atomic.Int64
}

// New returns a dispatcher whose inboxes buffer up to buffer messages.
func New(buffer int64, logger watermill.LoggerAdapter) *Dispatcher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Dispatcher{
		pubSub: Factory(gochannel.Config{OutputChannelBuffer: buffer}, logger),
		logger: logger,
	}
}

func (d *Dispatcher) Open(name string, handler transport.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return transport.ErrDispatcherClosed
	}
	if d.inboxes == nil {
		d.inboxes = make(map[string]*inbox)
	}
	if _, ok := d.inboxes[name]; ok {
		return transport.ErrInboxExists
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := d.pubSub.Subscribe(ctx, name)
	if err != nil {
		cancel()
		return err
	}

	ib := &inbox{cancel: cancel, done: make(chan struct{})}
	d.inboxes[name] = ib
	d.consumers.Add(1)
	go d.consume(name, ib, messages, handler)
	return nil
}

// consume hands every message to the handler in arrival order. Messages are
// acked as soon as they are handed over; the handler runs on its own
// goroutine so a listener waiting on a reply cannot stall its inbox.
func (d *Dispatcher) consume(name string, ib *inbox, messages <-chan *message.Message, handler transport.Handler) {
	defer d.consumers.Done()
	defer close(ib.done)

	for msg := range messages {
		// gochannel cancels the subscriber context once the message is acked.
		msg.SetContext(context.Background())

		d.handlers.Add(1)
		d.inFlight.Add(1)
		msg.Ack()

		go func(msg *message.Message) {
			defer d.handlers.Done()
			defer d.inFlight.Add(-1)

			if err := handler(msg); err != nil {
				d.logger.Error("Delivery handler failed", err, watermill.LogFields{
					"inbox":        name,
					"message_uuid": msg.UUID,
				})
			}
		}(msg)
	}
}

func (d *Dispatcher) CloseInbox(name string) error {
	d.mu.Lock()
	ib, ok := d.inboxes[name]
	if ok {
		delete(d.inboxes, name)
	}
	d.mu.Unlock()

	if !ok {
		return transport.ErrUnknownInbox
	}
	ib.cancel()
	<-ib.done
	return nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, name string, msg *message.Message) error {
	d.mu.Lock()
	closed := d.closed
	_, ok := d.inboxes[name]
	d.mu.Unlock()

	switch {
	case closed:
		return transport.ErrDispatcherClosed
	case !ok:
		return transport.ErrUnknownInbox
	}

	if ctx != nil {
		msg.SetContext(ctx)
	}
	return d.pubSub.Publish(name, msg)
}

// InFlight reports the number of running deliveries.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Close stops every inbox, closes the pub/sub and waits for running handlers.
// Messages still queued in an inbox when it closes are dropped.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	inboxes := d.inboxes
	d.inboxes = nil
	d.mu.Unlock()

	for _, ib := range inboxes {
		ib.cancel()
		<-ib.done
	}

	err := d.pubSub.Close()
	d.consumers.Wait()
	d.handlers.Wait()
	return err
}
