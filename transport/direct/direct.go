// Package direct provides the default in-process dispatcher. Every delivery
// runs on its own goroutine and the delivery message keeps the context it was
// dispatched with, so bodies never need to be encoded.
package direct

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/kernelbus/transport"
)

// TransportName is the name used to register this dispatcher.
const TransportName = "direct"

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.DirectCapabilities)
}

// Build creates a new direct dispatcher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Dispatcher, error) {
	return New(logger), nil
}

// Capabilities returns the capabilities of this dispatcher.
func Capabilities() transport.Capabilities {
	return transport.DirectCapabilities
}

// Dispatcher runs each delivery on a fresh goroutine.
type Dispatcher struct {
	mu       sync.RWMutex
	inboxes  map[string]transport.Handler
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
	logger   watermill.LoggerAdapter
}

// New returns an open dispatcher.
func New(logger watermill.LoggerAdapter) *Dispatcher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Dispatcher{
		inboxes: make(map[string]transport.Handler),
		logger:  logger,
	}
}

func (d *Dispatcher) Open(inbox string, handler transport.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return transport.ErrDispatcherClosed
	}
	if _, ok := d.inboxes[inbox]; ok {
		return transport.ErrInboxExists
	}
	d.inboxes[inbox] = handler
	return nil
}

func (d *Dispatcher) CloseInbox(inbox string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.inboxes[inbox]; !ok {
		return transport.ErrUnknownInbox
	}
	delete(d.inboxes, inbox)
	return nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, inbox string, msg *message.Message) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return transport.ErrDispatcherClosed
	}
	handler, ok := d.inboxes[inbox]
	if !ok {
		d.mu.RUnlock()
		return transport.ErrUnknownInbox
	}
	// Add under the read lock so Close cannot start waiting before this
	// delivery is counted.
	d.wg.Add(1)
	d.mu.RUnlock()

	if ctx != nil {
		msg.SetContext(ctx)
	}

	d.inFlight.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)

		if err := handler(msg); err != nil {
			d.logger.Error("Delivery handler failed", err, watermill.LogFields{
				"inbox":        inbox,
				"message_uuid": msg.UUID,
			})
		}
	}()
	return nil
}

// InFlight reports the number of running deliveries.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Close rejects further dispatches and waits for running deliveries.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	clear(d.inboxes)
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}
