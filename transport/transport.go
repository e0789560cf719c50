// Package transport defines how a pipeline hands delivery messages to
// listener inboxes. Each dispatcher implementation lives in its own
// sub-package and registers itself with the dispatcher registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

var (
	ErrDispatcherClosed = errors.New("kernelbus: dispatcher is closed")
	ErrInboxExists      = errors.New("kernelbus: inbox already open")
	ErrUnknownInbox     = errors.New("kernelbus: inbox not open")
)

// Handler consumes one delivery message taken from an inbox. The pipeline's
// handler deals with failures itself; a returned error is only logged by the
// dispatcher.
type Handler = message.NoPublishHandlerFunc

// Dispatcher moves delivery messages into per-address inboxes and runs the
// inbox handler for each of them. Dispatch must not wait for the handler.
type Dispatcher interface {
	// Open starts an inbox. Opening an inbox twice fails with ErrInboxExists.
	Open(inbox string, handler Handler) error
	// CloseInbox stops an inbox. Messages already handed to the handler still run.
	CloseInbox(inbox string) error
	// Dispatch enqueues msg for inbox and returns without waiting for delivery.
	Dispatch(ctx context.Context, inbox string, msg *message.Message) error
	// Close stops every inbox and waits for running handlers.
	Close() error
}

// Builder is the function signature for creating a dispatcher from config.
// Each dispatcher package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Dispatcher, error)

// Config provides the configuration values needed by dispatchers.
// This interface allows dispatchers to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetDispatcher returns the dispatcher name.
	GetDispatcher() string

	// GetChannelBuffer sizes buffered inboxes.
	GetChannelBuffer() int64
}

// CapabilitiesProvider is implemented by dispatchers that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// InboxIntrospector is implemented by dispatchers that can report how many
// deliveries are currently running.
type InboxIntrospector interface {
	InFlight() int64
}
