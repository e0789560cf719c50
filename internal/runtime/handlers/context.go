// Package handlers builds typed request handlers on top of the untyped
// envelope handler signature used by assistants.
package handlers

import (
	"context"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
)

// Func is the untyped handler signature assistants dispatch to.
type Func func(ctx context.Context, env envelope.Envelope) error

// Replier answers a request on behalf of the receiving service.
type Replier interface {
	Reply(ctx context.Context, req envelope.Envelope, body envelope.Body) (envelope.MessageID, error)
}

// Request gives a handler typed access to the inbound body.
type Request[T any] struct {
	Envelope envelope.Envelope
	Body     T

	replier Replier
}

func (r Request[T]) Header() envelope.Header { return r.Envelope.Header }

// ID is the id of the inbound message.
func (r Request[T]) ID() envelope.MessageID { return r.Envelope.Header.ID() }

// Sender is the address a reply goes to.
func (r Request[T]) Sender() envelope.Address { return r.Envelope.Header.Sender() }

// ResponseRequired reports whether the sender expects a reply.
func (r Request[T]) ResponseRequired() bool {
	return r.Envelope.Body != nil && r.Envelope.Body.ResponseRequired()
}

// Reply sends body back to the sender, in reply to this request.
func (r Request[T]) Reply(ctx context.Context, body envelope.Body) (envelope.MessageID, error) {
	if r.replier == nil {
		return envelope.NoMessageID, errspkg.ErrMissingPipeline
	}
	return r.replier.Reply(ctx, r.Envelope, body)
}
