package runtime

import (
	"context"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
)

// Listener receives the envelopes addressed to it. ProcessMessage runs on a
// dispatcher goroutine, never on the sender's.
type Listener interface {
	envelope.Addressable
	ProcessMessage(ctx context.Context, env envelope.Envelope) error
}

// Sender is any handle allowed to originate messages from its address.
type Sender interface {
	envelope.Addressable
}

// Endpoint tags a registration explicitly. Either half may be nil; when both
// are set they must report the same address.
type Endpoint struct {
	Listener Listener
	Sender   Sender
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc struct {
	addr envelope.Address
	fn   func(ctx context.Context, env envelope.Envelope) error
}

// NewListenerFunc returns a Listener at addr that forwards to fn.
func NewListenerFunc(addr envelope.Address, fn func(ctx context.Context, env envelope.Envelope) error) *ListenerFunc {
	return &ListenerFunc{addr: addr, fn: fn}
}

func (l *ListenerFunc) Address() envelope.Address { return l.addr }

func (l *ListenerFunc) ProcessMessage(ctx context.Context, env envelope.Envelope) error {
	if l.fn == nil {
		return nil
	}
	return l.fn(ctx, env)
}

type senderHandle struct {
	addr envelope.Address
}

func (s senderHandle) Address() envelope.Address { return s.addr }

// SenderAt returns a bare Sender handle for addr.
func SenderAt(addr envelope.Address) Sender {
	return senderHandle{addr: addr}
}
