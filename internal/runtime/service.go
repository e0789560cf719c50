package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
)

// Service couples an address with its Assistant. It is both a Listener and a
// Sender, so attaching it to a pipeline is all a kernel service needs to take
// part in request/reply traffic.
type Service struct {
	addr      envelope.Address
	assistant *Assistant

	mu       sync.Mutex
	pipeline *Pipeline
}

// NewService returns a detached service at addr.
func NewService(addr envelope.Address, opts ...AssistantOption) *Service {
	return &Service{addr: addr, assistant: NewAssistant(opts...)}
}

func (s *Service) Address() envelope.Address { return s.addr }

func (s *Service) Assistant() *Assistant { return s.assistant }

// ProcessMessage forwards inbound envelopes to the assistant.
func (s *Service) ProcessMessage(ctx context.Context, env envelope.Envelope) error {
	return s.assistant.Receive(ctx, env)
}

// Attach registers the service as listener and sender on p and binds its
// assistant.
func (s *Service) Attach(p *Pipeline) error {
	if p == nil {
		return errspkg.ErrMissingPipeline
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline != nil {
		return errspkg.ErrAlreadyBound
	}
	ep := Endpoint{Listener: s, Sender: s}
	if err := p.Register(ep); err != nil {
		return err
	}
	if err := s.assistant.Bind(p, s.addr, p.Logger); err != nil {
		return errors.Join(err, p.Unregister(ep))
	}
	s.pipeline = p
	return nil
}

// Detach undoes Attach.
func (s *Service) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil {
		return errspkg.ErrMissingPipeline
	}
	err := s.pipeline.Unregister(Endpoint{Listener: s, Sender: s})
	s.assistant.Unbind()
	s.pipeline = nil
	return err
}

func (s *Service) Send(ctx context.Context, recipient envelope.Address, body envelope.Body) (envelope.MessageID, error) {
	return s.assistant.Send(ctx, recipient, body, envelope.NoMessageID)
}

func (s *Service) Request(ctx context.Context, recipient envelope.Address, body envelope.Body) (*ReplyFuture, error) {
	return s.assistant.SendWithReply(ctx, recipient, body, envelope.NoMessageID)
}
