package runtime

import (
	"fmt"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/kernelbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/kernelbus/internal/runtime/metadata"
)

// handleDelivery is the inbox handler of every listener. It always returns
// nil: recipient failures are logged here and never travel back.
func (p *Pipeline) handleDelivery(msg *message.Message) error {
	env, err := p.resolveEnvelope(msg)
	if err != nil {
		p.Logger.Error("Dropping undecodable delivery", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"body_kind":    msg.Metadata.Get(metadatapkg.KeyBodyKind),
			"recipient":    msg.Metadata.Get(metadatapkg.KeyRecipient),
		})
		return nil
	}
	msg.SetContext(withEnvelope(msg.Context(), env))

	if err := p.invoke(msg); err != nil {
		derr := &errspkg.DeliveryError{
			MessageID: env.Header.ID().String(),
			Sender:    env.Header.Sender().Name(),
			Recipient: env.Header.Recipient().Name(),
			Err:       err,
		}
		fields := envelopeFields(env)
		fields["category"] = string(p.errorClassifier(err))
		p.Logger.Error("Delivery failed", derr, fields)
	}
	return nil
}

// invoke runs the middleware chain. The recover covers chains built without
// the recoverer middleware.
func (p *Pipeline) invoke(msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = middleware.RecoveredPanicError{V: r, Stacktrace: string(debug.Stack())}
		}
	}()
	_, err = p.handler(msg)
	return err
}

// resolveEnvelope prefers the envelope carried by the context and falls back
// to decoding the metadata and payload.
func (p *Pipeline) resolveEnvelope(msg *message.Message) (envelope.Envelope, error) {
	if env, ok := EnvelopeFromContext(msg.Context()); ok {
		return env, nil
	}

	md := metadatapkg.FromWatermill(msg.Metadata)
	header, err := md.Header()
	if err != nil {
		return envelope.Envelope{}, err
	}
	body, err := p.catalog.Decode(md.BodyKind(), msg.Payload)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return envelope.New(header, body), nil
}

// deliver is the innermost handler: it hands the envelope to its listener.
func (p *Pipeline) deliver(msg *message.Message) ([]*message.Message, error) {
	env, ok := EnvelopeFromContext(msg.Context())
	if !ok {
		return nil, fmt.Errorf("%w: delivery carries no envelope", errspkg.ErrInvalidArgument)
	}

	entry, ok := p.listenerEntry(env.Header.Recipient())
	if !ok {
		return nil, errspkg.NewAddressError("deliver", env.Header.Recipient().Name(), errspkg.ErrUnknownAddress)
	}
	return nil, entry.listener.ProcessMessage(msg.Context(), env)
}
