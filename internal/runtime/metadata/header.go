package metadata

import (
	"fmt"
	"strconv"
	"time"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
)

// FromEnvelope renders the routing header and body tag of env as delivery metadata.
func FromEnvelope(env envelope.Envelope, enqueuedAt time.Time) Metadata {
	h := env.Header
	correlation := h.ID()
	if h.IsReply() {
		correlation = h.InReplyTo()
	}

	md := New(
		KeyMessageID, h.ID().String(),
		KeySender, h.Sender().Name(),
		KeyRecipient, h.Recipient().Name(),
		KeyBodyKind, string(env.Kind()),
		KeyCorrelationID, correlation.String(),
		KeyEnqueuedAt, enqueuedAt.UTC().Format(time.RFC3339Nano),
	).With(KeyInReplyTo, h.InReplyTo().String())
	if env.Body != nil {
		md = md.With(KeyResponseRequired, strconv.FormatBool(env.Body.ResponseRequired()))
	}
	return md
}

// Header rebuilds and validates the routing header stored in m.
func (m Metadata) Header() (envelope.Header, error) {
	sender, err := envelope.NewAddress(m[KeySender])
	if err != nil {
		return envelope.Header{}, fmt.Errorf("metadata %s: %w", KeySender, err)
	}
	recipient, err := envelope.NewAddress(m[KeyRecipient])
	if err != nil {
		return envelope.Header{}, fmt.Errorf("metadata %s: %w", KeyRecipient, err)
	}
	return envelope.NewHeader(
		envelope.MessageID(m[KeyMessageID]),
		sender,
		recipient,
		envelope.MessageID(m[KeyInReplyTo]),
	)
}

// BodyKind returns the body tag stored in m.
func (m Metadata) BodyKind() envelope.BodyKind {
	return envelope.BodyKind(m[KeyBodyKind])
}

// EnqueuedAt parses the enqueue timestamp; ok is false when absent or malformed.
func (m Metadata) EnqueuedAt() (time.Time, bool) {
	raw := m[KeyEnqueuedAt]
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
