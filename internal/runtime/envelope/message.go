package envelope

import (
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
)

// MessageID is an opaque identifier allocated by the pipeline at send time.
type MessageID string

// NoMessageID marks an envelope that does not answer anything, or a header
// that has not been stamped yet.
const NoMessageID MessageID = ""

func (id MessageID) IsNone() bool { return id == NoMessageID }

func (id MessageID) String() string { return string(id) }

// BodyKind tags a Body variant. Handlers and the catalog are keyed by it.
type BodyKind string

// Body is the payload carried by an Envelope. Bodies may cross a copy
// boundary, so every variant must be able to produce an independent deep copy
// and compare by value.
type Body interface {
	Kind() BodyKind
	ResponseRequired() bool
	Copy() Body
	Equal(other Body) bool
}

// Header carries the routing identity of a message.
type Header struct {
	id        MessageID
	sender    Address
	recipient Address
	inReplyTo MessageID
}

// NewHeader validates the routing fields. inReplyTo may be NoMessageID.
func NewHeader(id MessageID, sender, recipient Address, inReplyTo MessageID) (Header, error) {
	switch {
	case id.IsNone():
		return Header{}, errspkg.ErrInvalidMessageID
	case sender.IsNobody():
		return Header{}, errspkg.ErrSenderRequired
	case recipient.IsNobody():
		return Header{}, errspkg.ErrRecipientRequired
	case sender == recipient:
		return Header{}, errspkg.ErrSelfAddressed
	}
	return Header{id: id, sender: sender, recipient: recipient, inReplyTo: inReplyTo}, nil
}

// MustHeader panics when the header would be invalid.
func MustHeader(id MessageID, sender, recipient Address, inReplyTo MessageID) Header {
	h, err := NewHeader(id, sender, recipient, inReplyTo)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Header) ID() MessageID        { return h.id }
func (h Header) Sender() Address      { return h.sender }
func (h Header) Recipient() Address   { return h.recipient }
func (h Header) InReplyTo() MessageID { return h.inReplyTo }
func (h Header) IsReply() bool        { return !h.inReplyTo.IsNone() }

// Envelope is the unit the pipeline transports: one header and one body.
type Envelope struct {
	Header Header
	Body   Body
}

// New pairs a header with its body.
func New(header Header, body Body) Envelope {
	return Envelope{Header: header, Body: body}
}

// Equal reports whether both envelopes carry the same header. Bodies are not
// compared: equal headers identify the same message.
func (e Envelope) Equal(other Envelope) bool {
	return e.Header == other.Header
}

func (e Envelope) IsReply() bool { return e.Header.IsReply() }

// Kind returns the body kind, empty when the envelope has no body.
func (e Envelope) Kind() BodyKind {
	if e.Body == nil {
		return ""
	}
	return e.Body.Kind()
}
