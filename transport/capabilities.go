package transport

// Capabilities describes the features supported by a dispatcher.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// Name is the human-readable name of the dispatcher.
	Name string

	// RequiresEncoding indicates delivery messages cross a boundary that drops
	// the message context, so bodies must be encoded into the payload.
	RequiresEncoding bool

	// SupportsOrdering indicates messages for one inbox are handed to the
	// handler in dispatch order.
	SupportsOrdering bool

	// SupportsAck indicates the dispatcher acknowledges messages explicitly.
	SupportsAck bool

	// Buffered indicates inboxes queue messages before a handler picks them up.
	Buffered bool
}

// CarriesContext reports whether the delivery message keeps the context it
// was dispatched with.
func (c Capabilities) CarriesContext() bool {
	return !c.RequiresEncoding
}

// Predefined capability sets for the built-in dispatchers.
var (
	// DirectCapabilities for the goroutine-per-delivery dispatcher.
	DirectCapabilities = Capabilities{
		Name:             "direct",
		RequiresEncoding: false,
		SupportsOrdering: false,
		SupportsAck:      false,
		Buffered:         false,
	}

	// ChannelCapabilities for the watermill gochannel dispatcher.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		RequiresEncoding: true,
		SupportsOrdering: true,
		SupportsAck:      true,
		Buffered:         true,
	}
)
