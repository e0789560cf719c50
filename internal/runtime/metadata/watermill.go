package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies the headers of a received watermill message.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// ToWatermill copies m into the metadata of an outgoing watermill message.
func ToWatermill(m Metadata) message.Metadata {
	return message.Metadata(m.Clone())
}
