package envelope

import (
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
)

// Address names a service endpoint. Comparison is ordinal and case-sensitive.
// The zero value is Nobody.
type Address struct {
	name string
}

// Nobody is the "no recipient" sentinel. It is never a valid sender or recipient.
var Nobody = Address{}

// NewAddress validates name and returns its Address.
func NewAddress(name string) (Address, error) {
	if name == "" {
		return Nobody, errspkg.ErrEmptyAddress
	}
	return Address{name: name}, nil
}

// MustAddress is NewAddress for constants; it panics on an empty name.
func MustAddress(name string) Address {
	addr, err := NewAddress(name)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) IsNobody() bool { return a.name == "" }

func (a Address) String() string {
	if a.IsNobody() {
		return "<nobody>"
	}
	return a.name
}

// Name returns the raw address value, empty for Nobody.
func (a Address) Name() string { return a.name }

// Addressable is implemented by every registration handle.
type Addressable interface {
	Address() Address
}
