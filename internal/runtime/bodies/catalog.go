// Package bodies keeps the catalog of Body variants a pipeline accepts. Each
// kind maps to a prototype and the codec used whenever a body has to cross a
// serialisation boundary, such as the gochannel inbox.
package bodies

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	"github.com/drblury/kernelbus/internal/runtime/jsoncodec"
)

// Codec turns bodies of one kind into bytes and back. Decode receives the
// prototype registered for the kind and must return a fresh body.
type Codec interface {
	ContentType() string
	Encode(body envelope.Body) ([]byte, error)
	Decode(data []byte, prototype envelope.Body) (envelope.Body, error)
}

// JSONCodec encodes plain Go bodies with sonic. Both value and pointer
// prototypes are supported.
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(body envelope.Body) ([]byte, error) {
	return jsoncodec.Marshal(body)
}

func (JSONCodec) Decode(data []byte, prototype envelope.Body) (envelope.Body, error) {
	target, finish, err := newInstance(prototype)
	if err != nil {
		return nil, err
	}
	if err := jsoncodec.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s body: %w", prototype.Kind(), err)
	}
	return finish(), nil
}

// newInstance allocates a zero value shaped like prototype. target is always a
// pointer suitable for unmarshalling; finish returns the body in the same shape
// as the prototype.
func newInstance(prototype envelope.Body) (target any, finish func() envelope.Body, err error) {
	t := reflect.TypeOf(prototype)
	if t == nil {
		return nil, nil, errspkg.ErrInvalidBodyKind
	}

	if t.Kind() == reflect.Ptr {
		v := reflect.New(t.Elem())
		return v.Interface(), func() envelope.Body { return v.Interface().(envelope.Body) }, nil
	}

	v := reflect.New(t)
	return v.Interface(), func() envelope.Body { return v.Elem().Interface().(envelope.Body) }, nil
}

type entry struct {
	prototype envelope.Body
	codec     Codec
}

// Catalog maps body kinds to their prototype and codec. It is safe for
// concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[envelope.BodyKind]entry
}

// NewCatalog returns a catalog with the given prototypes registered. It panics
// if any of them is invalid.
func NewCatalog(prototypes ...envelope.Body) *Catalog {
	c := &Catalog{entries: make(map[envelope.BodyKind]entry)}
	c.MustRegister(prototypes...)
	return c
}

// Register adds prototype with the default codec for its type: ProtoBody uses
// protojson, everything else JSON.
func (c *Catalog) Register(prototype envelope.Body) error {
	if _, ok := prototype.(*ProtoBody); ok {
		return c.RegisterWithCodec(prototype, ProtoJSONCodec{})
	}
	return c.RegisterWithCodec(prototype, JSONCodec{})
}

// RegisterWithCodec adds prototype under its kind. Registering the same type
// again is a no-op; a different type under an existing kind is rejected.
func (c *Catalog) RegisterWithCodec(prototype envelope.Body, codec Codec) error {
	if IsNil(prototype) || prototype.Kind() == "" {
		return errspkg.ErrInvalidBodyKind
	}
	if codec == nil {
		return errspkg.ErrCodecRequired
	}

	kind := prototype.Kind()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[kind]; ok {
		if reflect.TypeOf(existing.prototype) == reflect.TypeOf(prototype) {
			return nil
		}
		return fmt.Errorf("%w: %s (%T, %T)", errspkg.ErrDuplicateBodyKind, kind, existing.prototype, prototype)
	}
	c.entries[kind] = entry{prototype: prototype, codec: codec}
	return nil
}

// MustRegister panics when a prototype cannot be registered.
func (c *Catalog) MustRegister(prototypes ...envelope.Body) {
	for _, p := range prototypes {
		if err := c.Register(p); err != nil {
			panic(err)
		}
	}
}

// Has reports whether kind is registered.
func (c *Catalog) Has(kind envelope.BodyKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (c *Catalog) Kinds() []envelope.BodyKind {
	c.mu.RLock()
	kinds := make([]envelope.BodyKind, 0, len(c.entries))
	for kind := range c.entries {
		kinds = append(kinds, kind)
	}
	c.mu.RUnlock()

	slices.Sort(kinds)
	return kinds
}

// Encode serialises body with the codec registered for its kind.
func (c *Catalog) Encode(body envelope.Body) ([]byte, string, error) {
	if IsNil(body) {
		return nil, "", errspkg.ErrBodyRequired
	}
	e, err := c.lookup(body.Kind())
	if err != nil {
		return nil, "", err
	}
	data, err := e.codec.Encode(body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode %s body: %w", body.Kind(), err)
	}
	return data, e.codec.ContentType(), nil
}

// Decode rebuilds a body of the given kind from data.
func (c *Catalog) Decode(kind envelope.BodyKind, data []byte) (envelope.Body, error) {
	e, err := c.lookup(kind)
	if err != nil {
		return nil, err
	}
	body, err := e.codec.Decode(data, e.prototype)
	if err != nil {
		return nil, err
	}
	if body.Kind() != kind {
		return nil, fmt.Errorf("%w: decoded %q, expected %q", errspkg.ErrInvalidBodyKind, body.Kind(), kind)
	}
	return body, nil
}

// Prototype returns the registered prototype for kind.
func (c *Catalog) Prototype(kind envelope.BodyKind) (envelope.Body, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kind]
	return e.prototype, ok
}

func (c *Catalog) lookup(kind envelope.BodyKind) (entry, error) {
	c.mu.RLock()
	e, ok := c.entries[kind]
	c.mu.RUnlock()
	if !ok {
		return entry{}, fmt.Errorf("%w: %q", errspkg.ErrUnknownBodyKind, kind)
	}
	return e, nil
}

// IsNil reports whether body is nil or a typed nil pointer.
func IsNil(body envelope.Body) bool {
	if body == nil {
		return true
	}
	v := reflect.ValueOf(body)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
