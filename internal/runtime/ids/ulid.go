package ids

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator allocates process-unique message identifiers. A pipeline owns
// exactly one Generator, so tests can inject their own without touching
// package state.
type Generator interface {
	NewID() string
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func() string

func (f GeneratorFunc) NewID() string { return f() }

// ULIDGenerator produces time-sortable ULIDs from a monotonic entropy source.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewULIDGenerator returns a generator whose ids are strictly increasing.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewID returns a 26-character ULID.
func (g *ULIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	return id.String()
}

// UUIDGenerator produces RFC 9562 version 7 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SequenceGenerator hands out increasing decimal ids with an optional prefix.
// It is mostly useful in tests where readable ids help.
type SequenceGenerator struct {
	prefix string
	next   atomic.Uint64
}

func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) NewID() string {
	return g.prefix + strconv.FormatUint(g.next.Add(1), 10)
}

// New resolves a generator by its configuration name. An empty name selects ULIDs.
func New(name string) (Generator, error) {
	switch name {
	case "", "ulid":
		return NewULIDGenerator(), nil
	case "uuid":
		return UUIDGenerator{}, nil
	case "sequence":
		return NewSequenceGenerator("msg-"), nil
	default:
		return nil, fmt.Errorf("unknown id generator %q", name)
	}
}

var (
	defaultMu  sync.Mutex
	defaultGen = NewULIDGenerator()
)

// CreateULID returns a time-sortable ULID from a shared generator. Pipelines
// use their own Generator; this helper serves log correlation ids.
func CreateULID() string {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultGen.NewID()
}
