package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// Registry maintains a mapping of dispatcher names to their builders and capabilities.
// Dispatcher packages should register themselves using Register.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global dispatcher registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new dispatcher registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a dispatcher builder to the registry.
// The name should match the Dispatcher config value (e.g., "direct", "channel").
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// RegisterWithCapabilities adds a dispatcher builder and its capabilities to the registry.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the capabilities for a registered dispatcher.
// Unknown dispatchers report RequiresEncoding so bodies are never passed by
// reference through a dispatcher whose behaviour is not known.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name, RequiresEncoding: true}
}

// Build creates a dispatcher using the registered builder for the config's Dispatcher.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	name := cfg.GetDispatcher()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown dispatcher: %q (registered: %v)", name, r.Names())
	}

	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return builder(ctx, cfg, logger)
}

// Names returns the registered dispatcher names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Has returns true if a dispatcher is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a dispatcher builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a dispatcher builder and its capabilities to the default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// GetCapabilities returns capabilities from the default registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}

// Build creates a dispatcher using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Dispatcher, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
