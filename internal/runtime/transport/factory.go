package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/kernelbus/internal/runtime/config"
	dispatchers "github.com/drblury/kernelbus/transport"

	// Import the built-in dispatchers to register them.
	_ "github.com/drblury/kernelbus/transport/transports"
)

// Factory abstracts how a pipeline obtains its dispatcher.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (dispatchers.Dispatcher, dispatchers.Capabilities, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (dispatchers.Dispatcher, dispatchers.Capabilities, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (dispatchers.Dispatcher, dispatchers.Capabilities, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the built-in factory backed by the dispatcher
// registry. An empty Dispatcher name selects "direct".
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (dispatchers.Dispatcher, dispatchers.Capabilities, error) {
	if conf == nil {
		return nil, dispatchers.Capabilities{}, fmt.Errorf("config is required")
	}

	resolved := *conf
	if resolved.Dispatcher == "" {
		resolved.Dispatcher = config.DefaultDispatcher
	}

	d, err := dispatchers.Build(ctx, &resolved, logger)
	if err != nil {
		return nil, dispatchers.Capabilities{}, err
	}

	caps := dispatchers.GetCapabilities(resolved.Dispatcher)
	if provider, ok := d.(dispatchers.CapabilitiesProvider); ok {
		caps = provider.Capabilities()
	}
	return d, caps, nil
}
