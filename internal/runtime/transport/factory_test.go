package transport

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/kernelbus/internal/runtime/config"
	dispatchers "github.com/drblury/kernelbus/transport"
	"github.com/drblury/kernelbus/transport/channel"
	"github.com/drblury/kernelbus/transport/direct"
)

func TestDefaultFactory_EmptyNameSelectsDirect(t *testing.T) {
	d, caps, err := DefaultFactory().Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer d.Close()

	assert.IsType(t, &direct.Dispatcher{}, d)
	assert.Equal(t, "direct", caps.Name)
	assert.True(t, caps.CarriesContext())
}

func TestDefaultFactory_Channel(t *testing.T) {
	d, caps, err := DefaultFactory().Build(context.Background(), &config.Config{Dispatcher: "channel", ChannelBuffer: 4}, nil)
	require.NoError(t, err)
	defer d.Close()

	assert.IsType(t, &channel.Dispatcher{}, d)
	assert.True(t, caps.RequiresEncoding)
}

func TestDefaultFactory_Errors(t *testing.T) {
	_, _, err := DefaultFactory().Build(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, _, err = DefaultFactory().Build(context.Background(), &config.Config{Dispatcher: "kafka"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dispatcher")
}

func TestDefaultFactory_DoesNotMutateConfig(t *testing.T) {
	conf := &config.Config{}
	d, _, err := DefaultFactory().Build(context.Background(), conf, nil)
	require.NoError(t, err)
	defer d.Close()
	assert.Empty(t, conf.Dispatcher)
}

func TestFactoryFunc(t *testing.T) {
	called := false
	f := FactoryFunc(func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (dispatchers.Dispatcher, dispatchers.Capabilities, error) {
		called = true
		return direct.New(logger), dispatchers.DirectCapabilities, nil
	})

	d, caps, err := f.Build(context.Background(), &config.Config{}, nil)
	require.NoError(t, err)
	defer d.Close()
	assert.True(t, called)
	assert.Equal(t, "direct", caps.Name)
}
