package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default values applied by Default and by Load for keys that are not set.
const (
	DefaultDispatcher           = "direct"
	DefaultChannelBuffer        = 64
	DefaultRetryInitialInterval = 50 * time.Millisecond
	DefaultRetryMaxInterval     = 2 * time.Second
	DefaultMetricsNamespace     = "kernelbus"
	DefaultMetricsPort          = 9090
	DefaultIntrospectionPort    = 8081
	DefaultSettledReplyTTL      = time.Minute
	DefaultIDGenerator          = "ulid"
)

// Config groups the settings used to build a Pipeline and its assistants.
type Config struct {
	// Dispatcher selects how envelopes reach listeners. Supported values:
	// "direct" (one goroutine per delivery) and "channel" (watermill gochannel
	// inbox per listener). Custom dispatchers registered with the transport
	// registry are accepted as well.
	Dispatcher string `mapstructure:"dispatcher"`
	// ChannelBuffer sizes each gochannel inbox. Only used by "channel".
	ChannelBuffer int64 `mapstructure:"channel_buffer"`

	// DeliveryTimeout bounds a single ProcessMessage call. Zero disables it.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`

	// Retry tuning for listener errors marked retryable. Zero retries disables
	// the retry middleware.
	DeliveryRetries      int           `mapstructure:"delivery_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`

	// LogDeliveries logs every delivery at debug level.
	LogDeliveries bool `mapstructure:"log_deliveries"`

	// Metrics configuration.
	MetricsEnabled   bool   `mapstructure:"metrics_enabled"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`
	// MetricsPort is the port where Prometheus metrics will be exposed.
	MetricsPort int `mapstructure:"metrics_port"`

	// Introspection API configuration.
	IntrospectionEnabled bool `mapstructure:"introspection_enabled"`
	IntrospectionPort    int  `mapstructure:"introspection_port"`
	// IntrospectionCORSAllowedOrigins specifies allowed origins for CORS. Use "*" for development
	// or specific origins like "https://example.com" for production. Empty disables CORS headers.
	IntrospectionCORSAllowedOrigins []string `mapstructure:"introspection_cors_allowed_origins"`
	// IntrospectionToken, when set, must be presented as a bearer token.
	IntrospectionToken string `mapstructure:"introspection_token"`

	// SettledReplyTTL is how long an assistant remembers completed request ids
	// so that duplicate replies are dropped instead of parked.
	SettledReplyTTL time.Duration `mapstructure:"settled_reply_ttl"`

	// IDGenerator selects the message id scheme: "ulid", "uuid" or "sequence".
	IDGenerator string `mapstructure:"id_generator"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Dispatcher:           DefaultDispatcher,
		ChannelBuffer:        DefaultChannelBuffer,
		RetryInitialInterval: DefaultRetryInitialInterval,
		RetryMaxInterval:     DefaultRetryMaxInterval,
		MetricsNamespace:     DefaultMetricsNamespace,
		MetricsPort:          DefaultMetricsPort,
		IntrospectionPort:    DefaultIntrospectionPort,
		SettledReplyTTL:      DefaultSettledReplyTTL,
		IDGenerator:          DefaultIDGenerator,
	}
}

// Getter methods to implement transport.Config interface.
func (c *Config) GetDispatcher() string   { return c.Dispatcher }
func (c *Config) GetChannelBuffer() int64 { return c.ChannelBuffer }

func (c Config) String() string {
	copy := c
	if copy.IntrospectionToken != "" {
		copy.IntrospectionToken = "***REDACTED***"
	}
	// Use a type alias to avoid infinite recursion when printing
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

// Validate checks that the configuration is usable. All problems are reported
// at once. Unknown dispatcher names are accepted so custom dispatchers can be
// registered.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateDispatcher()...)
	errs = append(errs, c.validateDelivery()...)
	errs = append(errs, c.validatePorts()...)

	return errors.Join(errs...)
}

func (c *Config) validateDispatcher() []error {
	var errs []error
	if strings.TrimSpace(c.Dispatcher) != c.Dispatcher {
		errs = append(errs, fmt.Errorf("dispatcher: name %q has surrounding whitespace", c.Dispatcher))
	}
	if c.ChannelBuffer < 0 {
		errs = append(errs, errors.New("dispatcher: channel buffer cannot be negative"))
	}
	switch strings.ToLower(c.IDGenerator) {
	case "", "ulid", "uuid", "sequence":
	default:
		errs = append(errs, fmt.Errorf("ids: unknown generator %q", c.IDGenerator))
	}
	return errs
}

func (c *Config) validateDelivery() []error {
	var errs []error
	if c.DeliveryTimeout < 0 {
		errs = append(errs, errors.New("delivery: timeout cannot be negative"))
	}
	if c.DeliveryRetries < 0 {
		errs = append(errs, errors.New("retry: max retries cannot be negative"))
	}
	if c.RetryInitialInterval < 0 {
		errs = append(errs, errors.New("retry: initial interval cannot be negative"))
	}
	if c.RetryMaxInterval < 0 {
		errs = append(errs, errors.New("retry: max interval cannot be negative"))
	}
	if c.RetryMaxInterval > 0 && c.RetryInitialInterval > 0 && c.RetryInitialInterval > c.RetryMaxInterval {
		errs = append(errs, errors.New("retry: initial interval cannot exceed max interval"))
	}
	if c.SettledReplyTTL < 0 {
		errs = append(errs, errors.New("assistant: settled reply ttl cannot be negative"))
	}
	return errs
}

func (c *Config) validatePorts() []error {
	var errs []error
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.IntrospectionPort < 0 || c.IntrospectionPort > 65535 {
		errs = append(errs, fmt.Errorf("introspection: invalid port %d", c.IntrospectionPort))
	}
	if c.MetricsEnabled && c.IntrospectionEnabled && c.MetricsPort != 0 && c.MetricsPort == c.IntrospectionPort {
		errs = append(errs, fmt.Errorf("introspection: port %d already used by metrics", c.IntrospectionPort))
	}
	return errs
}

// ValidateConfig is a convenience function to validate a config pointer.
// Returns nil if the config is valid.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
