package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, for example
// KERNELBUS_DISPATCHER or KERNELBUS_DELIVERY_TIMEOUT.
const EnvPrefix = "KERNELBUS"

// Load reads a YAML file (optional, pass "" to skip it) and applies
// environment overrides on top of the defaults. The result is validated.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve overrides for
// keys missing from the file.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("dispatcher", d.Dispatcher)
	v.SetDefault("channel_buffer", d.ChannelBuffer)
	v.SetDefault("delivery_timeout", d.DeliveryTimeout)
	v.SetDefault("delivery_retries", d.DeliveryRetries)
	v.SetDefault("retry_initial_interval", d.RetryInitialInterval)
	v.SetDefault("retry_max_interval", d.RetryMaxInterval)
	v.SetDefault("log_deliveries", d.LogDeliveries)
	v.SetDefault("metrics_enabled", d.MetricsEnabled)
	v.SetDefault("metrics_namespace", d.MetricsNamespace)
	v.SetDefault("metrics_port", d.MetricsPort)
	v.SetDefault("introspection_enabled", d.IntrospectionEnabled)
	v.SetDefault("introspection_port", d.IntrospectionPort)
	v.SetDefault("introspection_cors_allowed_origins", []string{})
	v.SetDefault("introspection_token", d.IntrospectionToken)
	v.SetDefault("settled_reply_ttl", d.SettledReplyTTL)
	v.SetDefault("id_generator", d.IDGenerator)
}
