// Package eventkit ties the kit's messaging building blocks together behind
// one service configuration. Services embed Config, load it with LoadConfig,
// and hand the section structs to the subsystem constructors.
package eventkit

import (
	"fmt"

	"github.com/insurelane/eventkit/bus"
	"github.com/insurelane/eventkit/config"
	"github.com/insurelane/eventkit/kafka"
	"github.com/insurelane/eventkit/redis"
)

// Config is the top-level configuration for a service built on the kit. The
// base service fields sit at the root of the config file; each messaging
// subsystem gets its own section.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Kafka kafka.Config `yaml:"kafka" mapstructure:"kafka"`
	Redis redis.Config `yaml:"redis" mapstructure:"redis"`
	Bus   bus.Config   `yaml:"bus" mapstructure:"bus"`
}

// LoadConfig resolves config and env files for serviceName, loads them into
// a Config, applies defaults across every section, and validates the result.
// The service name doubles as the config name when the file does not set one.
func LoadConfig(serviceName string, opts ...config.LoaderOption) (*Config, error) {
	var cfg Config
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = serviceName
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields in every section.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Kafka.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Bus.ApplyDefaults()
}

// Validate checks every section. Disabled subsystems skip their own checks.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("config.kafka: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("config.redis: %w", err)
	}
	if err := c.Bus.Validate(); err != nil {
		return fmt.Errorf("config.bus: %w", err)
	}
	return nil
}
