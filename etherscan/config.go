/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package etherscan

import (
	"fmt"
	"io"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultNetwork              = "mainnet"
	DefaultBaseDomain           = "etherscan.io"
	DefaultMaxItemsPerTick      = 4
	DefaultTickInterval         = time.Second
	DefaultMaxRequestsPerSecond = 5
)

const cfgKeyPrefix = "etherscan"

// Config represents a set of configuration parameters for the Provider.
// Configuration can be loaded in different formats (YAML, JSON) using LoadConfig,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Network is the remote network identifier. The default network maps to the bare
	// API subdomain, every other value is used as a subdomain prefix.
	Network string `mapstructure:"network" yaml:"network" json:"network"`

	// UseHTTPS switches outgoing calls from plain HTTP (default) to HTTPS.
	UseHTTPS bool `mapstructure:"useHttps" yaml:"useHttps" json:"useHttps"`

	// APIKey, when not empty, is appended to every outgoing call.
	APIKey string `mapstructure:"apiKey" yaml:"apiKey" json:"apiKey"`

	// BaseDomain is the domain the API subdomain is attached to.
	BaseDomain string `mapstructure:"baseDomain" yaml:"baseDomain" json:"baseDomain"`

	// MaxItemsPerTick caps how many queued requests one drain tick releases to execution.
	MaxItemsPerTick int `mapstructure:"maxItemsPerTick" yaml:"maxItemsPerTick" json:"maxItemsPerTick"`

	// TickInterval is the period of the drain loop.
	TickInterval time.Duration `mapstructure:"tickInterval" yaml:"tickInterval" json:"tickInterval"`

	// MaxRequestsPerSecond caps how many remote call executions may begin per second.
	MaxRequestsPerSecond int `mapstructure:"maxRequestsPerSecond" yaml:"maxRequestsPerSecond" json:"maxRequestsPerSecond"`

	// RetryOnForbidden re-queues requests rejected with the remote API's
	// rate-limiting signal instead of failing them.
	RetryOnForbidden bool `mapstructure:"retryOnForbidden" yaml:"retryOnForbidden" json:"retryOnForbidden"`
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Network:              DefaultNetwork,
		BaseDomain:           DefaultBaseDomain,
		MaxItemsPerTick:      DefaultMaxItemsPerTick,
		TickInterval:         DefaultTickInterval,
		MaxRequestsPerSecond: DefaultMaxRequestsPerSecond,
		RetryOnForbidden:     true,
	}
}

// Validate checks that all configuration parameters have valid values.
func (c *Config) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("network cannot be empty")
	}
	if c.BaseDomain == "" {
		return fmt.Errorf("base domain cannot be empty")
	}
	if c.MaxItemsPerTick <= 0 {
		return fmt.Errorf("max items per tick must be positive")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.MaxRequestsPerSecond <= 0 {
		return fmt.Errorf("max requests per second must be positive")
	}
	return nil
}

// LoadConfig reads configuration in the given format (yaml or json) from the reader.
// Parameters may be overridden with ETHERSCAN_* environment variables.
// Missing parameters keep their default values.
func LoadConfig(r io.Reader, dataType string) (*Config, error) {
	v := viper.New()
	v.SetConfigType(dataType)
	v.SetEnvPrefix(cfgKeyPrefix)
	v.AutomaticEnv()
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := NewDefaultConfig()
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.UnmarshalKey(cfgKeyPrefix, cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
