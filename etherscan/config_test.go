/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package etherscan

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromYAML(t *testing.T) {
	cfgData := bytes.NewBufferString(`
etherscan:
  network: sepolia
  useHttps: true
  apiKey: SECRET
  baseDomain: example.org
  maxItemsPerTick: 10
  tickInterval: 250ms
  maxRequestsPerSecond: 20
  retryOnForbidden: false
`)
	cfg, err := LoadConfig(cfgData, "yaml")
	require.NoError(t, err)
	require.Equal(t, &Config{
		Network:              "sepolia",
		UseHTTPS:             true,
		APIKey:               "SECRET",
		BaseDomain:           "example.org",
		MaxItemsPerTick:      10,
		TickInterval:         250 * time.Millisecond,
		MaxRequestsPerSecond: 20,
		RetryOnForbidden:     false,
	}, cfg)
}

func TestLoadConfigFromJSON(t *testing.T) {
	cfgData := bytes.NewBufferString(`{"etherscan": {"network": "goerli", "tickInterval": "2s"}}`)
	cfg, err := LoadConfig(cfgData, "json")
	require.NoError(t, err)
	require.Equal(t, "goerli", cfg.Network)
	require.Equal(t, 2*time.Second, cfg.TickInterval)
}

func TestLoadConfigMissingParamsKeepDefaults(t *testing.T) {
	cfgData := bytes.NewBufferString(`
etherscan:
  apiKey: SECRET
`)
	cfg, err := LoadConfig(cfgData, "yaml")
	require.NoError(t, err)

	wantCfg := NewDefaultConfig()
	wantCfg.APIKey = "SECRET"
	require.Equal(t, wantCfg, cfg)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		cfgData string
		wantErr string
	}{
		{
			name:    "empty network",
			cfgData: `etherscan: {network: ""}`,
			wantErr: "network cannot be empty",
		},
		{
			name:    "zero tick interval",
			cfgData: `etherscan: {tickInterval: 0s}`,
			wantErr: "tick interval must be positive",
		},
		{
			name:    "negative items per tick",
			cfgData: `etherscan: {maxItemsPerTick: -1}`,
			wantErr: "max items per tick must be positive",
		},
		{
			name:    "zero requests per second",
			cfgData: `etherscan: {maxRequestsPerSecond: 0}`,
			wantErr: "max requests per second must be positive",
		},
		{
			name:    "malformed document",
			cfgData: `etherscan: [`,
			wantErr: "read config",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(bytes.NewBufferString(tt.cfgData), "yaml")
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultNetwork, cfg.Network)
	require.Equal(t, DefaultBaseDomain, cfg.BaseDomain)
	require.Equal(t, DefaultMaxItemsPerTick, cfg.MaxItemsPerTick)
	require.Equal(t, DefaultTickInterval, cfg.TickInterval)
	require.Equal(t, DefaultMaxRequestsPerSecond, cfg.MaxRequestsPerSecond)
	require.True(t, cfg.RetryOnForbidden)
	require.False(t, cfg.UseHTTPS)
}
