package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
retry:
  initial_delay: 500ms
sources:
  market:
    ttl: 5m
tasks:
  portfolio:
    - symbol: NVDA
      quantity: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Retry.BackoffFactor)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay)

	market := cfg.Sources[SourceMarket]
	assert.Equal(t, 5*time.Minute, market.TTL)
	assert.Equal(t, "yahoo", market.Primary)
	assert.Equal(t, "stooq", market.Secondary)
	assert.Equal(t, 24*time.Hour, cfg.Sources[SourceFRED].TTL)
	assert.Equal(t, time.Hour, cfg.Sources[SourcePolymarket].TTL)

	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.False(t, cfg.LLM.Enabled())
	assert.Equal(t, []PortfolioItem{{Symbol: "NVDA", Quantity: 10}}, cfg.Tasks.Portfolio)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: "unknown cache backend",
		},
		{
			name:    "llm without key",
			mutate:  func(c *Config) { c.LLM.Provider = "gemini" },
			wantErr: "llm.api_key is required",
		},
		{
			name:    "max delay below initial delay",
			mutate:  func(c *Config) { c.Retry.MaxDelay = time.Millisecond },
			wantErr: "retry.max_delay",
		},
		{
			name: "rule without tasks",
			mutate: func(c *Config) {
				c.Rules = []RuleConfig{{ID: "r1"}}
			},
			wantErr: "rules[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
