// internal/config/config_test.go
package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestSetDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1920, cfg.Browser.ViewportWidth)
	assert.Equal(t, 90*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 100, cfg.Agent.MaxSteps)
	assert.Equal(t, 3, cfg.Agent.MaxRetriesPerStep)
	assert.True(t, cfg.Agent.EnableRecovery)
	assert.False(t, cfg.Agent.FailFast)
	assert.Equal(t, "agent", cfg.Events.RedisChannel)
	assert.Equal(t, 200, cfg.Events.HistoryLimit)
	assert.Equal(t, "./plans", cfg.Plans.Dir)
	assert.False(t, cfg.Stream.Enabled)
}

func TestDefaultsValidate(t *testing.T) {
	cfg := loadDefaults(t)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative retries", func(c *Config) { c.Agent.MaxRetriesPerStep = -1 }, "max_retries_per_step"},
		{"zero max steps", func(c *Config) { c.Agent.MaxSteps = 0 }, "max_steps"},
		{"zero step timeout", func(c *Config) { c.Agent.StepTimeout = 0 }, "step_timeout"},
		{"bad viewport", func(c *Config) { c.Browser.ViewportWidth = 0 }, "viewport"},
		{"streaming without fps", func(c *Config) { c.Stream.Enabled = true; c.Stream.FPS = 0 }, "stream.fps"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadDefaults(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DEMODRIVE_AGENT_MAX_STEPS", "7")

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("DEMODRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	assert.Equal(t, 7, cfg.Agent.MaxSteps)
}
