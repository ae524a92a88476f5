// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, EngineChromedp, cfg.Browser.Engine)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1440, cfg.Browser.Viewport.Width)
	assert.Equal(t, 1700, cfg.Browser.Viewport.Height)
	assert.Equal(t, 8*time.Second, cfg.Network.ActionTimeout)
	assert.Equal(t, "gemini-2.5-flash", cfg.Agent.LLM.Model)
	assert.Equal(t, 3, cfg.Agent.Loop.MaxConsecutiveFailures)
	assert.Equal(t, 3, cfg.Agent.Loop.MaxRepeatedFailures)
	assert.True(t, cfg.Agent.Loop.RetryOnTimeout)
	assert.Equal(t, "text", cfg.Report.Format)
	assert.Equal(t, "none", cfg.Store.Driver)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown engine", func(c *Config) { c.Browser.Engine = "webkit" }, "browser.engine"},
		{"zero viewport", func(c *Config) { c.Browser.Viewport.Width = 0 }, "viewport"},
		{"zero action timeout", func(c *Config) { c.Network.ActionTimeout = 0 }, "network timeouts"},
		{"zero max steps", func(c *Config) { c.Agent.Loop.MaxSteps = 0 }, "max_steps"},
		{"zero failure streak", func(c *Config) { c.Agent.Loop.MaxConsecutiveFailures = 0 }, "max_consecutive_failures"},
		{"negative history", func(c *Config) { c.Agent.History.MaxChars = -1 }, "history budgets"},
		{"relative start url", func(c *Config) { c.Agent.StartURL = "/people" }, "start_url"},
		{"ftp start url", func(c *Config) { c.Agent.StartURL = "ftp://example.com" }, "start_url"},
		{"public suffix allowed", func(c *Config) { c.Agent.AllowedDomains = []string{"example.edu", ".co.uk"} }, "public suffix"},
		{"unknown provider", func(c *Config) { c.Agent.LLM.Provider = "ollama" }, "llm.provider"},
		{"bad report format", func(c *Config) { c.Report.Format = "xml" }, "report.format"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"unknown store", func(c *Config) { c.Store.Driver = "redis" }, "store.driver"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("valid overrides", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Agent.StartURL = "https://www.cs.oberlin.edu/"
		cfg.Store.Driver = "sqlite"
		cfg.Store.DSN = "file:wayfinder.db"
		cfg.Report.Format = "YAML"
		cfg.Agent.AllowedDomains = []string{".oberlin.edu", "localhost"}
		assert.NoError(t, cfg.Validate())
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("reads yaml over defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yamlConfig := []byte(`
browser:
  engine: rod
  headless: false
agent:
  goal: "find the emeriti faculty"
  start_url: "https://example.edu"
  allowed_domains: ["example.edu"]
  loop:
    max_steps: 12
    success_predicate: 'url.contains("emeriti")'
  history:
    max_tokens: 0
network:
  action_timeout: 4s
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, EngineRod, cfg.Browser.Engine)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, "find the emeriti faculty", cfg.Agent.Goal)
		assert.Equal(t, []string{"example.edu"}, cfg.Agent.AllowedDomains)
		assert.Equal(t, 12, cfg.Agent.Loop.MaxSteps)
		assert.Equal(t, `url.contains("emeriti")`, cfg.Agent.Loop.SuccessPredicate)
		assert.Equal(t, 0, cfg.Agent.History.MaxTokens)
		assert.Equal(t, 4*time.Second, cfg.Network.ActionTimeout)
		// Untouched values keep their defaults.
		assert.Equal(t, 150, cfg.Agent.Observer.MaxElements)
	})

	t.Run("api key from environment", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "test-key", cfg.Agent.LLM.APIKey)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.loop.max_steps", -1)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestSearchPaths(t *testing.T) {
	paths := SearchPaths()
	require.NotEmpty(t, paths)
	assert.Equal(t, ".", paths[0])
}
