// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 15*time.Second, cfg.Gateway.OfflineAfter)
	assert.Equal(t, 20, cfg.Agent.DefaultMaxSteps)
	assert.Equal(t, 5*time.Minute, cfg.Agent.DefaultTimeout)
	assert.Equal(t, 3, cfg.Agent.StuckThreshold)
	assert.Equal(t, ":8478", cfg.Server.Addr)
	assert.Empty(t, cfg.Store.PostgresDSN)
}

func TestNewConfigFromViper_Overrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agent.stuck_threshold", 4)
	v.Set("agent.history_size", 8)
	v.Set("gateway.offline_after", "30s")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Agent.StuckThreshold)
	assert.Equal(t, 8, cfg.Agent.HistorySize)
	assert.Equal(t, 30*time.Second, cfg.Gateway.OfflineAfter)
}

func TestNewConfigFromViper_EnvSecrets(t *testing.T) {
	t.Setenv("DROIDPILOT_DEVICE_JWT_SECRET", "env-secret")
	t.Setenv("DROIDPILOT_POSTGRES_DSN", "postgres://env")

	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Server.DeviceJWTSecret)
	assert.Equal(t, "postgres://env", cfg.Store.PostgresDSN)
}

func TestNewConfigFromViper_LLMAPIKeyFallback(t *testing.T) {
	t.Setenv("DROIDPILOT_LLM_API_KEY", "env-api-key")

	v := viper.New()
	SetDefaults(v)
	v.Set("agent.llm.models", map[string]interface{}{
		"gemini-2.5-pro": map[string]interface{}{"provider": "gemini"},
	})

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "env-api-key", cfg.Agent.LLM.Models["gemini-2.5-pro"].APIKey)
}

func TestValidate_Rejections(t *testing.T) {
	cases := map[string]func(*Config){
		"non-positive max steps":       func(c *Config) { c.Agent.DefaultMaxSteps = 0 },
		"stuck threshold below two":    func(c *Config) { c.Agent.StuckThreshold = 1 },
		"history smaller than breaker": func(c *Config) { c.Agent.HistorySize = 2 },
		"non-positive snapshot wait":   func(c *Config) { c.Agent.SnapshotWait = 0 },
		"non-positive offline window":  func(c *Config) { c.Gateway.OfflineAfter = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestModelFor(t *testing.T) {
	router := LLMRouterConfig{
		DefaultFastModel:     "gemini-2.5-flash",
		DefaultPowerfulModel: "gemini-2.5-pro",
		Models: map[string]LLMModelConfig{
			"gemini-2.5-pro": {Provider: ProviderGemini, APIKey: "k"},
		},
	}

	m, err := router.ModelFor("powerful")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, m.Provider)
	assert.Equal(t, "gemini-2.5-pro", m.Model, "model name defaults to the router key")

	_, err = router.ModelFor("fast")
	assert.Error(t, err, "the fast tier references an unconfigured model")
}
