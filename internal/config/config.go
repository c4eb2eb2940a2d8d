// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration, grouped by subsystem.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // Megabytes before rotation.
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // Days.
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// GatewayConfig tunes the per-device synchronization point.
type GatewayConfig struct {
	// OfflineAfter is how long a device may go without polling or pushing a
	// snapshot before it is considered offline.
	OfflineAfter time.Duration `mapstructure:"offline_after" yaml:"offline_after"`
	// QueueWarnDepth is the pending-queue depth at which the gateway starts
	// logging warnings. The queue itself is never capped; budget enforcement
	// is the control loop's job.
	QueueWarnDepth int `mapstructure:"queue_warn_depth" yaml:"queue_warn_depth"`
}

// AgentConfig holds settings for the control loop and its decision oracle.
type AgentConfig struct {
	// DefaultMaxSteps and DefaultTimeout apply when a TaskRequest leaves them
	// unset at the submission surface.
	DefaultMaxSteps int           `mapstructure:"default_max_steps" yaml:"default_max_steps"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`

	// SnapshotWait bounds how long OBSERVE waits for a snapshot to appear.
	SnapshotWait time.Duration `mapstructure:"snapshot_wait" yaml:"snapshot_wait"`
	// SnapshotMaxAge is the staleness sanity threshold beyond which a cached
	// snapshot counts as "no observation available".
	SnapshotMaxAge time.Duration `mapstructure:"snapshot_max_age" yaml:"snapshot_max_age"`
	// ActionWait bounds how long ACT waits for the executor's result.
	ActionWait time.Duration `mapstructure:"action_wait" yaml:"action_wait"`

	// StuckThreshold is the number of consecutive identical screen
	// fingerprints (with same-kind actions) that trips the circuit breaker.
	StuckThreshold int `mapstructure:"stuck_threshold" yaml:"stuck_threshold"`
	// HistorySize bounds the recent snapshot/action history the loop retains.
	HistorySize int `mapstructure:"history_size" yaml:"history_size"`

	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider          LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model             string            `mapstructure:"model" yaml:"model"`
	APIKey            string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float64           `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK              int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute float64           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// StoreConfig configures the optional task-outcome journal. An empty DSN
// disables persistence entirely.
type StoreConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// ServerConfig configures the gateway HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	DeviceJWTSecret string        `mapstructure:"device_jwt_secret" yaml:"device_jwt_secret"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Gateway --
	v.SetDefault("gateway.offline_after", "15s")
	v.SetDefault("gateway.queue_warn_depth", 25)

	// -- Agent --
	v.SetDefault("agent.default_max_steps", 20)
	v.SetDefault("agent.default_timeout", "5m")
	v.SetDefault("agent.snapshot_wait", "5s")
	v.SetDefault("agent.snapshot_max_age", "30s")
	v.SetDefault("agent.action_wait", "10s")
	v.SetDefault("agent.stuck_threshold", 3)
	v.SetDefault("agent.history_size", 5)
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")

	// -- Store --
	v.SetDefault("store.postgres_dsn", "")

	// -- Server --
	v.SetDefault("server.addr", ":8478")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewDefaultConfig returns a Config populated purely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Defaults are defined in this file; if they fail validation it is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("server.device_jwt_secret", "DROIDPILOT_DEVICE_JWT_SECRET")
	v.BindEnv("store.postgres_dsn", "DROIDPILOT_POSTGRES_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// API keys are conventionally supplied via the environment, not the file.
	for name, m := range cfg.Agent.LLM.Models {
		if m.APIKey == "" {
			if key := os.Getenv("DROIDPILOT_LLM_API_KEY"); key != "" {
				m.APIKey = key
				cfg.Agent.LLM.Models[name] = m
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.DefaultMaxSteps <= 0 {
		return fmt.Errorf("agent.default_max_steps must be a positive integer")
	}
	if c.Agent.StuckThreshold < 2 {
		return fmt.Errorf("agent.stuck_threshold must be at least 2")
	}
	if c.Agent.HistorySize < c.Agent.StuckThreshold {
		return fmt.Errorf("agent.history_size must be >= agent.stuck_threshold")
	}
	if c.Agent.SnapshotWait <= 0 || c.Agent.ActionWait <= 0 {
		return fmt.Errorf("agent.snapshot_wait and agent.action_wait must be positive durations")
	}
	if c.Gateway.OfflineAfter <= 0 {
		return fmt.Errorf("gateway.offline_after must be a positive duration")
	}
	return nil
}

// ModelFor resolves the model configuration for a tier, following the router
// defaults. Returns an error when the referenced model is not configured.
func (c *LLMRouterConfig) ModelFor(tier string) (LLMModelConfig, error) {
	name := c.DefaultPowerfulModel
	if tier == "fast" {
		name = c.DefaultFastModel
	}
	m, ok := c.Models[name]
	if !ok {
		return LLMModelConfig{}, fmt.Errorf("llm model %q is not configured under agent.llm.models", name)
	}
	if m.Model == "" {
		m.Model = name
	}
	return m, nil
}
