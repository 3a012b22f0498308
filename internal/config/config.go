// Package config loads the YAML configuration shared by the serve and
// client commands. Environment variables are expanded inside the file,
// and a handful of well-known variables override file values so secrets
// can stay out of configs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for both peers.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Client        ClientConfig        `yaml:"client"`
	LLM           LLMConfig           `yaml:"llm"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig tunes the orchestration server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	MaxSessions  int           `yaml:"max_sessions"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens"`
	MemoryTokens int           `yaml:"memory_tokens"`
}

// ClientConfig tunes the workspace client.
type ClientConfig struct {
	ServerURL                string `yaml:"server_url"`
	WorkingDirectory         string `yaml:"working_directory"`
	AutoApproveReads         bool   `yaml:"auto_approve_reads"`
	RequireApprovalForWrites bool   `yaml:"require_approval_for_writes"`
	OperatingMode            string `yaml:"operating_mode"`
	AutoApproveStreakCap     int    `yaml:"auto_approve_streak_cap"`
	MistakeThreshold         int    `yaml:"mistake_threshold"`
	CostCeiling              float64 `yaml:"cost_ceiling"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig holds one provider's credentials and model choice.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig enables trace export.
type ObservabilityConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

// Load reads and parses a configuration file. Environment variables in
// the file body are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8765
	}
	if cfg.Server.MaxSessions == 0 {
		cfg.Server.MaxSessions = 64
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 30 * time.Minute
	}
	if cfg.Server.MaxTokens == 0 {
		cfg.Server.MaxTokens = 4096
	}
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Client.WorkingDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Client.WorkingDirectory = wd
		}
	}
	if cfg.Client.OperatingMode == "" {
		cfg.Client.OperatingMode = "code"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}
}

// applyEnvOverrides lets well-known environment variables win over file
// values so API keys never need to live in the config.
func applyEnvOverrides(cfg *Config) {
	override := func(name, env string) {
		key := os.Getenv(env)
		if key == "" {
			return
		}
		p := cfg.LLM.Providers[name]
		p.APIKey = key
		cfg.LLM.Providers[name] = p
	}
	override("anthropic", "ANTHROPIC_API_KEY")
	override("openai", "OPENAI_API_KEY")

	if v := os.Getenv("GAMBIARRA_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("GAMBIARRA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GAMBIARRA_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
}

// Provider returns the active provider name and its settings.
func (c *Config) Provider() (string, LLMProviderConfig) {
	name := c.LLM.DefaultProvider
	return name, c.LLM.Providers[name]
}
