package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig                 `json:"app" yaml:"app" toml:"app"`
	Gateways   map[string]GatewayConfig  `json:"gateways" yaml:"gateways" toml:"gateways"`
	Providers  map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	Memory     MemoryConfig              `json:"memory" yaml:"memory" toml:"memory"`
	Engine     EngineConfig              `json:"engine" yaml:"engine" toml:"engine"`
	Storage    StorageConfig             `json:"storage" yaml:"storage" toml:"storage"`
	Governance GovernanceConfig          `json:"governance" yaml:"governance" toml:"governance"`
	LLM        LLMConfig                 `json:"llm" yaml:"llm" toml:"llm"`
	Telemetry  TelemetryConfig           `json:"telemetry" yaml:"telemetry" toml:"telemetry"`
}

type AppConfig struct {
	Name      string `json:"name" yaml:"name" toml:"name"`
	Workspace string `json:"workspace" yaml:"workspace" toml:"workspace"`
	Prompts   string `json:"prompts,omitempty" yaml:"prompts,omitempty" toml:"prompts,omitempty"`
	// Browser enables the headless Chrome capability.
	Browser bool `json:"browser,omitempty" yaml:"browser,omitempty" toml:"browser,omitempty"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token" toml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	// Notify lists chat or channel ids that receive goal outcomes.
	Notify []string `json:"notify,omitempty" yaml:"notify,omitempty" toml:"notify,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
	Model   string `json:"model" yaml:"model" toml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// MemoryConfig locates the sqlite database holding the session archive and
// recurring goals.
type MemoryConfig struct {
	Type string `json:"type" yaml:"type" toml:"type"`
	Path string `json:"path" yaml:"path" toml:"path"`
}

type EngineConfig struct {
	Provider          string `json:"provider,omitempty" yaml:"provider,omitempty" toml:"provider,omitempty"`
	MaxIterations     int    `json:"max_iterations" yaml:"max_iterations" toml:"max_iterations"`
	GoalBatchSize     int    `json:"goal_batch_size" yaml:"goal_batch_size" toml:"goal_batch_size"`
	CyclePauseSeconds int    `json:"cycle_pause_seconds" yaml:"cycle_pause_seconds" toml:"cycle_pause_seconds"`
}

// CyclePause returns the pause between autonomy cycles.
func (e EngineConfig) CyclePause() time.Duration {
	return time.Duration(e.CyclePauseSeconds) * time.Second
}

type StorageConfig struct {
	Backlog      string `json:"backlog" yaml:"backlog" toml:"backlog"`
	Ledger       string `json:"ledger" yaml:"ledger" toml:"ledger"`
	MemoryIndex  string `json:"memory_index" yaml:"memory_index" toml:"memory_index"`
	Capabilities string `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
}

type GovernanceConfig struct {
	DenyCapabilities []string `json:"deny_capabilities,omitempty" yaml:"deny_capabilities,omitempty" toml:"deny_capabilities,omitempty"`
	DenyPatterns     []string `json:"deny_patterns,omitempty" yaml:"deny_patterns,omitempty" toml:"deny_patterns,omitempty"`
	// Rules are CEL expressions; a rule evaluating to true denies the call.
	Rules []string `json:"rules,omitempty" yaml:"rules,omitempty" toml:"rules,omitempty"`
}

type LLMConfig struct {
	MaxAttempts       int     `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	RequestsPerMinute float64 `json:"requests_per_minute" yaml:"requests_per_minute" toml:"requests_per_minute"`
	LogPath           string  `json:"log_path,omitempty" yaml:"log_path,omitempty" toml:"log_path,omitempty"`
}

type TelemetryConfig struct {
	NATSURL string `json:"nats_url,omitempty" yaml:"nats_url,omitempty" toml:"nats_url,omitempty"`
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty" toml:"subject,omitempty"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "autopilot"
	}
	if c.App.Workspace == "" {
		c.App.Workspace = "./workspace"
	}
	if c.App.Prompts == "" {
		c.App.Prompts = "./prompts"
	}
	if c.Gateways == nil {
		c.Gateways = make(map[string]GatewayConfig)
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "./data/autopilot.db"
	}
	if c.Engine.MaxIterations <= 0 {
		c.Engine.MaxIterations = 50
	}
	if c.Engine.GoalBatchSize <= 0 {
		c.Engine.GoalBatchSize = 3
	}
	if c.Engine.CyclePauseSeconds < 0 {
		c.Engine.CyclePauseSeconds = 0
	} else if c.Engine.CyclePauseSeconds == 0 {
		c.Engine.CyclePauseSeconds = 30
	}
	if c.Storage.Backlog == "" {
		c.Storage.Backlog = "./data/goals.json"
	}
	if c.Storage.Ledger == "" {
		c.Storage.Ledger = "./data/ledger.json"
	}
	if c.Storage.MemoryIndex == "" {
		c.Storage.MemoryIndex = "./data/memory.bleve"
	}
	if c.Storage.Capabilities == "" {
		c.Storage.Capabilities = "./capabilities"
	}
	if c.LLM.MaxAttempts <= 0 {
		c.LLM.MaxAttempts = 3
	}
	if c.LLM.LogPath == "" {
		c.LLM.LogPath = "logs/llm.jsonl"
	}
	if c.Telemetry.Subject == "" {
		c.Telemetry.Subject = "autopilot.events"
	}
}

// LoadConfig reads path, choosing the decoder by extension (.json, .yaml,
// .yml, .toml). A missing file yields the defaults. Environment overrides are
// applied last.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("[Config] %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	default:
		if err := decode(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return json.Unmarshal(data, cfg)
	}
}

// ApplyEnv applies MAX_ITERATIONS, GOAL_BATCH_SIZE, CYCLE_PAUSE_SECONDS and
// LLM_PROVIDER, and fills empty provider keys from <PROVIDER>_API_KEY.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_ITERATIONS", &c.Engine.MaxIterations},
		{"GOAL_BATCH_SIZE", &c.Engine.GoalBatchSize},
		{"CYCLE_PAUSE_SECONDS", &c.Engine.CyclePauseSeconds},
	}
	for _, e := range ints {
		raw, ok := lookup(e.key)
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid %s=%q: expected a non-negative integer", e.key, raw)
		}
		if n == 0 && e.key != "CYCLE_PAUSE_SECONDS" {
			return fmt.Errorf("invalid %s=%q: must be positive", e.key, raw)
		}
		*e.dst = n
	}

	if p, ok := lookup("LLM_PROVIDER"); ok && p != "" {
		c.Engine.Provider = strings.ToLower(p)
		if _, exists := c.Providers[c.Engine.Provider]; !exists {
			c.Providers[c.Engine.Provider] = ProviderConfig{Enabled: true}
		}
	}

	for name, p := range c.Providers {
		if p.APIKey != "" {
			continue
		}
		if key, ok := lookup(strings.ToUpper(name) + "_API_KEY"); ok {
			p.APIKey = key
			c.Providers[name] = p
		}
	}
	return nil
}

// GetDefaultProvider returns the provider named by engine.provider when set,
// otherwise the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	if c.Engine.Provider != "" {
		if p, ok := c.Providers[c.Engine.Provider]; ok {
			return c.Engine.Provider, p
		}
	}
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if c.Providers[name].Enabled {
			return name, c.Providers[name]
		}
	}
	return "", ProviderConfig{}
}

// GetGatewayConfig returns the named gateway config if enabled.
func (c *Config) GetGatewayConfig(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.GetGatewayConfig("telegram")
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.GetGatewayConfig("discord")
}
