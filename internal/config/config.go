package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server         ServerConfig   `json:"server"`
	LLM            LLMConfig      `json:"llm"`
	Notify         NotifyConfig   `json:"notify"`
	Buffers        BuffersConfig  `json:"buffers"`
	Thresholds     Thresholds     `json:"thresholds"`
	Database       DatabaseConfig `json:"database"`
	DemoServers    []DemoServer   `json:"demo_servers,omitempty"`
	ForwarderImage string         `json:"forwarder_image"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
	// PublicURL is the externally reachable base URL announced to MCP
	// clients in the endpoint event.
	PublicURL string `json:"public_url"`
}

type LLMConfig struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

type NotifyConfig struct {
	// Platform selects the webhook transport: "discord" or "slack".
	Platform        string `json:"platform"`
	DefaultWebhook  string `json:"default_webhook"`
	CooldownMinutes int    `json:"cooldown_minutes"`
	// RedisURL enables the shared cooldown store when set.
	RedisURL string `json:"redis_url,omitempty"`
}

type BuffersConfig struct {
	Logs    int `json:"logs"`
	Metrics int `json:"metrics"`
	Health  int `json:"health"`
}

type Thresholds struct {
	CPUHighPercent float64 `json:"cpu_high_percent"`
	MemHighPercent float64 `json:"mem_high_percent"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type DemoServer struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Notify.Platform == "" {
		c.Notify.Platform = "discord"
	}
	if c.Notify.CooldownMinutes == 0 {
		c.Notify.CooldownMinutes = 10
	}
	if c.Buffers.Logs == 0 {
		c.Buffers.Logs = 10_000
	}
	if c.Buffers.Metrics == 0 {
		c.Buffers.Metrics = 50
	}
	if c.Buffers.Health == 0 {
		c.Buffers.Health = 120
	}
	if c.Thresholds.CPUHighPercent == 0 {
		c.Thresholds.CPUHighPercent = 80
	}
	if c.Thresholds.MemHighPercent == 0 {
		c.Thresholds.MemHighPercent = 90
	}
	if c.ForwarderImage == "" {
		c.ForwarderImage = "ghcr.io/nidhogg/log-forwarder:latest"
	}
}
