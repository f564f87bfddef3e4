package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"complyline/internal/policy"
)

// Config models complyline.yml.
type Config struct {
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Auth       AuthConfig       `yaml:"auth"`
	Webhooks   []WebhookConfig  `yaml:"webhooks"`
}

// MonitoringConfig holds the expiration windows and the poll cadence for the
// compliance monitor.
type MonitoringConfig struct {
	WarningWindowDays   int `yaml:"warning_window_days"`
	CriticalWindowDays  int `yaml:"critical_window_days"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

type AuthConfig struct {
	AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// monitoring values fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Monitoring.WarningWindowDays == 0 {
		cfg.Monitoring.WarningWindowDays = policy.DefaultWarningWindowDays
	}
	if cfg.Monitoring.CriticalWindowDays == 0 {
		cfg.Monitoring.CriticalWindowDays = policy.DefaultCriticalWindowDays
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Monitoring.WarningWindowDays <= 0 {
		return fmt.Errorf("monitoring.warning_window_days must be positive")
	}
	if c.Monitoring.CriticalWindowDays <= 0 {
		return fmt.Errorf("monitoring.critical_window_days must be positive")
	}
	if c.Monitoring.CriticalWindowDays > c.Monitoring.WarningWindowDays {
		return fmt.Errorf("monitoring.critical_window_days must not exceed warning_window_days")
	}
	if c.Monitoring.PollIntervalSeconds < 0 {
		return fmt.Errorf("monitoring.poll_interval_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "complyline.yml")
}

// Default returns the default Config.
func Default() *Config {
	return &Config{
		Monitoring: MonitoringConfig{
			WarningWindowDays:   policy.DefaultWarningWindowDays,
			CriticalWindowDays:  policy.DefaultCriticalWindowDays,
			PollIntervalSeconds: 300,
		},
	}
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `monitoring:
  warning_window_days: 60
  critical_window_days: 30
  poll_interval_seconds: 300

auth:
  allow_legacy_actor_header: false

webhooks: []
  # - url: https://example.com/hooks/compliance
  #   events: [alert.created, checklist.completed]
  #   secret: change-me
  #   timeout_seconds: 5
`
