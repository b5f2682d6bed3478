package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "devportal.yml"

// Config models devportal.yml.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Leases        LeaseConfig         `yaml:"leases"`
	Notifications NotificationsConfig `yaml:"notifications"`
	GitHub        GitHubConfig        `yaml:"github"`
	Auth          AuthConfig          `yaml:"auth"`
	Developers    []DeveloperSeed     `yaml:"developers"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type NotificationsConfig struct {
	Slack SlackConfig `yaml:"slack"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type LeaseConfig struct {
	StartTTLHours         int `yaml:"start_ttl_hours"`
	ClaimTTLHours         int `yaml:"claim_ttl_hours"`
	ExpiringWindowMinutes int `yaml:"expiring_window_minutes"`
	ReapIntervalSeconds   int `yaml:"reap_interval_seconds"`
}

func (l LeaseConfig) StartTTL() time.Duration { return time.Duration(l.StartTTLHours) * time.Hour }
func (l LeaseConfig) ClaimTTL() time.Duration { return time.Duration(l.ClaimTTLHours) * time.Hour }
func (l LeaseConfig) ExpiringWindow() time.Duration {
	return time.Duration(l.ExpiringWindowMinutes) * time.Minute
}
func (l LeaseConfig) ReapInterval() time.Duration {
	return time.Duration(l.ReapIntervalSeconds) * time.Second
}

type SlackConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	Channel        string `yaml:"channel"`
	QueueSize      int    `yaml:"queue_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type GitHubConfig struct {
	APIURL         string `yaml:"api_url"`
	Token          string `yaml:"token"`
	DefaultBase    string `yaml:"default_base"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	PMRoles   []string `yaml:"pm_roles"`
}

type DeveloperSeed struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`
}

// Load reads the workspace config; a missing file is an error.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with devportal init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be 'sqlite' or 'postgres', got %q", c.Store.Driver)
	}
	if c.Store.MaxConns < 0 {
		return fmt.Errorf("config.store.max_conns must not be negative")
	}
	if c.Leases.StartTTLHours <= 0 || c.Leases.ClaimTTLHours <= 0 {
		return fmt.Errorf("config.leases ttl hours must be positive")
	}
	if c.Leases.ExpiringWindowMinutes < 0 {
		return fmt.Errorf("config.leases.expiring_window_minutes must not be negative")
	}
	if c.Leases.ReapIntervalSeconds <= 0 {
		return fmt.Errorf("config.leases.reap_interval_seconds must be positive")
	}
	slack := c.Notifications.Slack
	if slack.WebhookURL != "" {
		if u, err := url.Parse(slack.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.notifications.slack.webhook_url is not an absolute URL")
		}
	}
	if slack.QueueSize <= 0 {
		return fmt.Errorf("config.notifications.slack.queue_size must be positive")
	}
	if slack.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.notifications.slack.timeout_seconds must be positive")
	}
	if c.GitHub.APIURL == "" {
		return fmt.Errorf("config.github.api_url is required")
	}
	if len(c.Auth.PMRoles) == 0 {
		return fmt.Errorf("config.auth.pm_roles must name at least one role")
	}
	seen := map[string]bool{}
	for i, d := range c.Developers {
		if d.ID == "" || d.Name == "" {
			return fmt.Errorf("developer %d needs id and name", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate developer id %s", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the Config described by the default template.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML overlays raw YAML on the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

store:
  driver: sqlite
  dsn: ""
  max_conns: 10

leases:
  start_ttl_hours: 72
  claim_ttl_hours: 8
  expiring_window_minutes: 60
  reap_interval_seconds: 60

notifications:
  slack:
    webhook_url: ""
    channel: ""
    queue_size: 100
    timeout_seconds: 5

github:
  api_url: https://api.github.com
  token: ""
  default_base: main
  timeout_seconds: 10

auth:
  jwt_secret: ""
  pm_roles: [pm]

developers:
  - id: dev-1
    name: Ana Lima
    avatar: AL
  - id: dev-2
    name: Kenji Sato
    avatar: KS
  - id: dev-3
    name: Priya Nair
    avatar: PN
`
