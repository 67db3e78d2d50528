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

const FileName = "closeline.yml"

// Storage drivers.
const (
	DriverSQLite  = "sqlite"
	DriverLevelDB = "leveldb"
)

// Config models closeline.yml.
type Config struct {
	Storage struct {
		Driver string `yaml:"driver" json:"driver"`
	} `yaml:"storage" json:"storage"`
	Limits Limits `yaml:"limits" json:"limits"`
	Server struct {
		Addr              string `yaml:"addr" json:"addr"`
		BasePath          string `yaml:"base_path" json:"base_path"`
		DevAuth           bool   `yaml:"dev_auth" json:"dev_auth"`
		AllowSenderHeader bool   `yaml:"allow_sender_header" json:"allow_sender_header"`
		TokenTTL          string `yaml:"token_ttl" json:"token_ttl"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// WebhookConfig describes an outbound delivery target for committed events.
type WebhookConfig struct {
	URL string `yaml:"url" json:"url"`
	// AppID restricts delivery to one app; 0 delivers events of every app.
	AppID          uint64   `yaml:"app_id,omitempty" json:"app_id,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Limits bound the global state of one app. Zero disables a limit.
type Limits struct {
	MaxGlobalEntries int `yaml:"max_global_entries" json:"max_global_entries"`
	MaxKeyBytes      int `yaml:"max_key_bytes" json:"max_key_bytes"`
	MaxEntryBytes    int `yaml:"max_entry_bytes" json:"max_entry_bytes"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with closectl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverLevelDB:
	default:
		return fmt.Errorf("config.storage.driver must be %q or %q, got %q", DriverSQLite, DriverLevelDB, c.Storage.Driver)
	}
	if c.Limits.MaxGlobalEntries < 0 || c.Limits.MaxKeyBytes < 0 || c.Limits.MaxEntryBytes < 0 {
		return fmt.Errorf("config.limits must not be negative")
	}
	if c.Limits.MaxKeyBytes > 0 && c.Limits.MaxEntryBytes > 0 && c.Limits.MaxKeyBytes > c.Limits.MaxEntryBytes {
		return fmt.Errorf("config.limits.max_key_bytes exceeds max_entry_bytes")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.TokenTTL != "" {
		if _, err := time.ParseDuration(c.Server.TokenTTL); err != nil {
			return fmt.Errorf("config.server.token_ttl: %w", err)
		}
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(strings.TrimSpace(hook.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	switch c.Log.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.log.level %q is not a known level", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// TokenLifetime returns the dev login token lifetime.
func (c *Config) TokenLifetime() time.Duration {
	d, err := time.ParseDuration(c.Server.TokenTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
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

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
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

// Limits follow the Algorand consensus parameters for application globals.
const defaultTemplate = `storage:
  driver: sqlite

limits:
  max_global_entries: 64
  max_key_bytes: 64
  max_entry_bytes: 128

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  dev_auth: false
  allow_sender_header: false
  token_ttl: 24h

log:
  level: info
  format: text
`
