// Package config handles cmsnest configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level cmsnest configuration.
type Config struct {
	Fetch    FetchConfig   `yaml:"fetch"`
	Sanitize bool          `yaml:"sanitize"`
	Server   ServerConfig  `yaml:"server"`
	Browser  BrowserConfig `yaml:"browser"`
	Store    StoreConfig   `yaml:"store"`
	Sinks    []SinkConfig  `yaml:"sinks"`
}

// FetchConfig controls the per-item GET.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"` // header deadline, default 5s
	UserAgent string        `yaml:"user_agent"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

// ServerConfig controls the HTTP composition service.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	Origin string `yaml:"origin"` // site whose pages are composed
	Source string `yaml:"source"` // http | browser
	// BlockPrivate refuses page, item and redirect URLs that resolve to
	// private addresses.
	BlockPrivate bool `yaml:"block_private"`
}

// BrowserConfig controls the headless Chrome loader.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Stealth          bool          `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// StoreConfig locates the SQLite report store. Empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SinkConfig defines an output backend for outcomes and completions.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 5 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 << 20
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8086"
	}
	if c.Server.Source == "" {
		c.Server.Source = "http"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

func (c *Config) validate() error {
	switch c.Server.Source {
	case "http", "browser":
	default:
		return fmt.Errorf("config: server.source %q: want http or browser", c.Server.Source)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook requires url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
