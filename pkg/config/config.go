// Package config loads the moderation agent's YAML configuration surface.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every option the moderation agent recognizes.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Handle     string `yaml:"handle"`
	Password   string `yaml:"password"`
	ServiceDID string `yaml:"service_did"`
	DryRun     bool   `yaml:"dry_run"`
	UseToken   bool   `yaml:"use_token"`

	NumberOfThreads  int `yaml:"number_of_threads"`
	QueueLimit       int `yaml:"queue_limit"`
	URLRedirectLimit int `yaml:"url_redirect_limit"`

	URIHostPrefix string   `yaml:"uri_host_prefix"`
	WhitelistURIs []string `yaml:"whitelist_uris"`

	ImageFactor  int `yaml:"image_factor"`
	VideoFactor  int `yaml:"video_factor"`
	RecordFactor int `yaml:"record_factor"`
	LinkFactor   int `yaml:"link_factor"`

	AccountCacheCapacity int `yaml:"account_cache_capacity"`
}

// Defaults mirrors the option defaults a production deployment would ship.
var Defaults = Config{
	Host:                 "https://bsky.social",
	Port:                 443,
	UseToken:             true,
	NumberOfThreads:      4,
	QueueLimit:           1000,
	URLRedirectLimit:     10,
	URIHostPrefix:        "www.",
	ImageFactor:          4,
	VideoFactor:          4,
	RecordFactor:         4,
	LinkFactor:           4,
	AccountCacheCapacity: 500000,
}

// Load reads a YAML configuration file at path, filling unset fields from
// Defaults. A missing or unparseable file is a fatal configuration error
// the caller treats a non-nil error as startup-fatal.
func Load(path string) (Config, error) {
	cfg := Defaults

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that the configuration is complete enough to start the
// agent. A missing option is fatal at startup.
func Validate(cfg Config) error {
	if cfg.Host == "" {
		return fmt.Errorf("config: missing host")
	}
	if cfg.Handle == "" || cfg.Password == "" {
		return fmt.Errorf("config: missing login credentials (handle/password)")
	}
	if cfg.ServiceDID == "" {
		return fmt.Errorf("config: missing service_did")
	}
	if cfg.NumberOfThreads <= 0 {
		return fmt.Errorf("config: number_of_threads must be positive")
	}
	if cfg.QueueLimit <= 0 {
		return fmt.Errorf("config: queue_limit must be positive")
	}
	if cfg.URLRedirectLimit <= 0 {
		return fmt.Errorf("config: url_redirect_limit must be positive")
	}
	for _, factor := range []int{cfg.ImageFactor, cfg.VideoFactor, cfg.RecordFactor, cfg.LinkFactor} {
		if factor < 2 {
			return fmt.Errorf("config: alert factors must be >= 2")
		}
	}
	return nil
}

// BaseURL returns the scheme+host the REST executor should target.
func (c Config) BaseURL() string {
	if c.Port == 0 || c.Port == 443 {
		return c.Host
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
