package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsForOmittedKeys(t *testing.T) {
	path := writeTestConfig(t, `
handle: mod.example.com
password: secret
service_did: did:plc:labeler
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != Defaults.Host {
		t.Errorf("expected default host %q, got %q", Defaults.Host, cfg.Host)
	}
	if cfg.NumberOfThreads != Defaults.NumberOfThreads {
		t.Errorf("expected default number_of_threads %d, got %d", Defaults.NumberOfThreads, cfg.NumberOfThreads)
	}
	if cfg.Handle != "mod.example.com" {
		t.Errorf("expected handle to be set from file, got %q", cfg.Handle)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
host: https://example-pds.test
handle: mod.example.com
password: secret
service_did: did:plc:labeler
dry_run: true
number_of_threads: 8
queue_limit: 50
url_redirect_limit: 3
image_factor: 2
whitelist_uris:
  - example.com
  - trusted.org
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != "https://example-pds.test" {
		t.Errorf("expected overridden host, got %q", cfg.Host)
	}
	if !cfg.DryRun {
		t.Error("expected dry_run true")
	}
	if cfg.NumberOfThreads != 8 {
		t.Errorf("expected number_of_threads 8, got %d", cfg.NumberOfThreads)
	}
	if len(cfg.WhitelistURIs) != 2 {
		t.Errorf("expected 2 whitelist entries, got %d", len(cfg.WhitelistURIs))
	}
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadInvalidYAMLIsFatal(t *testing.T) {
	path := writeTestConfig(t, "not: [valid: yaml")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Host:             "https://bsky.social",
		Handle:           "mod.example.com",
		Password:         "secret",
		ServiceDID:       "did:plc:labeler",
		NumberOfThreads:  4,
		QueueLimit:       10,
		URLRedirectLimit: 10,
		ImageFactor:      4,
		VideoFactor:      4,
		RecordFactor:     4,
		LinkFactor:       4,
	}

	if err := Validate(valid); err != nil {
		t.Errorf("expected valid config to pass, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"missing handle", func(c *Config) { c.Handle = "" }},
		{"missing password", func(c *Config) { c.Password = "" }},
		{"missing service did", func(c *Config) { c.ServiceDID = "" }},
		{"zero threads", func(c *Config) { c.NumberOfThreads = 0 }},
		{"zero queue limit", func(c *Config) { c.QueueLimit = 0 }},
		{"zero redirect limit", func(c *Config) { c.URLRedirectLimit = 0 }},
		{"factor below 2", func(c *Config) { c.ImageFactor = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	cfg := Config{Host: "https://bsky.social", Port: 443}
	if got := cfg.BaseURL(); got != "https://bsky.social" {
		t.Errorf("expected default port to be elided, got %q", got)
	}

	cfg.Port = 8080
	if got := cfg.BaseURL(); got != "https://bsky.social:8080" {
		t.Errorf("expected custom port appended, got %q", got)
	}
}
