package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
feed:
  url: https://feed.example.com/rtserver
timezone: America/Sao_Paulo
scheduler:
  interval: 5m
storage:
  driver: badger
  dsn: /tmp/dedup
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Feed.URL != "https://feed.example.com/rtserver" {
		t.Fatalf("feed url: %s", cfg.Feed.URL)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("interval: %s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Fatalf("workers default: %d", cfg.Scheduler.Workers)
	}
	if cfg.Feed.Timeout != 30*time.Second {
		t.Fatalf("feed timeout default: %s", cfg.Feed.Timeout)
	}
	if cfg.Location().String() != "America/Sao_Paulo" {
		t.Fatalf("location: %s", cfg.Location())
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"feed":{"url":"http://localhost/feed"},"log_level":"debug"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("EXTERNAL_API_KEY", "from-env")
	path := writeFile(t, "config.yaml", `
feed:
  url: http://localhost/feed
external:
  enabled: true
  url: https://acct.example.com/api/v2/sql
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.External.APIKey != "from-env" {
		t.Fatalf("api key: %q", cfg.External.APIKey)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"missing feed url": func(c *Config) { c.Feed.URL = "" },
		"bad driver":       func(c *Config) { c.Storage.Driver = "mongo" },
		"bad timezone":     func(c *Config) { c.Timezone = "Nowhere/Special" },
		"external no key": func(c *Config) {
			c.External.Enabled = true
			c.External.URL = "https://x"
		},
		"queue no brokers": func(c *Config) { c.Queue.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		cfg.Feed.URL = "http://localhost/feed"
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.yaml", "   \n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty config")
	}
}
