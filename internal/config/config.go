package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Timezone  string          `json:"timezone" yaml:"timezone"`
	Feed      FeedConfig      `json:"feed" yaml:"feed"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Warehouse WarehouseConfig `json:"warehouse" yaml:"warehouse"`
	External  ExternalConfig  `json:"external" yaml:"external"`
	Blob      BlobConfig      `json:"blob" yaml:"blob"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	API       APIConfig       `json:"api" yaml:"api"`
	Incidents IncidentsConfig `json:"incidents" yaml:"incidents"`
}

type FeedConfig struct {
	URL       string        `json:"url" yaml:"url"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type WarehouseConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Addr        []string      `json:"addr" yaml:"addr"`
	Database    string        `json:"database" yaml:"database"`
	User        string        `json:"user" yaml:"user"`
	Password    string        `json:"password" yaml:"password"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

type ExternalConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	URL             string        `json:"url" yaml:"url"`
	APIKey          string        `json:"api_key" yaml:"api_key"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	BreakerFailures uint32        `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`
}

type BlobConfig struct {
	URL    string `json:"url" yaml:"url"`
	Prefix string `json:"prefix" yaml:"prefix"`
}

type SchedulerConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Workers  int           `json:"workers" yaml:"workers"`
}

type QueueConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type IncidentsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Timezone:  "UTC",
		Feed: FeedConfig{
			Timeout:   30 * time.Second,
			UserAgent: "trafficfeed/1.0",
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:trafficfeed.db?_pragma=busy_timeout(5000)"},
		Warehouse: WarehouseConfig{
			Enabled:     false,
			Addr:        []string{"localhost:9000"},
			Database:    "default",
			User:        "default",
			DialTimeout: 10 * time.Second,
		},
		External: ExternalConfig{
			Enabled:         false,
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: time.Minute,
		},
		Blob:      BlobConfig{URL: "file:///var/lib/trafficfeed/blobs"},
		Scheduler: SchedulerConfig{Enabled: true, Interval: 10 * time.Minute, Workers: 4},
		Queue:     QueueConfig{Enabled: false, Topic: "trafficfeed-cases", GroupID: "trafficfeed"},
		API:       APIConfig{Enabled: true, Addr: ":8080"},
		Incidents: IncidentsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

// applyEnv lets secrets stay out of the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("WAREHOUSE_PASSWORD"); v != "" {
		cfg.Warehouse.Password = v
	}
	if v := os.Getenv("EXTERNAL_API_KEY"); v != "" {
		cfg.External.APIKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Feed.Timeout <= 0 {
		cfg.Feed.Timeout = 30 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Warehouse.DialTimeout <= 0 {
		cfg.Warehouse.DialTimeout = 10 * time.Second
	}
	if cfg.External.Timeout <= 0 {
		cfg.External.Timeout = 30 * time.Second
	}
	if cfg.External.BreakerCooldown <= 0 {
		cfg.External.BreakerCooldown = time.Minute
	}
	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = 10 * time.Minute
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Incidents.StoreLimit <= 0 {
		cfg.Incidents.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Feed.URL) == "" {
		return errors.New("feed.url required")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql", "badger":
	default:
		return fmt.Errorf("storage.driver unsupported: %q", cfg.Storage.Driver)
	}
	if cfg.Blob.URL == "" {
		return errors.New("blob.url required")
	}
	if cfg.Warehouse.Enabled && len(cfg.Warehouse.Addr) == 0 {
		return errors.New("warehouse.addr required when warehouse.enabled is true")
	}
	if cfg.External.Enabled && (cfg.External.URL == "" || cfg.External.APIKey == "") {
		return errors.New("external.url and external.api_key required when external.enabled is true")
	}
	if cfg.Queue.Enabled {
		if len(cfg.Queue.Brokers) == 0 || cfg.Queue.Topic == "" || cfg.Queue.GroupID == "" {
			return errors.New("queue requires brokers, topic, group_id")
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	return nil
}

// Location resolves the configured timezone; Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
