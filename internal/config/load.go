package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	PathEnvVar = "CHIRON_CONFIG"
	configDir  = ".config/chiron"
	configFile = "config.yml"
)

// legacyEnv keeps the variable the web front-end used for the API address.
var legacyEnv = map[string]string{
	"next_public_api_base_url": "api.base_url",
}

var chironEnv = map[string]string{
	"chiron_api_base_url":          "api.base_url",
	"chiron_fetch_timeout":         "fetch.timeout",
	"chiron_refetch_interval":      "fetch.refetch_interval",
	"chiron_stream_enabled":        "stream.enabled",
	"chiron_stream_transport":      "stream.transport",
	"chiron_sync_min_interval":     "sync.min_interval",
	"chiron_persist_backend":       "cache.backend",
	"chiron_state_dir":             "cache.state_dir",
	"chiron_cache_max_age":         "cache.max_age",
	"chiron_cache_reject_older":    "cache.reject_older",
	"chiron_netwatch_enabled":      "netwatch.enabled",
	"chiron_metrics_addr":          "metrics.addr",
	"chiron_fetch_breaker_enabled": "fetch.breaker.enabled",
}

// envMapper maps known variables onto config keys. Unmapped variables and
// variables that are set but empty are skipped, so an empty export never
// masks the file or a lower-priority variable.
func envMapper(table map[string]string) func(string, string) (string, any) {
	return func(key, value string) (string, any) {
		if strings.TrimSpace(value) == "" {
			return "", nil
		}
		return table[strings.ToLower(key)], value
	}
}

// DefaultPath is ~/.config/chiron/config.yml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, configDir, configFile), nil
}

// Load layers defaults, the YAML file and the environment, in that order.
// An explicit path must exist; the default path is optional.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envMapper(legacyEnv)), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := k.Load(env.ProviderWithValue("CHIRON_", ".", envMapper(chironEnv)), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}

	def, err := DefaultPath()
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(def); err != nil {
		return "", nil
	}
	return def, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("api.base_url: missing host")
	}

	positive := map[string]time.Duration{
		"fetch.timeout":          c.Fetch.Timeout,
		"fetch.refetch_interval": c.Fetch.RefetchInterval,
		"stream.base_delay":      c.Stream.BaseDelay,
		"stream.max_delay":       c.Stream.MaxDelay,
		"sync.min_interval":      c.Sync.MinInterval,
		"cache.max_age":          c.Cache.MaxAge,
		"cache.retention":        c.Cache.Retention,
		"netwatch.interval":      c.Netwatch.Interval,
		"netwatch.dial_timeout":  c.Netwatch.DialTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Stream.MaxDelay < c.Stream.BaseDelay {
		return fmt.Errorf("stream.max_delay (%s) is below stream.base_delay (%s)", c.Stream.MaxDelay, c.Stream.BaseDelay)
	}
	if c.Cache.Retention < c.Cache.MaxAge {
		return fmt.Errorf("cache.retention (%s) is below cache.max_age (%s)", c.Cache.Retention, c.Cache.MaxAge)
	}
	if c.Fetch.StaleTime < 0 || c.Cache.ThrottleTime < 0 {
		return fmt.Errorf("fetch.stale_time and cache.throttle_time must not be negative")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be positive")
	}

	switch c.Stream.Transport {
	case "sse", "websocket":
	default:
		return fmt.Errorf("stream.transport: unknown transport %q (want sse or websocket)", c.Stream.Transport)
	}
	switch c.Cache.Backend {
	case "file", "badger", "none":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q (want file, badger or none)", c.Cache.Backend)
	}
	if c.Cache.Backend != "none" && c.Cache.StateDir == "" {
		return fmt.Errorf("cache.state_dir is required for the %s backend", c.Cache.Backend)
	}
	return nil
}

// Encode renders the configuration as YAML with durations spelled out ("45s").
func (c *Config) Encode() ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(c, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to flatten config: %w", err)
	}

	tree := map[string]any{}
	for key, v := range k.All() {
		if d, ok := v.(time.Duration); ok {
			v = d.String()
		}
		setPath(tree, strings.Split(key, "."), v)
	}

	data, err := yamlv3.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func (c *Config) Save(path string) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setPath(tree map[string]any, parts []string, v any) {
	for _, p := range parts[:len(parts)-1] {
		next, ok := tree[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			tree[p] = next
		}
		tree = next
	}
	tree[parts[len(parts)-1]] = v
}
