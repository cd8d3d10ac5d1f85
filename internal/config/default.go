package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	// CacheKey doubles as the persistence key and the cache buster: a
	// persisted record written under another key is discarded.
	CacheKey = "chiron-dashboard-cache-v1"

	SummaryPath = "/api/v1/dashboard/summary"
	StreamPath  = "/api/v1/dashboard/stream"
)

type Config struct {
	API      APIConfig      `koanf:"api"`
	Fetch    FetchConfig    `koanf:"fetch"`
	Stream   StreamConfig   `koanf:"stream"`
	Sync     SyncConfig     `koanf:"sync"`
	Cache    CacheConfig    `koanf:"cache"`
	Netwatch NetwatchConfig `koanf:"netwatch"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

type APIConfig struct {
	BaseURL string `koanf:"base_url"`
}

type FetchConfig struct {
	Timeout         time.Duration `koanf:"timeout"`
	RefetchInterval time.Duration `koanf:"refetch_interval"`
	StaleTime       time.Duration `koanf:"stale_time"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	Breaker         BreakerConfig `koanf:"breaker"`
}

type BreakerConfig struct {
	Enabled             bool          `koanf:"enabled"`
	ConsecutiveFailures uint32        `koanf:"consecutive_failures"`
	OpenTimeout         time.Duration `koanf:"open_timeout"`
}

type StreamConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Transport string        `koanf:"transport"` // "sse" | "websocket"
	BaseDelay time.Duration `koanf:"base_delay"`
	MaxDelay  time.Duration `koanf:"max_delay"`
}

type SyncConfig struct {
	MinInterval time.Duration `koanf:"min_interval"`
}

type CacheConfig struct {
	Backend      string        `koanf:"backend"` // "file" | "badger" | "none"
	StateDir     string        `koanf:"state_dir"`
	MaxAge       time.Duration `koanf:"max_age"`
	Retention    time.Duration `koanf:"retention"`
	ThrottleTime time.Duration `koanf:"throttle_time"`
	RejectOlder  bool          `koanf:"reject_older"`
}

type NetwatchConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Interval    time.Duration `koanf:"interval"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

func Default() *Config {
	return &Config{
		API: APIConfig{BaseURL: DefaultBaseURL},
		Fetch: FetchConfig{
			Timeout:         10 * time.Second,
			RefetchInterval: 60 * time.Second,
			StaleTime:       15 * time.Second,
			MaxBodyBytes:    4 << 20,
			Breaker: BreakerConfig{
				Enabled:             false,
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
			},
		},
		Stream: StreamConfig{
			Enabled:   true,
			Transport: "sse",
			BaseDelay: 5 * time.Second,
			MaxDelay:  30 * time.Second,
		},
		Sync: SyncConfig{MinInterval: 45 * time.Second},
		Cache: CacheConfig{
			Backend:      "file",
			StateDir:     defaultStateDir(),
			MaxAge:       30 * time.Minute,
			Retention:    24 * time.Hour,
			ThrottleTime: 2 * time.Second,
		},
		Netwatch: NetwatchConfig{
			Enabled:     true,
			Interval:    10 * time.Second,
			DialTimeout: 3 * time.Second,
		},
	}
}

func (c *Config) SummaryURL() string { return c.API.BaseURL + SummaryPath }

func (c *Config) StreamURL() string { return c.API.BaseURL + StreamPath }

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "chiron")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "chiron")
	}
	return filepath.Join(home, ".local", "state", "chiron")
}
