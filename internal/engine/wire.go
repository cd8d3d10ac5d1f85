package engine

import (
	"fmt"
	"os"

	"github.com/MrSnakeDoc/chiron/internal/cache"
	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/config"
	"github.com/MrSnakeDoc/chiron/internal/netwatch"
	"github.com/MrSnakeDoc/chiron/internal/service"
	"github.com/MrSnakeDoc/chiron/internal/store"
	"github.com/MrSnakeDoc/chiron/internal/stream"
	"github.com/MrSnakeDoc/chiron/internal/summary"
)

type BuildOptions struct {
	Signals <-chan os.Signal
	Clock   clock.Clock
}

// NewCache builds the cache store described by cfg on top of p.
func NewCache(cfg *config.Config, p store.Persister, clk clock.Clock) *cache.Store {
	return cache.New(cache.Options{
		Persister:    p,
		Key:          config.CacheKey,
		Clock:        clk,
		MaxAge:       cfg.Cache.MaxAge,
		Retention:    cfg.Cache.Retention,
		ThrottleTime: cfg.Cache.ThrottleTime,
		RejectOlder:  cfg.Cache.RejectOlder,
	})
}

func NewFetcher(cfg *config.Config) *summary.Fetcher {
	// The fetcher bounds each request itself; the client stays unbounded.
	return summary.New(service.NewHTTPClient(0), cfg.SummaryURL(), cfg.Fetch)
}

// NewDialer returns the stream transport selected by cfg, or nil when
// streaming is disabled.
func NewDialer(cfg *config.Config) (stream.Dialer, error) {
	if !cfg.Stream.Enabled {
		return nil, nil
	}
	switch cfg.Stream.Transport {
	case "sse":
		return &stream.SSEDialer{Client: service.NewHTTPClient(0), URL: cfg.StreamURL()}, nil
	case "websocket":
		u, err := stream.WebSocketURL(cfg.StreamURL())
		if err != nil {
			return nil, err
		}
		return &stream.WebSocketDialer{URL: u}, nil
	default:
		return nil, fmt.Errorf("unknown stream transport %q", cfg.Stream.Transport)
	}
}

// Build assembles a production engine from configuration.
func Build(cfg *config.Config, p store.Persister, opts BuildOptions) (*Engine, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	dialer, err := NewDialer(cfg)
	if err != nil {
		return nil, err
	}

	var watcher *netwatch.Watcher
	if cfg.Netwatch.Enabled {
		addr, err := netwatch.HostPort(cfg.API.BaseURL)
		if err != nil {
			return nil, err
		}
		watcher = &netwatch.Watcher{
			Addr:        addr,
			Interval:    cfg.Netwatch.Interval,
			DialTimeout: cfg.Netwatch.DialTimeout,
			Clock:       clk,
		}
	}

	return New(cfg, Deps{
		Fetcher: NewFetcher(cfg),
		Cache:   NewCache(cfg, p, clk),
		Dialer:  dialer,
		Watcher: watcher,
		Clock:   clk,
		Signals: opts.Signals,
	}), nil
}
