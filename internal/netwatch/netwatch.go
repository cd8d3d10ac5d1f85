package netwatch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/logger"
)

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Watcher probes the API host over TCP and reports online/offline
// transitions. The first probe only reports when it finds the host down,
// since callers start out assuming they are online.
type Watcher struct {
	Addr        string
	Interval    time.Duration
	DialTimeout time.Duration
	Clock       clock.Clock
	Dial        DialFunc
	OnChange    func(online bool)

	mu     sync.Mutex
	online bool
	probed bool
}

// HostPort derives host:port from the API base URL.
func HostPort(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func (w *Watcher) Run(ctx context.Context) error {
	clk := w.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := logger.Named("netwatch")

	w.Check(ctx)
	t := clk.NewTicker(w.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			online := w.Check(ctx)
			log.Debugw("probe", "addr", w.Addr, "online", online)
		}
	}
}

// Check probes once and fires OnChange on a transition.
func (w *Watcher) Check(ctx context.Context) bool {
	online := w.probe(ctx)
	if ctx.Err() != nil {
		return w.Online()
	}

	w.mu.Lock()
	changed := (!w.probed && !online) || (w.probed && online != w.online)
	w.online = online
	w.probed = true
	w.mu.Unlock()

	if changed && w.OnChange != nil {
		if online {
			logger.Info("API host %s is reachable again", w.Addr)
		} else {
			logger.Warn("API host %s is unreachable", w.Addr)
		}
		w.OnChange(online)
	}
	return online
}

// Online reports the last probe result, true before the first probe.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.probed || w.online
}

func (w *Watcher) probe(ctx context.Context) bool {
	dial := w.Dial
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}
	timeout := w.DialTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(ctx, "tcp", w.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
