package netwatch

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/logger"
)

func TestMain(m *testing.M) {
	logger.UseTestMode()
	os.Exit(m.Run())
}

func TestHostPort(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8000":   "localhost:8000",
		"https://dash.example":    "dash.example:443",
		"http://dash.example/api": "dash.example:80",
		"http://[::1]:9000":       "[::1]:9000",
	}
	for in, want := range tests {
		got, err := HostPort(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := HostPort("not a url")
	assert.Error(t, err)
}

// switchDialer succeeds while up is set.
type switchDialer struct{ up atomic.Bool }

func (s *switchDialer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if !s.up.Load() {
		return nil, errors.New("connection refused")
	}
	c1, c2 := net.Pipe()
	_ = c2.Close()
	return c1, nil
}

func TestCheck_ReportsTransitionsOnly(t *testing.T) {
	d := &switchDialer{}
	d.up.Store(true)

	var mu sync.Mutex
	var changes []bool
	w := &Watcher{Addr: "api:80", Dial: d.dial, OnChange: func(online bool) {
		mu.Lock()
		changes = append(changes, online)
		mu.Unlock()
	}}

	ctx := context.Background()
	assert.True(t, w.Check(ctx))
	assert.True(t, w.Check(ctx))
	d.up.Store(false)
	assert.False(t, w.Check(ctx))
	assert.False(t, w.Check(ctx))
	assert.False(t, w.Online())
	d.up.Store(true)
	assert.True(t, w.Check(ctx))

	assert.Equal(t, []bool{false, true}, changes)
}

func TestCheck_FirstProbeDown(t *testing.T) {
	d := &switchDialer{}
	var changes []bool
	w := &Watcher{Addr: "api:80", Dial: d.dial, OnChange: func(online bool) { changes = append(changes, online) }}

	assert.True(t, w.Online(), "online until proven otherwise")
	w.Check(context.Background())
	assert.Equal(t, []bool{false}, changes)
}

func TestCheck_RealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	w := &Watcher{Addr: addr, DialTimeout: time.Second}
	assert.True(t, w.Check(context.Background()))

	require.NoError(t, ln.Close())
	assert.False(t, w.Check(context.Background()))
}

func TestRun_ProbesOnInterval(t *testing.T) {
	clk := clock.Fake(time.Now())
	d := &switchDialer{}
	d.up.Store(true)

	changes := make(chan bool, 4)
	w := &Watcher{
		Addr:     "api:80",
		Interval: 10 * time.Second,
		Clock:    clk,
		Dial:     d.dial,
		OnChange: func(online bool) { changes <- online },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	clk.WaitForTimers(1)
	d.up.Store(false)
	clk.Advance(10 * time.Second)

	select {
	case online := <-changes:
		assert.False(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("no transition reported")
	}
}
