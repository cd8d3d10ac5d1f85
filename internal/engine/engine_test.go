package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/chiron/internal/cache"
	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/config"
	"github.com/MrSnakeDoc/chiron/internal/dashboard"
	"github.com/MrSnakeDoc/chiron/internal/errs"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/store"
	"github.com/MrSnakeDoc/chiron/internal/stream"
)

func TestMain(m *testing.M) {
	logger.UseTestMode()
	os.Exit(m.Run())
}

const (
	wait = 2 * time.Second
	tick = 5 * time.Millisecond
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func payload(score int) string {
	return fmt.Sprintf(`{"generated_at":"2025-05-01T12:00:00Z","hero_gates":[{"name":"Readiness","score":%d,"status":"pass"}],"timeline":[{"time":"12:00","label":"Deploy","impact":"+3","tone":"text-successMint"}]}`, score)
}

func score(t *testing.T, c *cache.Store) int {
	t.Helper()
	snap, ok := c.Get()
	require.True(t, ok, "cache is empty")
	return snap.HeroGates()[0].Score
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.API.BaseURL = baseURL
	cfg.Stream.Enabled = false
	cfg.Netwatch.Enabled = false
	cfg.Cache.Backend = "none"
	return cfg
}

// scoreServer serves the summary with a mutable score.
func scoreServer(t *testing.T) (*httptest.Server, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var current, hits atomic.Int32
	current.Store(82)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(payload(int(current.Load()))))
	}))
	t.Cleanup(srv.Close)
	return srv, &current, &hits
}

func TestRefresh_ValidationKeepsPriorValue(t *testing.T) {
	srv, current, _ := scoreServer(t)
	cfg := testConfig(srv.URL)
	e := New(cfg, Deps{Fetcher: NewFetcher(cfg), Cache: NewCache(cfg, store.NewMemory(), nil)})
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	require.NoError(t, e.Refresh(context.Background()))
	assert.Equal(t, 82, score(t, e.Cache()))
	assert.Equal(t, cache.SourceFetch, e.Cache().Entry().Source)

	current.Store(105)
	err := e.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, 82, score(t, e.Cache()), "stale-while-error")

	st := e.Status()
	assert.ErrorIs(t, st.LastError, errs.ErrValidation)
	assert.True(t, st.HasData)
	assert.False(t, st.Fetching)
	assert.Equal(t, dashboard.Idle, st.Connection)

	current.Store(90)
	require.NoError(t, e.Refresh(context.Background()))
	assert.Nil(t, e.Status().LastError, "a success clears the error")
}

func TestRefresh_NetworkFailureKeepsPriorValue(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(payload(70)))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	e := New(cfg, Deps{Fetcher: NewFetcher(cfg), Cache: NewCache(cfg, nil, nil)})
	defer func() { _ = e.Close(context.Background()) }()

	require.NoError(t, e.Refresh(context.Background()))
	fail.Store(true)
	assert.ErrorIs(t, e.Refresh(context.Background()), errs.ErrNetwork)
	assert.Equal(t, 70, score(t, e.Cache()))
}

// gatedFetcher blocks each call until released, ignoring cancellation, so a
// superseded fetch still completes with data.
type gatedFetcher struct {
	mu    sync.Mutex
	gates []chan dashboard.Snapshot
	calls atomic.Int32
}

func (g *gatedFetcher) Fetch(ctx context.Context) (dashboard.Snapshot, error) {
	ch := make(chan dashboard.Snapshot, 1)
	g.mu.Lock()
	g.gates = append(g.gates, ch)
	g.mu.Unlock()
	g.calls.Add(1)
	return <-ch, nil
}

func (g *gatedFetcher) release(i int, s dashboard.Snapshot) {
	g.mu.Lock()
	ch := g.gates[i]
	g.mu.Unlock()
	ch <- s
}

func snap(n int) dashboard.Snapshot {
	return dashboard.NewSnapshot(t0, []dashboard.HeroGate{{Name: "g", Score: n, Status: dashboard.StatusPass}}, nil)
}

func TestRefresh_SupersededFetchNeverWrites(t *testing.T) {
	f := &gatedFetcher{}
	cfg := testConfig("http://unused:1")
	e := New(cfg, Deps{Fetcher: f, Cache: NewCache(cfg, nil, nil)})
	defer func() { _ = e.Close(context.Background()) }()

	first := make(chan error, 1)
	go func() { first <- e.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, wait, tick)

	second := make(chan error, 1)
	go func() { second <- e.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return f.calls.Load() == 2 }, wait, tick)

	f.release(1, snap(2))
	require.NoError(t, <-second)
	assert.Equal(t, 2, score(t, e.Cache()))

	f.release(0, snap(1))
	assert.ErrorIs(t, <-first, ErrSuperseded)
	assert.Equal(t, 2, score(t, e.Cache()), "the older fetch completed but must not write")
	assert.False(t, e.Status().Fetching)
}

func TestRefresh_SlowCacheSubscriberDoesNotBlockControl(t *testing.T) {
	srv, _, _ := scoreServer(t)
	cfg := testConfig(srv.URL)
	e := New(cfg, Deps{Fetcher: NewFetcher(cfg), Cache: NewCache(cfg, nil, nil)})
	defer func() { _ = e.Close(context.Background()) }()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	e.Cache().Subscribe(func(cache.Entry) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})

	done := make(chan error, 1)
	go func() { done <- e.Refresh(context.Background()) }()
	select {
	case <-entered:
	case <-time.After(wait):
		t.Fatal("cache write never reached the subscriber")
	}

	offline := make(chan struct{})
	go func() {
		e.SetOnline(false)
		close(offline)
	}()
	select {
	case <-offline:
	case <-time.After(wait):
		t.Fatal("SetOnline blocked behind a cache subscriber")
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 82, score(t, e.Cache()))
}

func TestSetOnline_TriggersAndReportsOffline(t *testing.T) {
	srv, _, hits := scoreServer(t)
	cfg := testConfig(srv.URL)
	e := New(cfg, Deps{Fetcher: NewFetcher(cfg), Cache: NewCache(cfg, nil, nil)})
	defer func() { _ = e.Close(context.Background()) }()

	e.SetOnline(false)
	assert.Equal(t, dashboard.Offline, e.Status().Connection)
	assert.False(t, e.Status().Online)

	e.SetOnline(true)
	require.Eventually(t, func() bool { return hits.Load() == 1 }, wait, tick)
	require.Eventually(t, func() bool { return e.Status().HasData }, wait, tick)
}

func TestFocus_RateLimitedThroughEngine(t *testing.T) {
	srv, _, hits := scoreServer(t)
	clk := clock.Fake(t0)
	cfg := testConfig(srv.URL)
	e := New(cfg, Deps{Fetcher: NewFetcher(cfg), Cache: NewCache(cfg, nil, clk), Clock: clk})
	defer func() { _ = e.Close(context.Background()) }()

	e.Focus()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, wait, tick)
	clk.Advance(10 * time.Second)
	e.Focus()
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, hits.Load())
}

func TestRun_SeedsActivatesAndStreams(t *testing.T) {
	var streamed atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc(config.SummaryPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(payload(50)))
	})
	mux.HandleFunc(config.StreamPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "data: %s\n\n", payload(60))
		w.(http.Flusher).Flush()
		streamed.Store(true)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Stream.Enabled = true
	cfg.Cache.Backend = "file"
	cfg.Cache.StateDir = t.TempDir()

	p, err := store.Open(cfg.Cache, config.CacheKey)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	e, err := Build(cfg, p, BuildOptions{})
	require.NoError(t, err)

	var mu sync.Mutex
	var sources []cache.Source
	e.Cache().Subscribe(func(en cache.Entry) {
		mu.Lock()
		sources = append(sources, en.Source)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		var fromFetch, fromStream bool
		for _, s := range sources {
			fromFetch = fromFetch || s == cache.SourceFetch
			fromStream = fromStream || s == cache.SourceStream
		}
		return fromFetch && fromStream
	}, wait, tick)
	assert.True(t, streamed.Load())
	require.Eventually(t, func() bool { return e.Status().Connection == dashboard.Streaming }, wait, tick)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, dashboard.Idle, e.Status().Connection)

	rec, ok, err := p.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok, "close flushes the cache")
	assert.Equal(t, config.CacheKey, rec.Key)
}

func TestClose_RefusesNewWork(t *testing.T) {
	cfg := testConfig("http://unused:1")
	e := New(cfg, Deps{Fetcher: &gatedFetcher{}, Cache: NewCache(cfg, nil, nil)})
	require.NoError(t, e.Close(context.Background()))

	assert.True(t, errors.Is(e.Refresh(context.Background()), context.Canceled))
	e.Trigger()
}

func TestNewDialer(t *testing.T) {
	cfg := config.Default()
	cfg.Stream.Enabled = false
	d, err := NewDialer(cfg)
	require.NoError(t, err)
	assert.Nil(t, d)

	cfg.Stream.Enabled = true
	cfg.Stream.Transport = "websocket"
	d, err = NewDialer(cfg)
	require.NoError(t, err)
	require.NotNil(t, d)
	ws, ok := d.(*stream.WebSocketDialer)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ws.URL, "ws://"))
}
