package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/chiron/internal/cache"
	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/config"
	"github.com/MrSnakeDoc/chiron/internal/coordinator"
	"github.com/MrSnakeDoc/chiron/internal/dashboard"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/metrics"
	"github.com/MrSnakeDoc/chiron/internal/netwatch"
	"github.com/MrSnakeDoc/chiron/internal/scheduler"
	"github.com/MrSnakeDoc/chiron/internal/stream"
)

// ErrSuperseded is returned by a Refresh that a newer Refresh replaced.
var ErrSuperseded = errors.New("refresh superseded by a newer one")

type Fetcher interface {
	Fetch(ctx context.Context) (dashboard.Snapshot, error)
}

// Status is the flag set a presentation layer renders.
type Status struct {
	Connection  dashboard.ConnectionState
	Online      bool
	Fetching    bool
	LastFetchAt time.Time
	LastError   error
	LastEventAt time.Time
	StreamError error
	HasData     bool
	Stale       bool
	UpdatedAt   time.Time
	Source      cache.Source
}

type Deps struct {
	Fetcher Fetcher
	Cache   *cache.Store
	// Dialer is nil when streaming is disabled.
	Dialer stream.Dialer
	// Watcher is optional; without it the engine stays online until told otherwise.
	Watcher *netwatch.Watcher
	Clock   clock.Clock
	Signals <-chan os.Signal
}

// Engine wires fetcher, stream, cache and coordinator together.
type Engine struct {
	cfg     *config.Config
	clk     clock.Clock
	log     *zap.SugaredLogger
	fetcher Fetcher
	cache   *cache.Store
	stream  *stream.Client
	coord   *coordinator.Coordinator
	poller  *scheduler.Poller
	watcher *netwatch.Watcher
	signals <-chan os.Signal

	// refreshMu guards the refresh generation and its cancel func.
	refreshMu sync.Mutex
	// writeMu orders fetch results into the cache.
	writeMu   sync.Mutex
	gen       uint64
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
	closed    bool

	mu          sync.Mutex
	online      bool
	fetching    int
	lastFetchAt time.Time
	lastError   error
	subs        map[int]func(Status)
	nextSub     int
}

func New(cfg *config.Config, deps Deps) *Engine {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	e := &Engine{
		cfg:     cfg,
		clk:     clk,
		log:     logger.Named("engine"),
		fetcher: deps.Fetcher,
		cache:   deps.Cache,
		watcher: deps.Watcher,
		signals: deps.Signals,
		online:  true,
		subs:    map[int]func(Status){},
	}

	e.coord = coordinator.New(coordinator.Options{
		Trigger:     e.onTrigger,
		Clock:       clk,
		MinInterval: cfg.Sync.MinInterval,
	})

	e.poller = &scheduler.Poller{
		Interval:  cfg.Fetch.RefetchInterval,
		StaleTime: cfg.Fetch.StaleTime,
		Clock:     clk,
		Refresh:   e.Refresh,
		Age: func() (time.Duration, bool, bool) {
			en := e.cache.Entry()
			return en.Age(e.clk.Now()), en.Stale, en.Present
		},
		Online: e.isOnline,
	}

	if deps.Dialer != nil {
		e.stream = stream.New(stream.Options{
			Dialer:    deps.Dialer,
			Sink:      func(s dashboard.Snapshot) { e.cache.Set(s, cache.SourceStream) },
			Clock:     clk,
			BaseDelay: cfg.Stream.BaseDelay,
			MaxDelay:  cfg.Stream.MaxDelay,
			OnError: func(err error) {
				e.log.Debugw("stream error", "error", err)
				e.notify()
			},
		})
		e.stream.Subscribe(func(dashboard.ConnectionState) { e.notify() })
	}

	if e.watcher != nil {
		e.watcher.OnChange = e.SetOnline
	}
	return e
}

func (e *Engine) Cache() *cache.Store { return e.cache }

// Refresh fetches the summary and writes it to the cache. A newer Refresh
// cancels this one; a cancelled or superseded fetch never writes the cache.
// On failure the cache keeps its value and the error shows up in Status.
func (e *Engine) Refresh(ctx context.Context) error {
	e.refreshMu.Lock()
	if e.closed {
		e.refreshMu.Unlock()
		return context.Canceled
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.refreshMu.Unlock()
	defer cancel()

	e.setFetching(+1)
	start := e.clk.Now()
	snap, err := e.fetcher.Fetch(ctx)

	// writeMu is taken before the currency check so a newer refresh cannot
	// write between the check and Set; refreshMu is released before Set so
	// cache subscribers never run under it.
	e.writeMu.Lock()
	e.refreshMu.Lock()
	current := gen == e.gen && ctx.Err() == nil
	if current {
		e.cancel = nil
	}
	e.refreshMu.Unlock()
	if current && err == nil {
		e.cache.Set(snap, cache.SourceFetch)
	}
	e.writeMu.Unlock()

	if !current {
		metrics.FetchTotal.WithLabelValues("superseded").Inc()
		e.setFetching(-1)
		e.log.Debugw("fetch superseded", "error", err)
		return ErrSuperseded
	}

	metrics.RecordFetch(e.clk.Now().Sub(start), err)
	e.finishFetch(err)
	if err != nil {
		e.log.Infow("refresh failed", "error", err)
		return err
	}
	return nil
}

// Trigger marks the cache stale and refreshes in the background.
func (e *Engine) Trigger() {
	e.refreshMu.Lock()
	if e.closed {
		e.refreshMu.Unlock()
		return
	}
	e.inflight.Add(1)
	e.refreshMu.Unlock()

	e.cache.Invalidate()
	go func() {
		defer e.inflight.Done()
		_ = e.Refresh(context.Background())
	}()
}

func (e *Engine) onTrigger(reason coordinator.Reason) {
	e.log.Debugw("sync triggered", "reason", reason)
	e.Trigger()
}

// SetOnline forwards connectivity to the stream and the coordinator.
// Going online always triggers a refresh.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()

	if e.stream != nil {
		e.stream.SetOnline(online)
	}
	if online {
		e.coord.Online()
	} else {
		e.coord.Offline()
		e.cancelInflight()
	}
	e.notify()
}

func (e *Engine) Focus()   { e.coord.Focus() }
func (e *Engine) Visible() { e.coord.Visible() }

// Run seeds the cache, starts the stream, fires the activation refresh and
// then drives the poller, the connectivity watcher and signals until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.cache.Seed(ctx); err != nil {
		logger.Warn("could not restore cached dashboard: %v", err)
	}
	if e.stream != nil {
		e.stream.SetEnabled(true)
	}
	e.coord.Activate()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.poller.Run(ctx) })
	if e.watcher != nil {
		g.Go(func() error { return e.watcher.Run(ctx) })
	}
	if e.signals != nil {
		g.Go(func() error { return e.relaySignals(ctx) })
	}
	return g.Wait()
}

func (e *Engine) relaySignals(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-e.signals:
			if !ok {
				return nil
			}
			switch reason, _ := signalReason(sig); reason {
			case coordinator.ReasonFocus:
				e.Focus()
			case coordinator.ReasonVisible:
				e.Visible()
			}
		}
	}
}

// Close stops background work, tears down the stream and flushes the cache.
func (e *Engine) Close(ctx context.Context) error {
	e.refreshMu.Lock()
	e.closed = true
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.refreshMu.Unlock()

	e.inflight.Wait()
	if e.stream != nil {
		e.stream.Close()
	}
	return e.cache.Flush(ctx)
}

func (e *Engine) Status() Status {
	en := e.cache.Entry()

	e.mu.Lock()
	st := Status{
		Online:      e.online,
		Fetching:    e.fetching > 0,
		LastFetchAt: e.lastFetchAt,
		LastError:   e.lastError,
	}
	e.mu.Unlock()

	st.HasData = en.Present
	st.Stale = en.Stale
	st.UpdatedAt = en.UpdatedAt
	st.Source = en.Source

	switch {
	case !st.Online:
		st.Connection = dashboard.Offline
	case e.stream != nil:
		st.Connection = e.stream.State()
	default:
		st.Connection = dashboard.Idle
	}
	if e.stream != nil {
		stats := e.stream.Stats()
		st.LastEventAt = stats.LastEventAt
		st.StreamError = stats.LastError
	}
	return st
}

// Subscribe registers fn for status changes. fn runs on the goroutine that
// caused the change and must not call Refresh or SetOnline.
func (e *Engine) Subscribe(fn func(Status)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) isOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

func (e *Engine) cancelInflight() {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) setFetching(delta int) {
	e.mu.Lock()
	e.fetching += delta
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) finishFetch(err error) {
	e.mu.Lock()
	e.fetching--
	e.lastError = err
	if err == nil {
		e.lastFetchAt = e.clk.Now()
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) notify() {
	e.mu.Lock()
	subs := make([]func(Status), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	st := e.Status()
	for _, fn := range subs {
		fn(st)
	}
}
