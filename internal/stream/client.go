package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/dashboard"
	"github.com/MrSnakeDoc/chiron/internal/errs"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/metrics"
)

// Conn is one open push connection. Next blocks until a payload arrives
// and returns an error once the connection is gone. Close must unblock Next.
type Conn interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens connections. The context passed to Dial lives as long as the
// connection and is cancelled when the client tears it down.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

type Options struct {
	Dialer Dialer
	// Sink receives every valid snapshot, in arrival order.
	Sink  func(dashboard.Snapshot)
	Clock clock.Clock

	BaseDelay time.Duration
	MaxDelay  time.Duration

	// OnError is called for malformed messages and for connection faults.
	OnError func(error)
}

type Stats struct {
	ConnID          string
	Failures        int // consecutive, reset on open
	Reconnects      int
	Messages        int
	TransientErrors int
	LastEventAt     time.Time
	LastError       error // cleared by an open or a valid message
	NextRetry       time.Duration
}

// Client keeps at most one push connection open while it is both enabled
// and online, reconnecting with linear backoff after failures.
//
// All connection state is owned by a single event loop goroutine. SetEnabled,
// SetOnline and Close return only after the loop has applied them, so a
// disable has closed the connection and stopped any pending retry by the time
// it returns. Callbacks (Sink, OnError, subscribers) run on the loop and must
// not call back into the client.
type Client struct {
	dialer  Dialer
	sink    func(dashboard.Snapshot)
	onError func(error)
	clk     clock.Clock
	log     *zap.SugaredLogger

	events    chan any
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	state   dashboard.ConnectionState
	stats   Stats
	subs    map[int]func(dashboard.ConnectionState)
	nextSub int

	// loop-owned
	enabled bool
	online  bool
	gen     uint64
	connCtx context.Context
	cancel  context.CancelFunc
	conn    Conn
	timer   clock.Timer
	backoff Backoff
	stopped bool
}

type command struct {
	run func()
	ack chan struct{}
}

type opened struct {
	gen  uint64
	conn Conn
}

type dialFailed struct {
	gen uint64
	err error
}

type message struct {
	gen  uint64
	data []byte
}

type closed struct {
	gen uint64
	err error
}

type retry struct{ gen uint64 }

// New starts the client's event loop. The client starts disabled and online.
func New(opts Options) *Client {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	c := &Client{
		dialer:  opts.Dialer,
		sink:    opts.Sink,
		onError: opts.OnError,
		clk:     clk,
		log:     logger.Named("stream"),
		events:  make(chan any),
		done:    make(chan struct{}),
		subs:    map[int]func(dashboard.ConnectionState){},
		online:  true,
		backoff: Backoff{Base: opts.BaseDelay, Max: opts.MaxDelay},
	}
	go c.loop()
	return c
}

func (c *Client) SetEnabled(enabled bool) {
	c.command(func() {
		c.enabled = enabled
		c.reconcile()
	})
}

func (c *Client) SetOnline(online bool) {
	c.command(func() {
		c.online = online
		c.reconcile()
	})
}

// Close tears down the connection and stops the event loop.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.command(func() {
			c.teardown()
			c.setState(dashboard.Idle)
			c.stopped = true
		})
		<-c.done
	})
}

func (c *Client) State() dashboard.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Subscribe registers fn for state changes and returns its cancel func.
func (c *Client) Subscribe(fn func(dashboard.ConnectionState)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Client) command(run func()) {
	ack := make(chan struct{})
	if c.send(command{run: run, ack: ack}) {
		<-ack
	}
}

func (c *Client) send(ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) loop() {
	defer close(c.done)
	for ev := range c.events {
		c.handle(ev)
		if c.stopped {
			return
		}
	}
}

func (c *Client) handle(ev any) {
	switch ev := ev.(type) {
	case command:
		ev.run()
		close(ev.ack)

	case opened:
		if ev.gen != c.gen {
			_ = ev.conn.Close()
			return
		}
		c.conn = ev.conn
		c.backoff.Reset()
		c.updateStats(func(s *Stats) {
			s.Failures = 0
			s.NextRetry = 0
			s.LastError = nil
		})
		c.setState(dashboard.Streaming)
		go c.read(c.connCtx, ev.gen, ev.conn)

	case dialFailed:
		if ev.gen == c.gen {
			c.fail(ev.err)
		}

	case closed:
		if ev.gen == c.gen {
			c.fail(ev.err)
		}

	case message:
		if ev.gen == c.gen {
			c.deliver(ev.data)
		}

	case retry:
		if ev.gen == c.gen && c.State() == dashboard.Reconnecting {
			c.connect()
		}
	}
}

func (c *Client) reconcile() {
	if !c.enabled || !c.online {
		c.teardown()
		if !c.enabled {
			c.setState(dashboard.Idle)
		} else {
			c.setState(dashboard.Offline)
		}
		return
	}

	switch c.State() {
	case dashboard.Idle, dashboard.Offline:
		c.connect()
	}
}

func (c *Client) connect() {
	c.teardown()
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(context.Background())
	c.connCtx, c.cancel = ctx, cancel

	id := uuid.NewString()
	c.updateStats(func(s *Stats) { s.ConnID = id })
	c.setState(dashboard.Connecting)
	c.log.Debugw("dialing", "conn_id", id, "attempt", c.backoff.Failures()+1)

	go func() {
		conn, err := c.dialer.Dial(ctx)
		if err != nil {
			c.send(dialFailed{gen: gen, err: err})
			return
		}
		if !c.send(opened{gen: gen, conn: conn}) {
			_ = conn.Close()
		}
	}()
}

// teardown closes the current connection, cancels an in-flight dial and
// stops the retry timer. Bumping gen drops any event already in flight.
func (c *Client) teardown() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Debugw("close failed", "error", err)
		}
		c.conn = nil
	}
}

func (c *Client) fail(cause error) {
	c.teardown()

	if cause == nil || errors.Is(cause, io.EOF) {
		cause = errors.New("stream closed by server")
	}
	fault := errs.New(errs.StreamFault, "stream connection", cause)

	delay := c.backoff.Next()
	c.updateStats(func(s *Stats) {
		s.Failures = c.backoff.Failures()
		s.Reconnects++
		s.LastError = fault
		s.NextRetry = delay
	})
	c.setState(dashboard.Reconnecting)
	metrics.StreamReconnects.Inc()
	c.log.Infow("stream lost, reconnecting", "error", cause, "delay", delay, "failures", c.backoff.Failures())

	gen := c.gen
	c.timer = c.clk.AfterFunc(delay, func() { c.send(retry{gen: gen}) })

	if c.onError != nil {
		c.onError(fault)
	}
}

func (c *Client) deliver(data []byte) {
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}

	snap, err := dashboard.Parse(data)
	if err != nil {
		metrics.StreamMessages.WithLabelValues("invalid").Inc()
		c.updateStats(func(s *Stats) {
			s.TransientErrors++
			s.LastError = err
		})
		c.log.Warnw("dropping malformed stream message", "error", err)
		if c.onError != nil {
			c.onError(err)
		}
		return
	}

	metrics.StreamMessages.WithLabelValues("ok").Inc()
	now := c.clk.Now()
	c.updateStats(func(s *Stats) {
		s.Messages++
		s.LastEventAt = now
		s.LastError = nil
	})
	if c.sink != nil {
		c.sink(snap)
	}
}

func (c *Client) read(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Next(ctx)
		if err != nil {
			c.send(closed{gen: gen, err: err})
			return
		}
		if !c.send(message{gen: gen, data: data}) {
			return
		}
	}
}

func (c *Client) updateStats(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func (c *Client) setState(s dashboard.ConnectionState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	subs := make([]func(dashboard.ConnectionState), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	metrics.StreamState.Set(float64(s))
	c.log.Debugw("state", "from", prev.String(), "to", s.String())
	for _, fn := range subs {
		fn(s)
	}
}
