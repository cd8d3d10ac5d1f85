package coordinator

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/metrics"
)

type Reason string

const (
	ReasonActivate Reason = "activate"
	ReasonVisible  Reason = "visible"
	ReasonFocus    Reason = "focus"
	ReasonOnline   Reason = "online"
)

type Options struct {
	// Trigger runs on the caller's goroutine; it should start work, not block.
	Trigger     func(Reason)
	Clock       clock.Clock
	MinInterval time.Duration
}

// Coordinator turns lifecycle signals into refresh triggers. Visibility and
// focus are rate limited to one trigger per MinInterval; coming online always
// fires and restarts the window.
type Coordinator struct {
	trigger  func(Reason)
	clk      clock.Clock
	interval time.Duration
	log      *zap.SugaredLogger

	mu        sync.Mutex
	limiter   *rate.Limiter
	online    bool
	activated bool
}

func New(opts Options) *Coordinator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Coordinator{
		trigger:  opts.Trigger,
		clk:      clk,
		interval: opts.MinInterval,
		log:      logger.Named("sync"),
		limiter:  rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		online:   true,
	}
}

// Activate fires once, the first time it is called while online.
func (c *Coordinator) Activate() {
	c.mu.Lock()
	if c.activated || !c.online {
		c.mu.Unlock()
		c.record(ReasonActivate, "skipped")
		return
	}
	c.activated = true
	c.restartWindowLocked()
	c.mu.Unlock()

	c.fire(ReasonActivate)
}

func (c *Coordinator) Visible() { c.maybe(ReasonVisible) }

func (c *Coordinator) Focus() { c.maybe(ReasonFocus) }

// Online always fires, even inside the current window.
func (c *Coordinator) Online() {
	c.mu.Lock()
	c.online = true
	c.activated = true
	c.restartWindowLocked()
	c.mu.Unlock()

	c.fire(ReasonOnline)
}

func (c *Coordinator) Offline() {
	c.mu.Lock()
	c.online = false
	c.mu.Unlock()
	c.log.Debugw("offline")
}

func (c *Coordinator) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Coordinator) maybe(reason Reason) {
	c.mu.Lock()
	if !c.online {
		c.mu.Unlock()
		c.record(reason, "offline")
		return
	}
	allowed := c.limiter.AllowN(c.clk.Now(), 1)
	c.mu.Unlock()

	if !allowed {
		c.record(reason, "throttled")
		return
	}
	c.fire(reason)
}

// restartWindowLocked replaces the limiter and spends its only token, so the
// next non-forced trigger waits a full interval from now.
func (c *Coordinator) restartWindowLocked() {
	c.limiter = rate.NewLimiter(rate.Every(c.interval), 1)
	c.limiter.AllowN(c.clk.Now(), 1)
}

func (c *Coordinator) fire(reason Reason) {
	c.record(reason, "fired")
	if c.trigger != nil {
		c.trigger(reason)
	}
}

func (c *Coordinator) record(reason Reason, result string) {
	metrics.SyncTriggers.WithLabelValues(string(reason), result).Inc()
	c.log.Debugw("sync signal", "reason", reason, "result", result)
}
