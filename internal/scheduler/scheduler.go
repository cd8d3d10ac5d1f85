package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/logger"
)

// Poller re-runs Refresh every Interval while online, skipping when the
// cached value is younger than StaleTime.
type Poller struct {
	Interval  time.Duration
	StaleTime time.Duration
	Clock     clock.Clock

	Refresh func(ctx context.Context) error
	// Age reports how old the cached value is; ok=false means nothing cached.
	Age    func() (age time.Duration, stale bool, ok bool)
	Online func() bool
}

// Run ticks until ctx is done. Refresh errors are logged, never returned:
// a failed poll is retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	t := clk.NewTicker(p.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			if _, err := p.Tick(ctx, false); err != nil && ctx.Err() == nil {
				logger.Debug("poll: refresh failed: %v", err)
			}
		}
	}
}

// Tick applies the gate and refreshes when it passes. ran reports whether
// Refresh was called.
func (p *Poller) Tick(ctx context.Context, force bool) (ran bool, err error) {
	if p.Online != nil && !p.Online() {
		logger.Debug("poll: skip (offline)")
		return false, nil
	}

	var (
		age     time.Duration
		stale   bool
		present bool
	)
	if p.Age != nil {
		age, stale, present = p.Age()
	}
	if !ShouldRefresh(present, stale, age, p.StaleTime, force) {
		logger.Debug("poll: skip (age=%s < %s)", age.Truncate(time.Second), p.StaleTime)
		return false, nil
	}
	return true, p.Refresh(ctx)
}

// ShouldRefresh is the freshness gate: a present, non-stale value younger
// than staleTime is kept unless the refresh is forced.
func ShouldRefresh(present, stale bool, age, staleTime time.Duration, force bool) bool {
	if force || !present || stale {
		return true
	}
	return age >= staleTime
}
