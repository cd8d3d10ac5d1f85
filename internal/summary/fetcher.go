package summary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/MrSnakeDoc/chiron/internal/config"
	"github.com/MrSnakeDoc/chiron/internal/dashboard"
	"github.com/MrSnakeDoc/chiron/internal/errs"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/service"
	"github.com/MrSnakeDoc/chiron/internal/utils"
)

const op = "fetch summary"

// Fetcher performs one-shot reads of the dashboard summary. It never
// retries and has no side effects; callers decide what to do with the result.
type Fetcher struct {
	client  service.HTTPClient
	url     string
	timeout time.Duration
	maxBody int64
	breaker *gobreaker.CircuitBreaker[dashboard.Snapshot]
}

func New(client service.HTTPClient, url string, cfg config.FetchConfig) *Fetcher {
	f := &Fetcher{
		client:  client,
		url:     url,
		timeout: cfg.Timeout,
		maxBody: cfg.MaxBodyBytes,
	}
	if cfg.Breaker.Enabled {
		f.breaker = newBreaker(cfg.Breaker)
	}
	return f
}

func newBreaker(cfg config.BreakerConfig) *gobreaker.CircuitBreaker[dashboard.Snapshot] {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	log := logger.Named("summary")
	return gobreaker.NewCircuitBreaker[dashboard.Snapshot](gobreaker.Settings{
		Name:        "summary",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// Only transport trouble should open the breaker; a bad payload or
		// a caller cancelling is not evidence the server is down.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, errs.ErrValidation) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Fetch returns a validated snapshot, or an *errs.Error classified as
// NETWORK (transport, status, body read, cancellation, open breaker) or
// VALIDATION (schema, oversize body).
func (f *Fetcher) Fetch(ctx context.Context) (dashboard.Snapshot, error) {
	if f.breaker == nil {
		return f.fetch(ctx)
	}
	snap, err := f.breaker.Execute(func() (dashboard.Snapshot, error) {
		return f.fetch(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return dashboard.Snapshot{}, errs.New(errs.Network, op, err)
	}
	return snap, err
}

func (f *Fetcher) fetch(ctx context.Context) (dashboard.Snapshot, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	resp, err := service.Get(ctx, f.client, f.url, "application/json")
	if err != nil {
		return dashboard.Snapshot{}, errs.New(errs.Network, op, err)
	}
	defer utils.Close(resp.Body)

	body, err := readLimited(resp.Body, f.maxBody)
	if err != nil {
		return dashboard.Snapshot{}, err
	}

	snap, err := dashboard.Parse(body)
	if err != nil {
		return dashboard.Snapshot{}, err
	}
	logger.Debug("fetched summary generated at %s (%d gates, %d timeline entries)",
		snap.GeneratedAt().Format(time.RFC3339), len(snap.HeroGates()), len(snap.Timeline()))
	return snap, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, errs.New(errs.Network, op, fmt.Errorf("read body: %w", err))
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errs.New(errs.Network, op, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > limit {
		return nil, errs.Validationf(op, "response body exceeds %d bytes", limit)
	}
	return body, nil
}
