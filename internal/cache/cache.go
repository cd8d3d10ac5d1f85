package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/dashboard"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/metrics"
	"github.com/MrSnakeDoc/chiron/internal/store"
)

type Source string

const (
	SourceFetch     Source = "fetch"
	SourceStream    Source = "stream"
	SourcePersisted Source = "persisted"
)

// Entry is what readers see. Present is false until the first write.
type Entry struct {
	Snapshot  dashboard.Snapshot
	UpdatedAt time.Time
	Source    Source
	Stale     bool
	Present   bool
}

// Age is how long ago the entry was written, as of now.
func (e Entry) Age(now time.Time) time.Duration {
	if !e.Present {
		return 0
	}
	return now.Sub(e.UpdatedAt)
}

type Options struct {
	// Persister is optional; without one the cache lives in memory only.
	Persister store.Persister
	Key       string
	Clock     clock.Clock

	MaxAge       time.Duration
	Retention    time.Duration
	ThrottleTime time.Duration

	// RejectOlder drops writes whose GeneratedAt is older than the current
	// value's. Off by default: the latest arrival wins.
	RejectOlder bool
}

// Store holds the single dashboard snapshot. Writes replace the value
// wholesale; subscribers are notified in write order. Subscribers run on the
// writer's goroutine and must not write back into the store.
type Store struct {
	opts Options
	clk  clock.Clock
	log  *zap.SugaredLogger

	// writeMu serialises mutation plus notification.
	writeMu sync.Mutex

	mu      sync.Mutex
	entry   Entry
	subs    map[int]func(Entry)
	nextSub int

	persistMu sync.Mutex
	dirty     bool
	timer     clock.Timer
}

func New(opts Options) *Store {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		opts: opts,
		clk:  clk,
		log:  logger.Named("cache"),
		subs: map[int]func(Entry){},
	}
}

// Get returns the current snapshot, or false when there is none.
func (s *Store) Get() (dashboard.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry.Snapshot, s.entry.Present
}

func (s *Store) Entry() Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

// Set replaces the current value and clears the stale flag. It reports
// false only when RejectOlder dropped the write.
func (s *Store) Set(snap dashboard.Snapshot, src Source) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.opts.RejectOlder && s.entry.Present && snap.GeneratedAt().Before(s.entry.Snapshot.GeneratedAt()) {
		cur := s.entry.Snapshot.GeneratedAt()
		s.mu.Unlock()
		metrics.CacheRejected.Inc()
		s.log.Debugw("rejected older snapshot", "source", src,
			"generated_at", snap.GeneratedAt(), "current", cur)
		return false
	}
	s.entry = Entry{
		Snapshot:  snap,
		UpdatedAt: s.clk.Now(),
		Source:    src,
		Present:   true,
	}
	e, subs := s.entry, s.subscribersLocked()
	s.mu.Unlock()

	metrics.CacheWrites.WithLabelValues(string(src)).Inc()
	s.schedulePersist()
	notify(subs, e)
	return true
}

// Invalidate marks the value stale. It stays readable.
func (s *Store) Invalidate() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.entry.Present || s.entry.Stale {
		s.mu.Unlock()
		return
	}
	s.entry.Stale = true
	e, subs := s.entry, s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, e)
}

// Subscribe registers fn for every change and returns its cancel func.
func (s *Store) Subscribe(fn func(Entry)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Seed restores the persisted snapshot. A record within MaxAge becomes the
// current value, marked stale so a fetch still runs. Older records are not
// surfaced, and records past Retention or under another key are deleted.
// Seed never overwrites a value that is already present.
func (s *Store) Seed(ctx context.Context) error {
	p := s.opts.Persister
	if p == nil {
		return nil
	}

	rec, ok, err := p.Load(ctx)
	if err != nil {
		return fmt.Errorf("load persisted cache: %w", err)
	}
	if !ok {
		return nil
	}

	if rec.Key != s.opts.Key {
		s.log.Infow("discarding persisted cache with another key", "key", rec.Key, "want", s.opts.Key)
		return s.discard(ctx)
	}

	age := s.clk.Now().Sub(rec.WrittenAt)
	switch {
	case s.opts.Retention > 0 && age > s.opts.Retention:
		s.log.Infow("deleting expired persisted cache", "age", age)
		return s.discard(ctx)
	case s.opts.MaxAge > 0 && age > s.opts.MaxAge:
		s.log.Debugw("persisted cache too old to show", "age", age, "max_age", s.opts.MaxAge)
		return nil
	}

	snap, err := dashboard.Parse(rec.Snapshot)
	if err != nil {
		s.log.Warnw("discarding unreadable persisted cache", "error", err)
		return s.discard(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.entry.Present {
		s.mu.Unlock()
		return nil
	}
	s.entry = Entry{
		Snapshot:  snap,
		UpdatedAt: rec.WrittenAt,
		Source:    SourcePersisted,
		Stale:     true,
		Present:   true,
	}
	e, subs := s.entry, s.subscribersLocked()
	s.mu.Unlock()

	metrics.CacheWrites.WithLabelValues(string(SourcePersisted)).Inc()
	notify(subs, e)
	return nil
}

// Flush writes a pending change now instead of waiting for the throttle.
func (s *Store) Flush(ctx context.Context) error {
	s.persistMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	dirty := s.dirty
	s.dirty = false
	s.persistMu.Unlock()

	if !dirty {
		return nil
	}
	return s.persist(ctx)
}

// Clear drops the in-memory value and the persisted record.
func (s *Store) Clear(ctx context.Context) error {
	s.persistMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.dirty = false
	s.persistMu.Unlock()

	s.writeMu.Lock()
	s.mu.Lock()
	s.entry = Entry{}
	e, subs := s.entry, s.subscribersLocked()
	s.mu.Unlock()
	notify(subs, e)
	s.writeMu.Unlock()

	return s.discard(ctx)
}

func (s *Store) schedulePersist() {
	if s.opts.Persister == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.dirty = true
	if s.timer != nil {
		return
	}
	if s.opts.ThrottleTime <= 0 {
		s.dirty = false
		go s.persistLogged()
		return
	}
	s.timer = s.clk.AfterFunc(s.opts.ThrottleTime, func() {
		s.persistMu.Lock()
		s.timer = nil
		dirty := s.dirty
		s.dirty = false
		s.persistMu.Unlock()
		if dirty {
			s.persistLogged()
		}
	})
}

func (s *Store) persistLogged() {
	if err := s.persist(context.Background()); err != nil {
		s.log.Warnw("persist failed", "error", err)
	}
}

func (s *Store) persist(ctx context.Context) error {
	e := s.Entry()
	if !e.Present {
		return nil
	}
	blob, err := dashboard.Marshal(e.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	rec := store.Record{
		Key:       s.opts.Key,
		WrittenAt: s.clk.Now(),
		Snapshot:  blob,
	}
	if err := s.opts.Persister.Save(ctx, rec); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}

func (s *Store) discard(ctx context.Context) error {
	if s.opts.Persister == nil {
		return nil
	}
	if err := s.opts.Persister.Delete(ctx); err != nil {
		return fmt.Errorf("delete persisted cache: %w", err)
	}
	return nil
}

func (s *Store) subscribersLocked() []func(Entry) {
	out := make([]func(Entry), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Entry), e Entry) {
	for _, fn := range subs {
		fn(e)
	}
}
