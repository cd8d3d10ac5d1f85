package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/utils"
)

// FS stores the record as one JSON file and keeps a hot copy in RAM.
type FS struct {
	dir  string
	path string

	mu  sync.RWMutex
	hot *Record
}

func NewFS(dataDir, key string) (*FS, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dataDir, err)
	}
	s := &FS{
		dir:  dataDir,
		path: filepath.Join(dataDir, key+".json"),
	}
	if err := s.loadHotFromDisk(); err != nil {
		// A corrupt file is as good as none; the next Save replaces it.
		logger.Debug("store: ignoring unreadable %s: %v", s.path, err)
	}
	return s, nil
}

func (s *FS) Path() string { return s.path }

func (s *FS) Load(ctx context.Context) (Record, bool, error) {
	s.mu.RLock()
	hot := s.hot
	s.mu.RUnlock()
	if hot != nil {
		return cloneRecord(*hot), true, nil
	}

	if err := s.loadHotFromDisk(); err != nil {
		return Record{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hot == nil {
		return Record{}, false, nil
	}
	return cloneRecord(*s.hot), true, nil
}

// Save writes the record atomically (tmp file, rename, dir fsync) and
// refreshes the hot copy.
func (s *FS) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Debug("store: writing %s (%d bytes of snapshot)", s.path, len(rec.Snapshot))

	if err := utils.WriteJSONAtomic(s.path, rec); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}

	r := cloneRecord(rec)
	s.mu.Lock()
	s.hot = &r
	s.mu.Unlock()
	return nil
}

func (s *FS) Delete(ctx context.Context) error {
	s.mu.Lock()
	s.hot = nil
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	return nil
}

func (s *FS) Close() error { return nil }

func (s *FS) loadHotFromDisk() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		// Not written yet is fine
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.hot = &rec
	s.mu.Unlock()
	return nil
}

// ClearHotCacheForTest forces the next Load to go to disk.
func (s *FS) ClearHotCacheForTest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hot = nil
}
