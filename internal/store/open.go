package store

import (
	"fmt"
	"path/filepath"

	"github.com/MrSnakeDoc/chiron/internal/config"
)

// Open returns the persister selected by cfg.Backend.
func Open(cfg config.CacheConfig, key string) (Persister, error) {
	switch cfg.Backend {
	case "file":
		return NewFS(cfg.StateDir, key)
	case "badger":
		return OpenBadger(filepath.Join(cfg.StateDir, "badger"), key, cfg.Retention)
	case "none":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
