package store

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Record is the persisted cache blob. Key doubles as the buster: a record
// written under another key is treated as absent.
type Record struct {
	Key       string          `json:"key"`
	WrittenAt time.Time       `json:"written_at"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

type Persister interface {
	// Load returns the stored record, or ok=false when there is none.
	Load(ctx context.Context) (rec Record, ok bool, err error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context) error
	Close() error
}

func cloneRecord(r Record) Record {
	r.Snapshot = append(json.RawMessage(nil), r.Snapshot...)
	return r
}
