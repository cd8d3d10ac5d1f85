package store

import (
	"context"
	"sync"
)

// Memory keeps the record in process. Nothing survives a restart.
type Memory struct {
	mu  sync.Mutex
	rec *Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(ctx context.Context) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return Record{}, false, nil
	}
	return cloneRecord(*m.rec), true, nil
}

func (m *Memory) Save(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := cloneRecord(rec)
	m.rec = &r
	return nil
}

func (m *Memory) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = nil
	return nil
}

func (m *Memory) Close() error { return nil }
