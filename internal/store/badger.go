package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Badger stores the record under its key with a TTL, so records past the
// retention window are evicted by the database itself.
type Badger struct {
	db  *badger.DB
	key []byte
	ttl time.Duration
}

func OpenBadger(dir, key string, ttl time.Duration) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return NewBadgerFromDB(db, key, ttl), nil
}

func NewBadgerFromDB(db *badger.DB, key string, ttl time.Duration) *Badger {
	return &Badger{db: db, key: []byte(key), ttl: ttl}
}

func (b *Badger) Load(ctx context.Context) (Record, bool, error) {
	var rec Record
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		found = true
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("load %s: %w", b.key, err)
	}
	return rec, found, nil
}

func (b *Badger) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(b.key, data)
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) Delete(ctx context.Context) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(b.key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

func (b *Badger) Close() error { return b.db.Close() }
