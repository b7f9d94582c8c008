package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jonwraymond/memocache/cache"
)

// ErrClosed is returned by operations on a closed Backend.
var ErrClosed = errors.New("badger: backend closed")

// Backend is a cache.Backend on BadgerDB.
type Backend struct {
	db     *badger.DB
	prefix string
	owned  bool

	gcStop    chan struct{}
	gcWg      sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

var (
	_ cache.Backend = (*Backend)(nil)
	_ cache.Dropper = (*Backend)(nil)
)

// New opens the database described by cfg.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.GCDiscardRatio == 0 {
		cfg.GCDiscardRatio = 0.5
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	b := &Backend{db: db, prefix: cfg.KeyPrefix, owned: true, gcStop: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.startGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return b, nil
}

// NewFromDB wraps an open database. Close leaves db open.
func NewFromDB(db *badger.DB, keyPrefix string) *Backend {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Backend{db: db, prefix: keyPrefix, gcStop: make(chan struct{})}
}

func (b *Backend) startGC(interval time.Duration, discardRatio float64) {
	b.gcWg.Add(1)
	go func() {
		defer b.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-b.gcStop:
				return
			case <-ticker.C:
				// RunValueLogGC returns an error once nothing is left to rewrite.
				for b.db.RunValueLogGC(discardRatio) == nil {
				}
			}
		}
	}()
}

func (b *Backend) key(name string) ([]byte, error) {
	if err := cache.ValidateName(name); err != nil {
		return nil, err
	}
	return []byte(b.prefix + name), nil
}

func (b *Backend) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Read returns the record stored under name.
func (b *Backend) Read(ctx context.Context, name string) ([]byte, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	key, err := b.key(name)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", cache.ErrRecordNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Write stores data under name in a single transaction.
func (b *Backend) Write(ctx context.Context, name string, data []byte) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	key, err := b.key(name)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, data))
	})
}

// Delete removes name. Deleting a missing record succeeds.
func (b *Backend) Delete(ctx context.Context, name string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	key, err := b.key(name)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// List returns every record name under the key prefix.
func (b *Backend) List(ctx context.Context) ([]string, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(b.prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			names = append(names, string(key[len(b.prefix):]))
		}
		return nil
	})
	return names, err
}

// Ping reports whether the database is open.
func (b *Backend) Ping(ctx context.Context) error {
	return b.check(ctx)
}

// DropAll removes every record under the key prefix in one call. It
// implements cache.Dropper.
func (b *Backend) DropAll(ctx context.Context) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	return b.db.DropPrefix([]byte(b.prefix))
}

// Close stops GC and closes the database if New opened it. Safe to call
// more than once.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.gcStop)
		b.gcWg.Wait()
		if b.owned {
			b.closeErr = b.db.Close()
		}
	})
	return b.closeErr
}
