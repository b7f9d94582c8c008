package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jonwraymond/memocache/cache"
)

// Backend is a cache.Backend on Redis.
type Backend struct {
	client    goredis.UniversalClient
	prefix    string
	ttl       time.Duration
	scanCount int64
	owned     bool

	closeOnce sync.Once
	closeErr  error
}

var (
	_ cache.Backend = (*Backend)(nil)
	_ cache.Dropper = (*Backend)(nil)
)

// New connects to the server described by cfg and pings it.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := newClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	b := NewFromClient(client, cfg)
	b.owned = true
	return b, nil
}

// NewFromClient wraps an existing client. Close leaves client open. Only the
// Prefix, TTL and ScanCount fields of cfg are used.
func NewFromClient(client goredis.UniversalClient, cfg Config) *Backend {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 512
	}
	return &Backend{
		client:    client,
		prefix:    cfg.Prefix,
		ttl:       cfg.TTL,
		scanCount: cfg.ScanCount,
	}
}

func (b *Backend) key(name string) (string, error) {
	if err := cache.ValidateName(name); err != nil {
		return "", err
	}
	return b.prefix + name, nil
}

// Read returns the record stored under name.
func (b *Backend) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := b.key(name)
	if err != nil {
		return nil, err
	}
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", cache.ErrRecordNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write stores data under name with a single SET.
func (b *Backend) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := b.key(name)
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	return b.client.Set(ctx, key, data, b.ttl).Err()
}

// Delete removes name. Deleting a missing record succeeds.
func (b *Backend) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := b.key(name)
	if err != nil {
		return err
	}
	return b.client.Del(ctx, key).Err()
}

// List scans every key under the prefix. On a cluster each master is
// scanned.
func (b *Backend) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		names []string
	)
	scan := func(ctx context.Context, client goredis.Cmdable) error {
		iter := client.Scan(ctx, 0, matchPattern(b.prefix), b.scanCount).Iterator()
		var found []string
		for iter.Next(ctx) {
			found = append(found, strings.TrimPrefix(iter.Val(), b.prefix))
		}
		if err := iter.Err(); err != nil {
			return err
		}
		mu.Lock()
		names = append(names, found...)
		mu.Unlock()
		return nil
	}

	if cluster, ok := b.client.(*goredis.ClusterClient); ok {
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *goredis.Client) error {
			return scan(ctx, node)
		})
		return names, err
	}
	return names, scan(ctx, b.client)
}

// DropAll deletes every record under the prefix, batching deletes through a
// pipeline. It implements cache.Dropper.
func (b *Backend) DropAll(ctx context.Context) error {
	names, err := b.List(ctx)
	if err != nil {
		return err
	}
	const batch = 256
	for start := 0; start < len(names); start += batch {
		end := min(start+batch, len(names))
		pipe := b.client.Pipeline()
		for _, name := range names[start:end] {
			pipe.Del(ctx, b.prefix+name)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis: drop records %d-%d of %d: %w", start, end, len(names), err)
		}
	}
	return nil
}

// Ping checks the connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the client if New created it. Safe to call more than once.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if b.owned {
			b.closeErr = b.client.Close()
		}
	})
	return b.closeErr
}

// matchPattern returns a SCAN pattern matching keys that start with prefix.
func matchPattern(prefix string) string {
	var sb strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('*')
	return sb.String()
}
