package badger

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jonwraymond/memocache/cache"
	"github.com/jonwraymond/memocache/observe"
)

// DefaultKeyPrefix namespaces record keys inside the database.
const DefaultKeyPrefix = "memocache:record:"

// Config configures a badger Backend.
type Config struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string `yaml:"dir"`

	// InMemory keeps the database in memory, for tests.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`

	// KeyPrefix is prepended to every record name. Default: DefaultKeyPrefix
	KeyPrefix string `yaml:"key_prefix"`

	// GCInterval is the interval between value log GC runs. Zero disables GC.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is passed to RunValueLogGC. Default: 0.5
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// Logger receives badger's internal log output. Default: silent
	Logger observe.Logger `yaml:"-"`
}

// DefaultConfig returns a config for dir with value log GC every five minutes.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		KeyPrefix:      DefaultKeyPrefix,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Dir == "" && !c.InMemory {
		return fmt.Errorf("%w: badger directory is required", cache.ErrInvalidConfig)
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio >= 1 {
		return fmt.Errorf("%w: gc discard ratio must be in [0, 1)", cache.ErrInvalidConfig)
	}
	if c.GCInterval < 0 {
		return fmt.Errorf("%w: negative gc interval", cache.ErrInvalidConfig)
	}
	return nil
}

// ErrOpen is returned when the database cannot be opened.
var ErrOpen = errors.New("badger: open failed")

func openDB(cfg Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(logAdapter{cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Join(ErrOpen, err)
	}
	return db, nil
}
