package redis

import (
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jonwraymond/memocache/cache"
)

// DefaultPrefix namespaces record keys.
const DefaultPrefix = "memocache:record:"

// Config configures a redis Backend.
type Config struct {
	// Addr is the server address for a single node. Default: localhost:6379
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// ClusterAddrs selects a cluster client when non-empty.
	ClusterAddrs []string `yaml:"cluster_addrs"`

	// Prefix is prepended to every record name. Default: DefaultPrefix
	Prefix string `yaml:"prefix"`

	// TTL expires records after the given duration. Zero keeps them until
	// deleted.
	TTL time.Duration `yaml:"ttl"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`

	// ScanCount is the COUNT hint for SCAN during List. Default: 512
	ScanCount int64 `yaml:"scan_count"`
}

// DefaultConfig returns a config for addr.
func DefaultConfig(addr string) Config {
	if addr == "" {
		addr = "localhost:6379"
	}
	return Config{
		Addr:         addr,
		Prefix:       DefaultPrefix,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		ScanCount:    512,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Addr == "" && len(c.ClusterAddrs) == 0 {
		return fmt.Errorf("%w: redis address is required", cache.ErrInvalidConfig)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: negative ttl", cache.ErrInvalidConfig)
	}
	if c.DB < 0 {
		return fmt.Errorf("%w: negative db", cache.ErrInvalidConfig)
	}
	return nil
}

func newClient(cfg Config) goredis.UniversalClient {
	if len(cfg.ClusterAddrs) > 0 {
		return goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
		})
	}
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
}
