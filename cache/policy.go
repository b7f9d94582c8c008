package cache

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/memocache/resilience"
)

// Mode selects the store tier a Controller uses.
type Mode string

const (
	// ModeEphemeral keeps every entry in process memory.
	ModeEphemeral Mode = "ephemeral"
	// ModeBounded keeps at most Capacity entries, evicting least recently used.
	ModeBounded Mode = "bounded"
	// ModePersistent stores records in a Backend that survives restarts.
	ModePersistent Mode = "persistent"
)

// Modes lists the valid modes.
func Modes() []Mode {
	return []Mode{ModeEphemeral, ModeBounded, ModePersistent}
}

func (m Mode) valid() bool {
	switch m {
	case ModeEphemeral, ModeBounded, ModePersistent:
		return true
	}
	return false
}

// Config configures a Controller.
type Config struct {
	// Name identifies the controller in logs and metrics. Default: "default"
	Name string `yaml:"name"`

	// Mode selects the store tier. Default: ephemeral
	Mode Mode `yaml:"mode"`

	// Capacity bounds a bounded store. Default: 128
	Capacity int `yaml:"capacity"`

	// MaxBytes additionally bounds a bounded store by encoded size.
	MaxBytes int64 `yaml:"max_bytes"`

	// Backend names the persistent backend: dir, badger, redis or s3.
	// Default: dir. The cache package opens dir itself; other backends are
	// supplied with WithBackend.
	Backend string `yaml:"backend"`

	// Location addresses the persistent backend: a directory for dir and
	// badger, an address for redis, bucket/prefix for s3.
	Location string `yaml:"location"`

	// MemoryBudget is the byte budget the health check holds the in-process
	// store to. Default: the runtime memory limit, else memory obtained from
	// the OS.
	MemoryBudget int64 `yaml:"memory_budget"`

	// Resilience guards persistent backend I/O.
	Resilience resilience.StoreConfig `yaml:"resilience"`
}

// DefaultConfig returns an ephemeral controller configuration.
func DefaultConfig() Config {
	return Config{
		Name:     "default",
		Mode:     ModeEphemeral,
		Capacity: DefaultCapacity,
		Backend:  "dir",
	}
}

// LRUConfig returns a bounded configuration holding at most capacity entries.
func LRUConfig(capacity int) Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeBounded
	cfg.Capacity = capacity
	return cfg
}

// PersistentDirConfig returns a persistent configuration storing records
// under dir.
func PersistentDirConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.Mode = ModePersistent
	cfg.Location = dir
	return cfg
}

var validBackends = map[string]bool{
	"dir":    true,
	"badger": true,
	"redis":  true,
	"s3":     true,
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if !c.Mode.valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("%w: capacity must be >= 0, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.MaxBytes < 0 {
		return fmt.Errorf("%w: max_bytes must be >= 0, got %d", ErrInvalidConfig, c.MaxBytes)
	}
	if c.MemoryBudget < 0 {
		return fmt.Errorf("%w: memory_budget must be >= 0, got %d", ErrInvalidConfig, c.MemoryBudget)
	}
	if c.Resilience.RateLimit < 0 || c.Resilience.RateBurst < 0 {
		return fmt.Errorf("%w: resilience rate_limit and rate_burst must be >= 0", ErrInvalidConfig)
	}
	if c.Mode == ModePersistent {
		if c.Backend != "" && !validBackends[c.Backend] {
			return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
		}
	}
	return nil
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cache: read config: %w", err)
	}
	return ParseConfig(data)
}
