package cli

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/memocache/backend/badger"
	"github.com/jonwraymond/memocache/backend/redis"
	"github.com/jonwraymond/memocache/backend/s3"
	"github.com/jonwraymond/memocache/cache"
)

// fileConfig is the CLI's config file: a cache.Config plus a section per
// backend for settings Location cannot carry.
type fileConfig struct {
	cache.Config `yaml:",inline"`

	Badger badger.Config `yaml:"badger"`
	Redis  redis.Config  `yaml:"redis"`
	S3     s3.Config     `yaml:"s3"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Config: cache.DefaultConfig(),
		Badger: badger.DefaultConfig(""),
		Redis:  redis.DefaultConfig(""),
	}
}

// loadFileConfig reads path, expands ${VAR} references and decodes the
// result over the defaults.
func loadFileConfig(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config: %w", err)
	}
	expanded, err := expandEnv(string(raw))
	if err != nil {
		return fileConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	fc := defaultFileConfig()
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return fileConfig{}, fmt.Errorf("%w: %s: %v", cache.ErrInvalidConfig, path, err)
	}
	return fc, nil
}

// MissingEnvError lists the variables a config file references but the
// environment does not define.
type MissingEnvError struct {
	Names []string
}

func (e *MissingEnvError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Names, ", ")
}

var envRef = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with its value and $$ with a literal $. Bare $VAR
// is left alone so passwords containing $ survive. Every missing variable is
// reported at once.
func expandEnv(s string) (string, error) {
	missing := map[string]bool{}
	out := envRef.ReplaceAllStringFunc(s, func(m string) string {
		if m == "$$" {
			return "$"
		}
		name := m[2 : len(m)-1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing[name] = true
		}
		return v
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", &MissingEnvError{Names: names}
	}
	return out, nil
}
