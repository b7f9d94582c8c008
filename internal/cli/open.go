package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/memocache/backend/badger"
	"github.com/jonwraymond/memocache/backend/redis"
	"github.com/jonwraymond/memocache/backend/s3"
	"github.com/jonwraymond/memocache/cache"
	"github.com/jonwraymond/memocache/observe"
)

// session is an opened persistent store plus the observer that logs for it.
type session struct {
	cfg    cache.Config
	store  *cache.Persistent
	obs    observe.Observer
	logger observe.Logger
}

func (s *session) Close(ctx context.Context) error {
	return errors.Join(s.store.Close(), s.obs.Shutdown(ctx))
}

// config resolves the configuration from the config file and flags.
// Location, when set, addresses whichever backend is selected.
func (a *App) config() (fileConfig, error) {
	fc := defaultFileConfig()
	if a.opts.configPath != "" {
		loaded, err := loadFileConfig(a.opts.configPath)
		if err != nil {
			return fileConfig{}, err
		}
		fc = loaded
	}
	fc.Mode = cache.ModePersistent
	if a.opts.backend != "" {
		fc.Backend = a.opts.backend
	}
	if a.opts.location != "" {
		fc.Location = a.opts.location
	}
	if fc.Backend == "" {
		fc.Backend = "dir"
	}
	if fc.Location != "" {
		fc.Badger.Dir = fc.Location
		fc.Redis.Addr = fc.Location
		fc.S3.Location = fc.Location
		fc.S3.Bucket, fc.S3.Prefix = "", ""
	}
	if fc.Backend == "s3" && fc.Resilience.RateLimit == 0 {
		fc.Resilience.RateLimit = s3.DefaultRequestRate
	}
	return fc, fc.Validate()
}

func (a *App) open(ctx context.Context) (*session, error) {
	fc, err := a.config()
	if err != nil {
		return nil, err
	}
	cfg := fc.Config

	obsCfg := observe.DefaultConfig()
	obsCfg.Version = Version
	obsCfg.Logging.Level = a.opts.logLevel
	obsCfg.Logging.Writer = a.stderr
	obs, err := observe.NewObserver(ctx, obsCfg)
	if err != nil {
		return nil, err
	}
	logger := obs.Logger()

	backend, err := openBackend(ctx, fc, logger)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}
	store, err := cache.NewPersistent(backend, cache.PersistentConfig{
		Resilience: cfg.Resilience,
		Logger:     logger,
	})
	if err != nil {
		_ = backend.Close()
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	logger.Debug(ctx, "opened persistent cache",
		observe.Field{Key: "cache.name", Value: cfg.Name},
		observe.Field{Key: "cache.backend", Value: cfg.Backend},
		observe.Field{Key: "cache.location", Value: cfg.Location},
	)
	return &session{cfg: cfg, store: store, obs: obs, logger: logger}, nil
}

func openBackend(ctx context.Context, fc fileConfig, logger observe.Logger) (cache.Backend, error) {
	switch fc.Backend {
	case "dir":
		return cache.NewDirBackend(fc.Location)
	case "badger":
		bc := fc.Badger
		bc.Logger = logger
		return badger.New(bc)
	case "redis":
		return redis.New(ctx, fc.Redis)
	case "s3":
		return s3.New(ctx, fc.S3)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", cache.ErrInvalidConfig, fc.Backend)
	}
}
