package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/memocache/health"
	"github.com/jonwraymond/memocache/observe"
)

// BlockFunc is the body of a guarded block. It reads its inputs from ns and
// binds its outputs into ns.
type BlockFunc func(ctx context.Context, ns Namespace) error

// Option configures a Controller.
type Option func(*Controller)

// WithStore replaces the store selected by Config.Mode.
func WithStore(s Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithBackend supplies the backend of a persistent controller.
func WithBackend(b Backend) Option {
	return func(c *Controller) { c.backend = b }
}

// WithLogger sets the logger. It takes precedence over the observer's logger.
func WithLogger(l observe.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver records traces, metrics and logs for every Run.
func WithObserver(obs observe.Observer) Option {
	return func(c *Controller) { c.observer = obs }
}

// WithMiddleware sets the telemetry middleware directly.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(c *Controller) { c.mw = mw }
}

// WithFingerprinter replaces the default fingerprinter.
func WithFingerprinter(f Fingerprinter) Option {
	return func(c *Controller) { c.fp = f }
}

// WithClock sets the clock used for StoredAt and runtime measurement.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller decides, per guarded block, whether to reuse stored outputs or
// run the block and store its outputs.
//
// Contract:
// - Concurrency: safe for concurrent use. Concurrent Runs of the same key
// are coalesced so the block executes once.
// - Errors: caching failures never abort a block. Only the block's own error,
// *IncompleteCaptureError and context errors are returned.
type Controller struct {
	cfg      Config
	fp       Fingerprinter
	now      func() time.Time
	logger   observe.Logger
	observer observe.Observer
	mw       *observe.Middleware
	backend  Backend

	mu       sync.RWMutex
	store    Store
	primary  Store
	degraded error

	group singleflight.Group

	hits         atomic.Int64
	misses       atomic.Int64
	passthroughs atomic.Int64
	stores       atomic.Int64
	unstored     atomic.Int64
	discards     atomic.Int64
	coalesced    atomic.Int64
	degradations atomic.Int64
	saved        atomic.Int64
}

// New creates a Controller for cfg.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg: cfg,
		fp:  NewFingerprinter(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		if c.observer != nil {
			c.logger = c.observer.Logger()
		} else {
			c.logger = observe.NewNopLogger()
		}
	}
	if c.mw == nil {
		if c.observer != nil {
			mw, err := observe.MiddlewareFromObserver(c.observer)
			if err != nil {
				return nil, fmt.Errorf("cache: telemetry: %w", err)
			}
			c.mw = mw
		} else {
			c.mw = observe.NewMiddleware(nil, nil, c.logger)
		}
	}
	if c.store == nil {
		store, err := c.openStore()
		if err != nil {
			return nil, err
		}
		c.store = store
	}
	c.primary = c.store
	return c, nil
}

func (c *Controller) openStore() (Store, error) {
	switch c.cfg.Mode {
	case ModeBounded:
		return NewBounded(BoundedConfig{
			Capacity: c.cfg.Capacity,
			MaxBytes: c.cfg.MaxBytes,
			OnEvict: func(e *Entry) {
				c.logger.Debug(context.Background(), "cache entry evicted",
					observe.Field{Key: "cache.name", Value: c.cfg.Name},
					observe.Field{Key: "cache.key", Value: e.Key.String()},
				)
			},
		}), nil
	case ModePersistent:
		backend := c.backend
		if backend == nil {
			if c.cfg.Backend != "" && c.cfg.Backend != "dir" {
				return nil, fmt.Errorf("%w: backend %q must be supplied with WithBackend", ErrInvalidConfig, c.cfg.Backend)
			}
			if c.cfg.Location == "" {
				return nil, fmt.Errorf("%w: persistent mode requires a location", ErrInvalidConfig)
			}
			dir, err := NewDirBackend(c.cfg.Location)
			if err != nil {
				return nil, err
			}
			backend = dir
		}
		return NewPersistent(backend, PersistentConfig{
			Resilience: c.cfg.Resilience,
			Logger:     c.logger,
			Now:        c.now,
		})
	default:
		return NewEphemeral(), nil
	}
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config { return c.cfg }

// Persistent returns the persistent store, if the controller was built on one.
func (c *Controller) Persistent() (*Persistent, bool) {
	p, ok := c.primary.(*Persistent)
	return p, ok
}

func (c *Controller) meta(b Block) observe.ScopeMeta {
	return observe.ScopeMeta{
		Name:  c.cfg.Name,
		Mode:  string(c.cfg.Mode),
		Block: b.ID,
	}
}

func (c *Controller) currentStore() Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// degrade switches the controller to an in-process store for the rest of its
// life. It reports whether the switch happened now; context errors never
// degrade.
func (c *Controller) degrade(ctx context.Context, meta observe.ScopeMeta, op string, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	if c.degraded != nil {
		c.mu.Unlock()
		return false
	}
	c.degraded = err
	c.store = NewEphemeral()
	c.mu.Unlock()

	c.degradations.Add(1)
	c.mw.Metrics().RecordStoreError(ctx, meta, op, err)
	c.logger.WithScope(meta).Warn(ctx, "cache store unavailable, using in-process store for this session",
		observe.Field{Key: "op", Value: op},
		observe.Field{Key: "error", Value: err},
	)
	return true
}

func (c *Controller) put(ctx context.Context, meta observe.ScopeMeta, entry *Entry) {
	err := c.currentStore().Put(ctx, entry)
	switch {
	case err == nil:
		c.stores.Add(1)
	case errors.Is(err, ErrEntryTooLarge):
		c.unstored.Add(1)
		c.logger.WithScope(meta).Debug(ctx, "entry exceeds store budget, not cached",
			observe.Field{Key: "bytes", Value: entry.Size()},
		)
	default:
		c.unstored.Add(1)
		if c.degrade(ctx, meta, "put", err) {
			if c.currentStore().Put(ctx, entry) == nil {
				c.unstored.Add(-1)
				c.stores.Add(1)
			}
		}
	}
}

// Enter fingerprints b and looks it up in the store. The returned scope is a hit
// (outputs loaded, call Restore), a miss (run the block, then Commit) or a
// passthrough (inputs could not be fingerprinted; run the block uncached).
// Callers should defer scope.Close().
func (c *Controller) Enter(ctx context.Context, b Block) (*Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := c.newScope(b)
	s.state = StateFingerprinting
	key, err := c.fp.Fingerprint(b.Code, FormatVersion, b.Inputs)
	if err != nil {
		s.state = StatePassthrough
		c.passthroughs.Add(1)
		s.logger().Info(ctx, "block inputs cannot be fingerprinted, running uncached",
			observe.Field{Key: "scope_id", Value: s.ID()},
			observe.Field{Key: "error", Value: err},
		)
		return s, nil
	}
	s.key = key
	s.meta.Key = key.String()

	entry, ok, err := c.currentStore().Get(ctx, key)
	if err != nil {
		c.degrade(ctx, s.meta, "get", err)
		ok = false
	}
	if ok {
		err := s.load(entry)
		if err == nil {
			c.hits.Add(1)
			c.saved.Add(int64(entry.Runtime))
			return s, nil
		}
		s.logger().Warn(ctx, "cached entry unusable, recomputing",
			observe.Field{Key: "error", Value: err},
		)
	}

	s.state = StateExecuting
	s.started = c.now()
	c.misses.Add(1)
	return s, nil
}

// Run executes b under a scope. On a hit fn is never invoked and the stored
// outputs are bound into ns; any scopes nested inside fn are skipped with it.
// On a miss fn runs on the calling goroutine and its outputs are committed.
// If fn fails, or ctx is cancelled, nothing is stored and the error is
// returned unchanged.
func (c *Controller) Run(ctx context.Context, b Block, ns Namespace, fn BlockFunc) (*Scope, error) {
	return c.traced(ctx, b, func(ctx context.Context) (*Scope, error) {
		s, err := c.Enter(ctx, b)
		if err != nil {
			return nil, err
		}
		defer s.Close()

		if !s.key.IsZero() {
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("cache.key", s.key.String()))
		}

		switch {
		case s.hit:
			return s, s.Restore(ns)
		case s.state == StatePassthrough:
			if err := fn(ctx, ns); err != nil {
				return s, err
			}
			return s, s.Commit(ctx, ns)
		default:
			return s, c.execute(ctx, s, ns, fn)
		}
	})
}

// RunResolved is Run with inputs and outputs taken from r. A resolver failure
// runs the block uncached.
func (c *Controller) RunResolved(ctx context.Context, r Resolver, blockID, code string, ns Namespace, fn BlockFunc) (*Scope, error) {
	b := Block{ID: blockID, Code: code}
	inputs, err := r.ResolveInputs(ctx, blockID)
	var outputs []string
	if err == nil {
		outputs, err = r.ResolveOutputs(ctx, blockID)
	}
	if err == nil {
		b.Inputs, b.Outputs = inputs, outputs
		return c.Run(ctx, b, ns, fn)
	}

	resolveErr := err
	return c.traced(ctx, b, func(ctx context.Context) (*Scope, error) {
		s := c.newScope(b)
		s.state = StatePassthrough
		c.passthroughs.Add(1)
		s.logger().Info(ctx, "block dependencies unresolved, running uncached",
			observe.Field{Key: "error", Value: resolveErr},
		)
		defer s.Close()
		if err := fn(ctx, ns); err != nil {
			return s, err
		}
		return s, s.Commit(ctx, ns)
	})
}

func (c *Controller) traced(ctx context.Context, b Block, run func(context.Context) (*Scope, error)) (*Scope, error) {
	var scope *Scope
	_, err := c.mw.Wrap(func(ctx context.Context, _ observe.ScopeMeta) (observe.Outcome, error) {
		var err error
		scope, err = run(ctx)
		return scope.outcome(), err
	})(ctx, c.meta(b))
	return scope, err
}

var errLeaderPanicked = errors.New("cache: coalesced block panicked")

// execute runs a missed block once per key across concurrent callers. A
// caller that waited on another's execution reads the store again and loads the
// committed entry; if nothing was stored it runs the block itself.
func (c *Controller) execute(ctx context.Context, s *Scope, ns Namespace, fn BlockFunc) error {
	var ran bool
	var panicked any
	_, err, _ := c.group.Do(s.key.String(), func() (_ any, err error) {
		ran = true
		defer func() {
			if r := recover(); r != nil {
				panicked = r
				err = errLeaderPanicked
			}
		}()
		return nil, c.runBody(ctx, s, ns, fn)
	})
	if panicked != nil {
		panic(panicked)
	}
	if ran {
		return err
	}

	entry, ok, gerr := c.currentStore().Get(ctx, s.key)
	if gerr == nil && ok && s.load(entry) == nil {
		c.misses.Add(-1)
		c.hits.Add(1)
		c.coalesced.Add(1)
		c.saved.Add(int64(entry.Runtime))
		return s.Restore(ns)
	}
	return c.runBody(ctx, s, ns, fn)
}

func (c *Controller) runBody(ctx context.Context, s *Scope, ns Namespace, fn BlockFunc) error {
	s.started = c.now()
	if err := fn(ctx, ns); err != nil {
		return err
	}
	return s.Commit(ctx, ns)
}

// Info is a snapshot of controller statistics.
type Info struct {
	Name         string        `json:"name" yaml:"name"`
	Mode         Mode          `json:"mode" yaml:"mode"`
	Hits         int64         `json:"hits" yaml:"hits"`
	Misses       int64         `json:"misses" yaml:"misses"`
	Passthroughs int64         `json:"passthroughs" yaml:"passthroughs"`
	Stores       int64         `json:"stores" yaml:"stores"`
	Unstored     int64         `json:"unstored" yaml:"unstored"`
	Discards     int64         `json:"discards" yaml:"discards"`
	Coalesced    int64         `json:"coalesced" yaml:"coalesced"`
	Degradations int64         `json:"degradations" yaml:"degradations"`
	Size         int           `json:"size" yaml:"size"` // -1 when the store cannot count cheaply
	Capacity     int           `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Evictions    int64         `json:"evictions,omitempty" yaml:"evictions,omitempty"`
	TimeSaved    time.Duration `json:"time_saved" yaml:"time_saved"`
	Degraded     string        `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// Info returns current statistics.
func (c *Controller) Info() Info {
	store := c.currentStore()
	info := Info{
		Name:         c.cfg.Name,
		Mode:         c.cfg.Mode,
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Passthroughs: c.passthroughs.Load(),
		Stores:       c.stores.Load(),
		Unstored:     c.unstored.Load(),
		Discards:     c.discards.Load(),
		Coalesced:    c.coalesced.Load(),
		Degradations: c.degradations.Load(),
		Size:         -1,
		TimeSaved:    time.Duration(c.saved.Load()),
	}
	if sz, ok := store.(Sizer); ok {
		info.Size = sz.Len()
	}
	if b, ok := c.primary.(*Bounded); ok {
		info.Capacity = b.Capacity()
		info.Evictions = b.Evictions()
	}
	c.mu.RLock()
	if c.degraded != nil {
		info.Degraded = c.degraded.Error()
	}
	c.mu.RUnlock()
	return info
}

// Clear drops every stored entry and resets hit, miss and time-saved
// statistics. After degradation it clears the fallback store and then the
// primary one; statistics are kept when the primary cannot be cleared.
func (c *Controller) Clear(ctx context.Context) error {
	current := c.currentStore()
	cl, ok := current.(Clearer)
	if !ok {
		return fmt.Errorf("cache: store cannot be cleared: %w", errors.ErrUnsupported)
	}
	if err := cl.Clear(ctx); err != nil {
		return err
	}
	if current != c.primary {
		pcl, ok := c.primary.(Clearer)
		if !ok {
			return fmt.Errorf("cache: primary store cannot be cleared: %w", errors.ErrUnsupported)
		}
		if err := pcl.Clear(ctx); err != nil {
			return fmt.Errorf("cache: fallback cleared, primary store unavailable: %w", err)
		}
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.saved.Store(0)
	return nil
}

// Checker reports the controller's health: degraded after falling back to the
// in-process store, otherwise the health of a persistent backend.
func (c *Controller) Checker() health.Checker {
	name := "cache." + c.cfg.Name
	return health.NewCheckerFunc(name, func(ctx context.Context) health.Result {
		info := c.Info()
		details := map[string]any{
			"mode": string(info.Mode),
			"size": info.Size,
		}
		var mem health.Result
		if eph, ok := c.currentStore().(*Ephemeral); ok {
			mem = health.NewMemoryChecker(health.MemoryCheckerConfig{
				Name:      name + ".memory",
				Budget:    c.cfg.MemoryBudget,
				Footprint: eph.Bytes,
			}).Check(ctx)
			details["bytes"] = eph.Bytes()
			details["memory"] = mem.Message
			if mem.Status == health.StatusUnhealthy {
				return health.Unhealthy("in-process store over memory budget", mem.Error).WithDetails(details)
			}
		}
		if info.Degraded != "" {
			details["reason"] = info.Degraded
			return health.Degraded("using in-process fallback store").WithDetails(details)
		}
		if mem.Status == health.StatusDegraded {
			return health.Degraded("in-process store near memory budget").WithDetails(details)
		}
		if p, ok := c.Persistent(); ok {
			res := p.Checker(name).Check(ctx)
			for k, v := range res.Details {
				details[k] = v
			}
			return res.WithDetails(details)
		}
		return health.Healthy("cache ready").WithDetails(details)
	})
}

// Close releases the primary store's resources.
func (c *Controller) Close() error {
	if cl, ok := c.primary.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}
