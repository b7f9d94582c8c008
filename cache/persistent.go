package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/memocache/health"
	"github.com/jonwraymond/memocache/observe"
	"github.com/jonwraymond/memocache/resilience"
)

// Backend is the raw record storage behind a Persistent store. Names are
// record names produced by Key.RecordName.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Atomicity: Write publishes the whole record or nothing; concurrent
// readers never observe a partial record. Concurrent writes to one name
// resolve last-writer-wins.
// - Errors: Read of a missing name returns an error wrapping
// ErrRecordNotFound. Delete of a missing name is not an error.
type Backend interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dropper is implemented by backends that can remove every record in one
// operation. Persistent.Clear uses it instead of listing and deleting records
// one by one.
type Dropper interface {
	DropAll(ctx context.Context) error
}

// PersistentConfig configures a Persistent store.
type PersistentConfig struct {
	// Resilience configures the I/O guard. Ignored when Executor is set.
	Resilience resilience.StoreConfig

	// Executor overrides the guard built from Resilience.
	Executor *resilience.Executor

	// Logger receives corrupt-record warnings. Default: nop
	Logger observe.Logger

	// Parallelism bounds concurrent backend calls during sweeps. Default: 8
	Parallelism int

	// Now is the clock used by Prune. Default: time.Now
	Now func() time.Time
}

// Persistent stores one checksummed record per key in a Backend. Hit counts
// are tracked per process and never written back.
type Persistent struct {
	backend     Backend
	exec        *resilience.Executor
	logger      observe.Logger
	parallelism int
	now         func() time.Time

	mu      sync.Mutex
	hits    map[Key]int64
	corrupt atomic.Int64
}

// NewPersistent wraps backend. Zero values in cfg select defaults.
func NewPersistent(backend Backend, cfg PersistentConfig) (*Persistent, error) {
	if backend == nil {
		return nil, ErrNilStore
	}
	exec := cfg.Executor
	if exec == nil {
		exec = resilience.NewStoreExecutor(cfg.Resilience)
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NewNopLogger()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Persistent{
		backend:     backend,
		exec:        exec,
		logger:      cfg.Logger,
		parallelism: cfg.Parallelism,
		now:         cfg.Now,
		hits:        make(map[Key]int64),
	}, nil
}

// Get reads and verifies the record for key. Corrupt records are logged and
// read as misses.
func (p *Persistent) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	entry, err := p.load(ctx, key)
	if err != nil || entry == nil {
		return nil, false, err
	}

	p.mu.Lock()
	p.hits[key]++
	entry.HitCount = p.hits[key]
	p.mu.Unlock()
	return entry, true, nil
}

// Contains reports whether a valid record exists for key.
func (p *Persistent) Contains(ctx context.Context, key Key) (bool, error) {
	entry, err := p.load(ctx, key)
	return entry != nil, err
}

func (p *Persistent) load(ctx context.Context, key Key) (*Entry, error) {
	data, err := p.read(ctx, key.RecordName())
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry, err := decodeRecord(data)
	if errors.Is(err, errStaleVersion) {
		p.logger.Debug(ctx, "cache record has a stale format version, treating as miss",
			observe.Field{Key: "cache.key", Value: key.String()},
			observe.Field{Key: "error", Value: err},
		)
		return nil, nil
	}
	if err == nil && entry.Key != key {
		err = errKeyMismatch
	}
	if err != nil {
		p.corrupt.Add(1)
		p.logger.Warn(ctx, "cache record failed verification, treating as miss",
			observe.Field{Key: "cache.key", Value: key.String()},
			observe.Field{Key: "error", Value: &CorruptEntryError{Key: key, Err: err}},
		)
		return nil, nil
	}
	return entry, nil
}

// Put writes the record for entry.Key, replacing any previous record.
func (p *Persistent) Put(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Key.IsZero() {
		return ErrInvalidKey
	}
	data := encodeRecord(entry)
	err := p.exec.Execute(ctx, "write", func(ctx context.Context) error {
		return p.backend.Write(ctx, entry.Key.RecordName(), data)
	})
	if err != nil {
		return unavailable("write", err)
	}
	return nil
}

func (p *Persistent) read(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := p.exec.Execute(ctx, "read", func(ctx context.Context) error {
		var err error
		data, err = p.backend.Read(ctx, name)
		if errors.Is(err, ErrRecordNotFound) {
			return resilience.Permanent(err)
		}
		return err
	})
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return nil, ErrRecordNotFound
	case err != nil:
		return nil, unavailable("read", err)
	}
	return data, nil
}

func (p *Persistent) remove(ctx context.Context, name string) error {
	err := p.exec.Execute(ctx, "delete", func(ctx context.Context) error {
		return p.backend.Delete(ctx, name)
	})
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// records lists the backend and keeps only well-formed record names, sorted.
func (p *Persistent) records(ctx context.Context) ([]string, error) {
	var names []string
	err := p.exec.Execute(ctx, "list", func(ctx context.Context) error {
		var err error
		names, err = p.backend.List(ctx)
		return err
	})
	if err != nil {
		return nil, unavailable("list", err)
	}
	out := names[:0]
	for _, name := range names {
		if _, ok := ParseRecordName(name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Clear deletes every record and resets hit counts. Backends implementing
// Dropper are cleared in one call.
func (p *Persistent) Clear(ctx context.Context) error {
	if d, ok := p.backend.(Dropper); ok {
		if err := p.exec.Execute(ctx, "drop", d.DropAll); err != nil {
			return unavailable("drop", err)
		}
	} else {
		names, err := p.records(ctx)
		if err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.parallelism)
		for _, name := range names {
			g.Go(func() error { return p.remove(gctx, name) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.hits = make(map[Key]int64)
	p.mu.Unlock()
	return nil
}

// RecordState classifies a persisted record.
type RecordState string

const (
	RecordOK      RecordState = "ok"
	RecordStale   RecordState = "stale"
	RecordCorrupt RecordState = "corrupt"
)

// RecordStatus is the verification result of one record.
type RecordStatus struct {
	Name     string        `json:"name" yaml:"name"`
	State    RecordState   `json:"state" yaml:"state"`
	Size     int           `json:"size" yaml:"size"`
	StoredAt time.Time     `json:"stored_at,omitempty" yaml:"stored_at,omitempty"`
	Runtime  time.Duration `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Err      error         `json:"-" yaml:"-"`
}

// Verify reads every record and checks its checksum, layout, version and key.
// Records deleted while the sweep runs are skipped.
func (p *Persistent) Verify(ctx context.Context) ([]RecordStatus, error) {
	names, err := p.records(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]RecordStatus, len(names))
	found := make([]bool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, name := range names {
		g.Go(func() error {
			data, err := p.read(gctx, name)
			if errors.Is(err, ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			statuses[i] = classify(name, data)
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := statuses[:0]
	for i := range statuses {
		if found[i] {
			out = append(out, statuses[i])
		}
	}
	return out, nil
}

func classify(name string, data []byte) RecordStatus {
	st := RecordStatus{Name: name, State: RecordOK, Size: len(data)}
	key, _ := ParseRecordName(name)
	entry, err := decodeRecord(data)
	switch {
	case errors.Is(err, errStaleVersion):
		st.State = RecordStale
		st.Err = err
	case err != nil:
		st.State = RecordCorrupt
		st.Err = &CorruptEntryError{Key: key, Err: err}
	case entry.Key != key:
		st.State = RecordCorrupt
		st.Err = &CorruptEntryError{Key: key, Err: errKeyMismatch}
	}
	if entry != nil {
		st.StoredAt = entry.StoredAt
		st.Runtime = entry.Runtime
	}
	return st
}

// PersistentStats summarizes a verification sweep.
type PersistentStats struct {
	Records   int           `json:"records" yaml:"records"`
	Bytes     int64         `json:"bytes" yaml:"bytes"`
	OK        int           `json:"ok" yaml:"ok"`
	Stale     int           `json:"stale" yaml:"stale"`
	Corrupt   int           `json:"corrupt" yaml:"corrupt"`
	TimeSaved time.Duration `json:"runtime_total" yaml:"runtime_total"`
}

// Summarize aggregates verification results.
func Summarize(statuses []RecordStatus) PersistentStats {
	var s PersistentStats
	for _, st := range statuses {
		s.Records++
		s.Bytes += int64(st.Size)
		switch st.State {
		case RecordOK:
			s.OK++
			s.TimeSaved += st.Runtime
		case RecordStale:
			s.Stale++
		case RecordCorrupt:
			s.Corrupt++
		}
	}
	return s
}

// Stats verifies every record and summarizes the result.
func (p *Persistent) Stats(ctx context.Context) (PersistentStats, error) {
	statuses, err := p.Verify(ctx)
	if err != nil {
		return PersistentStats{}, err
	}
	return Summarize(statuses), nil
}

// PruneOptions selects records for removal. At least one criterion must be
// set.
type PruneOptions struct {
	Stale     bool          // records written under another FormatVersion
	Corrupt   bool          // records that fail verification
	OlderThan time.Duration // valid records stored longer ago than this
	DryRun    bool
}

// PruneResult reports a prune sweep.
type PruneResult struct {
	Scanned int      `json:"scanned" yaml:"scanned"`
	Removed []string `json:"removed" yaml:"removed"`
}

// Prune deletes the records selected by opts.
func (p *Persistent) Prune(ctx context.Context, opts PruneOptions) (PruneResult, error) {
	if !opts.Stale && !opts.Corrupt && opts.OlderThan <= 0 {
		return PruneResult{}, fmt.Errorf("%w: prune needs at least one criterion", ErrInvalidConfig)
	}
	statuses, err := p.Verify(ctx)
	if err != nil {
		return PruneResult{}, err
	}

	cutoff := p.now().Add(-opts.OlderThan)
	res := PruneResult{Scanned: len(statuses)}
	for _, st := range statuses {
		switch {
		case opts.Stale && st.State == RecordStale,
			opts.Corrupt && st.State == RecordCorrupt,
			opts.OlderThan > 0 && st.State == RecordOK && st.StoredAt.Before(cutoff):
			res.Removed = append(res.Removed, st.Name)
		}
	}
	if opts.DryRun {
		return res, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for _, name := range res.Removed {
		g.Go(func() error { return p.remove(gctx, name) })
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

// CorruptReads returns how many reads found a corrupt record.
func (p *Persistent) CorruptReads() int64 {
	return p.corrupt.Load()
}

// Ping checks that the backend is reachable.
func (p *Persistent) Ping(ctx context.Context) error {
	if err := p.exec.Execute(ctx, "ping", p.backend.Ping); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the backend.
func (p *Persistent) Close() error {
	return p.backend.Close()
}

// Checker reports backend reachability and the state of the I/O guard.
func (p *Persistent) Checker(name string) health.Checker {
	return health.NewCheckerFunc(name, func(ctx context.Context) health.Result {
		state := p.exec.CircuitState()
		details := map[string]any{"circuit": state.String()}
		if b := p.exec.Bulkhead(); b != nil {
			details["bulkhead_rejected"] = b.Metrics().Rejected
		}
		if r := p.exec.RateLimiter(); r != nil {
			details["rate_limited"] = r.Metrics().Rejected
		}
		if state == resilience.StateOpen {
			return health.Unhealthy("backend circuit open", resilience.ErrCircuitOpen).WithDetails(details)
		}
		if err := p.Ping(ctx); err != nil {
			return health.Unhealthy("backend unreachable", err).WithDetails(details)
		}
		if state == resilience.StateHalfOpen {
			return health.Degraded("backend recovering").WithDetails(details)
		}
		return health.Healthy("backend reachable").WithDetails(details)
	})
}

var (
	_ Store   = (*Persistent)(nil)
	_ Clearer = (*Persistent)(nil)
)
