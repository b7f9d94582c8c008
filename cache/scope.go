package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/memocache/codec"
	"github.com/jonwraymond/memocache/observe"
)

// State is the lifecycle position of a Scope.
type State int

const (
	StateEnter State = iota
	StateFingerprinting
	StateLoading
	StateExecuting
	StateCapturing
	StateStoring
	StateBound
	StatePassthrough
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateEnter:
		return "enter"
	case StateFingerprinting:
		return "fingerprinting"
	case StateLoading:
		return "loading"
	case StateExecuting:
		return "executing"
	case StateCapturing:
		return "capturing"
	case StateStoring:
		return "storing"
	case StateBound:
		return "bound"
	case StatePassthrough:
		return "passthrough"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Block describes one guarded block invocation.
type Block struct {
	// ID identifies the block in logs. Optional.
	ID string

	// Code is the block's source text.
	Code string

	// Inputs are the values of the variables the block reads from outside.
	Inputs map[string]any

	// Outputs names the variables the block defines.
	Outputs []string
}

// Scope is one active guarded block. It is created by Controller.Enter and
// must be finalized with Restore or Commit, or discarded with Close. A Scope
// is not safe for concurrent use.
type Scope struct {
	ctrl    *Controller
	id      uuid.UUID
	meta    observe.ScopeMeta
	outputs []string
	key     Key
	state   State
	hit     bool
	values  map[string]any
	runtime time.Duration
	started time.Time
	done    bool
}

func (c *Controller) newScope(b Block) *Scope {
	return &Scope{
		ctrl:    c,
		id:      uuid.New(),
		meta:    c.meta(b),
		outputs: normalizeOutputs(b.Outputs),
		state:   StateEnter,
	}
}

func normalizeOutputs(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	n := 0
	for i, name := range out {
		if i > 0 && name == out[n-1] {
			continue
		}
		out[n] = name
		n++
	}
	return out[:n]
}

// ID returns a unique identifier for this invocation.
func (s *Scope) ID() string { return s.id.String() }

// Key returns the fingerprint, or the zero Key for a passthrough scope.
func (s *Scope) Key() Key { return s.key }

// Hit reports whether the outputs were found in the store.
func (s *Scope) Hit() bool { return s.hit }

// State returns the current lifecycle state.
func (s *Scope) State() State { return s.state }

// Outputs returns the declared output names, sorted.
func (s *Scope) Outputs() []string { return append([]string(nil), s.outputs...) }

// Runtime returns the recorded execution time of the cached computation on a
// hit, or the measured execution time after a committed miss.
func (s *Scope) Runtime() time.Duration { return s.runtime }

func (s *Scope) outcome() observe.Outcome {
	switch {
	case s == nil:
		return observe.OutcomeMiss
	case s.hit:
		return observe.OutcomeHit
	case s.state == StatePassthrough:
		return observe.OutcomePassthrough
	default:
		return observe.OutcomeMiss
	}
}

func (s *Scope) logger() observe.Logger {
	return s.ctrl.logger.WithScope(s.meta)
}

// load decodes the declared outputs from entry and marks the scope a hit.
func (s *Scope) load(entry *Entry) error {
	values := make(map[string]any, len(s.outputs))
	for _, name := range s.outputs {
		data, ok := entry.Values[name]
		if !ok {
			return &CorruptEntryError{Key: s.key, Err: fmt.Errorf("output %q not recorded", name)}
		}
		v, err := codec.Decode(data)
		if err != nil {
			return &CorruptEntryError{Key: s.key, Err: fmt.Errorf("output %q: %w", name, err)}
		}
		values[name] = v
	}
	s.values = values
	s.runtime = entry.Runtime
	s.hit = true
	s.state = StateLoading
	return nil
}

// Restore binds the loaded outputs into ns.
func (s *Scope) Restore(ns Namespace) error {
	if s.done {
		return ErrScopeClosed
	}
	if !s.hit {
		return ErrNotHit
	}
	if ns == nil {
		return ErrNilNamespace
	}
	for name, v := range s.values {
		ns[name] = v
	}
	s.state = StateBound
	s.done = true
	return nil
}

// Commit finalizes the scope after the block ran. On a miss it captures the
// declared outputs from ns and stores them once; on a hit it behaves like
// Restore; on a passthrough it only closes the scope.
//
// A declared output missing from ns fails with *IncompleteCaptureError and
// nothing is stored. Outputs the codec cannot encode are logged and the
// result is left uncached. Store failures are never returned.
func (s *Scope) Commit(ctx context.Context, ns Namespace) error {
	if s.done {
		return ErrScopeClosed
	}
	switch s.state {
	case StateLoading:
		return s.Restore(ns)
	case StatePassthrough:
		s.done = true
		return nil
	case StateExecuting:
	default:
		return fmt.Errorf("cache: cannot commit scope in state %s", s.state)
	}

	if err := ctx.Err(); err != nil {
		s.discard()
		return err
	}
	if ns == nil {
		s.discard()
		return ErrNilNamespace
	}

	s.state = StateCapturing
	values := make(map[string][]byte, len(s.outputs))
	var missing []string
	var unsupported error
	for _, name := range s.outputs {
		v, ok := ns[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if unsupported != nil {
			continue
		}
		data, err := codec.Encode(v)
		if err != nil {
			var uerr *UnsupportedValueError
			if errors.As(err, &uerr) {
				err = uerr.WithName(name)
			}
			unsupported = err
			continue
		}
		values[name] = data
	}
	if len(missing) > 0 {
		s.discard()
		return &IncompleteCaptureError{Missing: missing}
	}

	c := s.ctrl
	s.runtime = c.now().Sub(s.started)
	if unsupported != nil {
		s.logger().Info(ctx, "block outputs cannot be encoded, result not cached",
			observe.Field{Key: "scope_id", Value: s.ID()},
			observe.Field{Key: "error", Value: unsupported},
		)
		c.unstored.Add(1)
		s.state = StateBound
		s.done = true
		return nil
	}

	s.state = StateStoring
	c.put(ctx, s.meta, &Entry{
		Key:           s.key,
		Values:        values,
		StoredAt:      c.now().UTC(),
		FormatVersion: FormatVersion,
		Runtime:       s.runtime,
	})
	s.state = StateBound
	s.done = true
	return nil
}

// Close discards the scope unless it was already finalized. It is safe to
// call more than once and is meant to be deferred right after Enter.
func (s *Scope) Close() {
	if s == nil || s.done {
		return
	}
	s.discard()
}

func (s *Scope) discard() {
	s.state = StateDiscarded
	s.done = true
	s.ctrl.discards.Add(1)
}
