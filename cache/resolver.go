package cache

import (
	"context"
	"fmt"
	"sort"
)

// Resolver answers which variables a block reads and defines. It is provided
// by the runtime's dependency tracker.
type Resolver interface {
	// ResolveInputs returns the current values of the variables the block
	// reads that are defined outside it.
	ResolveInputs(ctx context.Context, blockID string) (map[string]any, error)

	// ResolveOutputs returns the names the block defines and later blocks
	// may read.
	ResolveOutputs(ctx context.Context, blockID string) ([]string, error)
}

// StaticResolver is a Resolver backed by fixed tables.
type StaticResolver struct {
	Inputs  map[string]map[string]any
	Outputs map[string][]string
}

// ResolveInputs returns a copy of the block's input table.
func (r *StaticResolver) ResolveInputs(_ context.Context, blockID string) (map[string]any, error) {
	in, ok := r.Inputs[blockID]
	if !ok {
		if _, known := r.Outputs[blockID]; !known {
			return nil, fmt.Errorf("cache: unknown block %q", blockID)
		}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out, nil
}

// ResolveOutputs returns the block's output names, sorted.
func (r *StaticResolver) ResolveOutputs(_ context.Context, blockID string) ([]string, error) {
	names, ok := r.Outputs[blockID]
	if !ok {
		if _, known := r.Inputs[blockID]; !known {
			return nil, fmt.Errorf("cache: unknown block %q", blockID)
		}
	}
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out, nil
}

// Namespace is the set of variable bindings a block reads and writes.
type Namespace map[string]any

// Select returns the bindings for names that are defined. It is the usual way
// to build Block.Inputs from a block's read set.
func (ns Namespace) Select(names ...string) map[string]any {
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := ns[name]; ok {
			out[name] = v
		}
	}
	return out
}

var _ Resolver = (*StaticResolver)(nil)
