package cache

import (
	"context"
	"fmt"
)

// MemoFunc is a function of one argument that Memoize can cache.
type MemoFunc[A, R any] func(ctx context.Context, arg A) (R, error)

const (
	memoArg    = "arg"
	memoResult = "result"
)

// Memoize wraps fn so each call runs as a guarded block keyed by name and the
// encoded argument. name stands in for source code in the fingerprint: change
// it whenever fn's behavior changes. Pass several arguments as a slice or a
// registered codec.Serializable struct.
//
// Arguments the codec cannot encode run fn uncached. Results it cannot encode
// are returned but not stored. Errors from fn are returned unchanged and
// never cached.
func Memoize[A, R any](c *Controller, name string, fn MemoFunc[A, R]) MemoFunc[A, R] {
	code := "memoize " + name
	return func(ctx context.Context, arg A) (R, error) {
		var zero R
		ns := Namespace{memoArg: arg}
		b := Block{
			ID:      name,
			Code:    code,
			Inputs:  ns.Select(memoArg),
			Outputs: []string{memoResult},
		}
		_, err := c.Run(ctx, b, ns, func(ctx context.Context, ns Namespace) error {
			r, err := fn(ctx, arg)
			if err != nil {
				return err
			}
			ns[memoResult] = r
			return nil
		})
		if err != nil {
			return zero, err
		}

		v := ns[memoResult]
		if v == nil {
			return zero, nil
		}
		r, ok := v.(R)
		if !ok {
			return zero, fmt.Errorf("cache: memoized %s result is %T, want %T", name, v, zero)
		}
		return r, nil
	}
}
