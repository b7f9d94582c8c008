package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestMemoize(t *testing.T) {
	for _, tc := range tierCases() {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.build(t)
			ctx := context.Background()
			var calls atomic.Int64
			square := Memoize(c, "square", func(_ context.Context, x int) (int, error) {
				calls.Add(1)
				return x * x, nil
			})

			for i := 0; i < 2; i++ {
				got, err := square(ctx, 9)
				if err != nil || got != 81 {
					t.Fatalf("square(9) = %d, %v", got, err)
				}
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", calls.Load())
			}
			if info := c.Info(); info.Hits != 1 || info.Misses != 1 {
				t.Errorf("hits = %d misses = %d, want 1 1", info.Hits, info.Misses)
			}
		})
	}
}

func TestMemoize_Keys(t *testing.T) {
	c := mustController(t, DefaultConfig())
	ctx := context.Background()
	var calls atomic.Int64
	body := func(_ context.Context, args []any) (string, error) {
		calls.Add(1)
		return args[0].(string) + "/" + args[1].(string), nil
	}
	join := Memoize(c, "join", body)
	joinV2 := Memoize(c, "join v2", body)

	tests := []struct {
		name  string
		fn    MemoFunc[[]any, string]
		args  []any
		calls int64
	}{
		{"first call", join, []any{"a", "b"}, 1},
		{"same args", join, []any{"a", "b"}, 1},
		{"other args", join, []any{"a", "c"}, 2},
		{"renamed function", joinV2, []any{"a", "b"}, 3},
	}
	for _, tt := range tests {
		if _, err := tt.fn(ctx, tt.args); err != nil {
			t.Fatalf("%s: error = %v", tt.name, err)
		}
		if calls.Load() != tt.calls {
			t.Errorf("%s: calls = %d, want %d", tt.name, calls.Load(), tt.calls)
		}
	}
}

func TestMemoize_ErrorNotCached(t *testing.T) {
	c := mustController(t, DefaultConfig())
	ctx := context.Background()
	boom := errors.New("boom")
	var calls atomic.Int64
	flaky := Memoize(c, "flaky", func(_ context.Context, x int) (int, error) {
		if calls.Add(1) == 1 {
			return 0, boom
		}
		return x + 1, nil
	})

	if _, err := flaky(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("first call error = %v, want boom", err)
	}
	if got, err := flaky(ctx, 1); err != nil || got != 2 {
		t.Fatalf("second call = %d, %v", got, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if info := c.Info(); info.Size != 1 {
		t.Errorf("size = %d, want 1", info.Size)
	}
}

func TestMemoize_Uncacheable(t *testing.T) {
	ctx := context.Background()

	t.Run("argument", func(t *testing.T) {
		c := mustController(t, DefaultConfig())
		var calls atomic.Int64
		drain := Memoize(c, "drain", func(_ context.Context, ch chan int) (int, error) {
			calls.Add(1)
			return cap(ch), nil
		})
		ch := make(chan int, 3)
		for i := 0; i < 2; i++ {
			if got, err := drain(ctx, ch); err != nil || got != 3 {
				t.Fatalf("drain() = %d, %v", got, err)
			}
		}
		if calls.Load() != 2 || c.Info().Passthroughs != 2 {
			t.Errorf("calls = %d passthroughs = %d, want 2 2", calls.Load(), c.Info().Passthroughs)
		}
	})

	t.Run("result", func(t *testing.T) {
		c := mustController(t, DefaultConfig())
		var calls atomic.Int64
		open := Memoize(c, "open", func(_ context.Context, n int) (chan int, error) {
			calls.Add(1)
			return make(chan int, n), nil
		})
		for i := 0; i < 2; i++ {
			ch, err := open(ctx, 2)
			if err != nil || cap(ch) != 2 {
				t.Fatalf("open(2) = %v, %v", ch, err)
			}
		}
		if calls.Load() != 2 || c.Info().Size != 0 {
			t.Errorf("calls = %d size = %d, want 2 0", calls.Load(), c.Info().Size)
		}
	})
}
