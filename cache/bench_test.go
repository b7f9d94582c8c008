package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/jonwraymond/memocache/codec"
)

// BenchmarkFingerprint_Scalars measures keying a block with a few scalar inputs.
func BenchmarkFingerprint_Scalars(b *testing.B) {
	f := NewFingerprinter()
	bindings := map[string]any{"x": 1, "rate": 0.5, "label": "train", "on": true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.Fingerprint("model = fit(x, rate, label, on)", FormatVersion, bindings)
	}
}

// BenchmarkFingerprint_Frame measures keying a block that reads a 10k row frame.
func BenchmarkFingerprint_Frame(b *testing.B) {
	prices := make([]float64, 10_000)
	ids := make([]int64, 10_000)
	for i := range prices {
		prices[i] = float64(i) * 1.5
		ids[i] = int64(i)
	}
	df := codec.Frame{Columns: []codec.Column{
		codec.Int64Column("id", ids...),
		codec.Float64Column("price", prices...),
	}}
	f := NewFingerprinter()
	bindings := map[string]any{"df": df}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.Fingerprint("summary = describe(df)", FormatVersion, bindings)
	}
}

// BenchmarkEphemeral_GetHit measures ephemeral hit performance.
func BenchmarkEphemeral_GetHit(b *testing.B) {
	s := NewEphemeral()
	ctx := context.Background()
	e := testEntry(b, "a", map[string][]byte{"y": {1}})
	_ = s.Put(ctx, e)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = s.Get(ctx, e.Key)
	}
}

// BenchmarkBounded_PutEvict measures inserts into a full bounded store.
func BenchmarkBounded_PutEvict(b *testing.B) {
	s := NewBounded(BoundedConfig{Capacity: 64})
	ctx := context.Background()
	entries := make([]*Entry, 1024)
	for i := range entries {
		entries[i] = testEntry(b, fmt.Sprint(i), map[string][]byte{"y": {byte(i)}})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Put(ctx, entries[i%len(entries)])
	}
}

// BenchmarkBounded_Concurrent measures mixed parallel access.
func BenchmarkBounded_Concurrent(b *testing.B) {
	s := NewBounded(BoundedConfig{Capacity: 128})
	ctx := context.Background()
	entries := make([]*Entry, 256)
	for i := range entries {
		entries[i] = testEntry(b, fmt.Sprint(i), nil)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			e := entries[i%len(entries)]
			if i%4 == 0 {
				_ = s.Put(ctx, e)
			} else {
				_, _, _ = s.Get(ctx, e.Key)
			}
			i++
		}
	})
}

// BenchmarkRecord_EncodeDecode measures the persistent record round trip.
func BenchmarkRecord_EncodeDecode(b *testing.B) {
	e := sampleEntry(b)
	e.Values["big"] = make([]byte, 64<<10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := decodeRecord(encodeRecord(e)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkController_RunHit measures the full hit path of a guarded block.
func BenchmarkController_RunHit(b *testing.B) {
	c, _ := New(DefaultConfig())
	ctx := context.Background()
	fn := func(_ context.Context, ns Namespace) error {
		ns["y"] = ns["x"].(int) * 2
		return nil
	}
	ns := Namespace{"x": 1}
	block := Block{Code: "y = x * 2", Inputs: ns.Select("x"), Outputs: []string{"y"}}
	_, _ = c.Run(ctx, block, ns, fn)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Run(ctx, block, Namespace{"x": 1}, fn)
	}
}

// BenchmarkController_RunPersistentHit measures a hit served from disk.
func BenchmarkController_RunPersistentHit(b *testing.B) {
	c, err := New(PersistentDirConfig(b.TempDir()))
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()
	fn := func(_ context.Context, ns Namespace) error {
		ns["rows"] = make([]float64, 1000)
		return nil
	}
	block := Block{Code: "rows = zeros(1000)", Outputs: []string{"rows"}}
	_, _ = c.Run(ctx, block, Namespace{}, fn)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Run(ctx, block, Namespace{}, fn)
	}
}
