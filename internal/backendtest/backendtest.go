// Package backendtest checks a cache.Backend against the record storage
// contract. Backend packages call Run from their own tests.
package backendtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/memocache/cache"
)

// Factory returns an empty backend. Run closes it when the subtest ends.
type Factory func(t *testing.T) cache.Backend

func recordName(i int) string {
	var k cache.Key
	k[0] = byte(i)
	k[31] = byte(i >> 8)
	return k.RecordName()
}

// Run exercises newBackend against the contract every backend must honor.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	open := func(t *testing.T) cache.Backend {
		b := newBackend(t)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}

	t.Run("ReadMissing", func(t *testing.T) {
		b := open(t)
		_, err := b.Read(context.Background(), recordName(1))
		if !errors.Is(err, cache.ErrRecordNotFound) {
			t.Fatalf("Read(missing) error = %v, want ErrRecordNotFound", err)
		}
	})

	t.Run("WriteRead", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		name := recordName(2)
		want := []byte("record body")
		if err := b.Write(ctx, name, want); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got, err := b.Read(ctx, name)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Read() = %q, want %q", got, want)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		name := recordName(3)
		_ = b.Write(ctx, name, []byte("first"))
		if err := b.Write(ctx, name, []byte("second")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got, _ := b.Read(ctx, name)
		if string(got) != "second" {
			t.Errorf("Read() = %q, want last write", got)
		}
	})

	t.Run("EmptyRecord", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		name := recordName(4)
		if err := b.Write(ctx, name, nil); err != nil {
			t.Fatalf("Write(nil) error = %v", err)
		}
		got, err := b.Read(ctx, name)
		if err != nil || len(got) != 0 {
			t.Errorf("Read() = %q, %v; want empty record", got, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		name := recordName(5)
		_ = b.Write(ctx, name, []byte("x"))
		if err := b.Delete(ctx, name); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := b.Read(ctx, name); !errors.Is(err, cache.ErrRecordNotFound) {
			t.Errorf("Read() after Delete error = %v, want ErrRecordNotFound", err)
		}
		if err := b.Delete(ctx, name); err != nil {
			t.Errorf("Delete(missing) error = %v, want nil", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		want := []string{recordName(6), recordName(7), recordName(8)}
		for _, name := range want {
			if err := b.Write(ctx, name, []byte(name)); err != nil {
				t.Fatalf("Write(%s) error = %v", name, err)
			}
		}
		got, err := b.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		sort.Strings(got)
		sort.Strings(want)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("List() = %v, want %v", got, want)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		b := open(t)
		if err := b.Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		b := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := b.Write(ctx, recordName(9), []byte("x")); !errors.Is(err, context.Canceled) {
			t.Errorf("Write() with canceled context error = %v, want context.Canceled", err)
		}
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		name := recordName(10)
		bodies := [][]byte{
			bytes.Repeat([]byte("a"), 4096),
			bytes.Repeat([]byte("b"), 4096),
		}

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(body []byte) {
				defer wg.Done()
				_ = b.Write(ctx, name, body)
				if got, err := b.Read(ctx, name); err == nil {
					if !bytes.Equal(got, bodies[0]) && !bytes.Equal(got, bodies[1]) {
						t.Error("reader observed a partial record")
					}
				}
			}(bodies[i%2])
		}
		wg.Wait()
	})

	t.Run("PersistentStore", func(t *testing.T) {
		b := open(t)
		p, err := cache.NewPersistent(b, cache.PersistentConfig{})
		if err != nil {
			t.Fatalf("NewPersistent() error = %v", err)
		}
		ctx := context.Background()
		f := cache.NewFingerprinter()
		key, err := f.Fingerprint("y = x * 2", cache.FormatVersion, map[string]any{"x": 1})
		if err != nil {
			t.Fatal(err)
		}
		entry := &cache.Entry{
			Key:           key,
			Values:        map[string][]byte{"y": []byte("2")},
			StoredAt:      time.Unix(1_700_000_000, 0),
			FormatVersion: cache.FormatVersion,
		}
		if err := p.Put(ctx, entry); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, ok, err := p.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Get() = %v, %v; want hit", ok, err)
		}
		if string(got.Values["y"]) != "2" {
			t.Errorf("Get().Values = %v", got.Values)
		}
		stats, err := p.Stats(ctx)
		if err != nil || stats.Records != 1 || stats.OK != 1 {
			t.Errorf("Stats() = %+v, %v; want one ok record", stats, err)
		}

		if err := p.Clear(ctx); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if _, ok, err := p.Get(ctx, key); ok || err != nil {
			t.Errorf("Get() after Clear = %v, %v; want miss", ok, err)
		}
		if names, _ := b.List(ctx); len(names) != 0 {
			t.Errorf("List() after Clear = %v, want empty", names)
		}
	})
}
