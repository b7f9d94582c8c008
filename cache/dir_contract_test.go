package cache_test

import (
	"testing"

	"github.com/jonwraymond/memocache/cache"
	"github.com/jonwraymond/memocache/internal/backendtest"
)

func TestDirBackend_Contract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) cache.Backend {
		b, err := cache.NewDirBackend(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		return b
	})
}
