package codec

import (
	"encoding"
	"sync"
)

// Serializable is implemented by value families outside the built-in set.
//
// Contract:
//   - CacheTypeName must be stable across processes and unique per type.
//   - MarshalBinary must be deterministic: equal values yield equal bytes.
//   - The type must be registered with Register before it is encoded or decoded.
type Serializable interface {
	CacheTypeName() string
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() Serializable)
)

// Register makes a Serializable type available to Encode and Decode.
// The factory must return a fresh, settable value (usually a pointer).
// Register panics if the factory is nil or the type name is already taken.
func Register(factory func() Serializable) {
	if factory == nil {
		panic("codec: Register factory is nil")
	}
	name := factory().CacheTypeName()

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic("codec: Register called twice for type " + name)
	}
	registry[name] = factory
}

// Registered reports whether a type name has been registered.
func Registered(name string) bool {
	_, ok := lookup(name)
	return ok
}

func lookup(name string) (func() Serializable, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}
