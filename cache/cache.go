package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// FormatVersion is embedded in every key and every persisted record. Bumping
// it invalidates all prior entries without scanning them.
const FormatVersion = 1

// RecordExt is the suffix of persisted record names.
const RecordExt = ".mrec"

// Key is the fingerprint of one guarded block invocation.
type Key [sha256.Size]byte

// String returns the key as 64 lowercase hex characters.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key has not been computed.
func (k Key) IsZero() bool {
	return k == Key{}
}

// RecordName returns the name under which persistent backends store the key.
func (k Key) RecordName() string {
	return k.String() + RecordExt
}

// ParseKey parses the hex form produced by Key.String.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != hex.EncodedLen(len(k)) || strings.ToLower(s) != s {
		return k, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return k, nil
}

// ParseRecordName extracts the key from a record name. Names that are not
// records (temp files, foreign objects) report false.
func ParseRecordName(name string) (Key, bool) {
	base, ok := strings.CutSuffix(name, RecordExt)
	if !ok {
		return Key{}, false
	}
	k, err := ParseKey(base)
	return k, err == nil
}

// Entry is the stored result of one miss execution. Values maps each declared
// output name to its codec encoding. An entry is immutable once stored except
// HitCount, which the holding tier maintains.
type Entry struct {
	Key           Key
	Values        map[string][]byte
	StoredAt      time.Time
	HitCount      int64
	FormatVersion int
	Runtime       time.Duration
}

// Size approximates the memory held by the entry's values.
func (e *Entry) Size() int64 {
	var n int64
	for name, v := range e.Values {
		n += int64(len(name) + len(v))
	}
	return n
}

// snapshot returns a shallow copy safe to hand to callers. Values is shared;
// it is never mutated after Put.
func (e *Entry) snapshot() *Entry {
	cp := *e
	return &cp
}

// Store is a tier mapping keys to entries.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: a miss is (nil, false, nil). Errors mean the tier could not
// answer; corrupt records read as misses.
// - Ownership: Put takes ownership of the entry; Get returns a copy whose
// HitCount reflects the hit being served.
type Store interface {
	// Get retrieves the entry for key and counts a hit.
	Get(ctx context.Context, key Key) (*Entry, bool, error)

	// Put stores or overwrites the entry under entry.Key.
	Put(ctx context.Context, entry *Entry) error

	// Contains reports whether key is present without counting a hit.
	Contains(ctx context.Context, key Key) (bool, error)
}

// Clearer is implemented by stores that can drop every entry.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Sizer is implemented by stores that know their entry count cheaply.
type Sizer interface {
	Len() int
}
