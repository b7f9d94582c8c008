package cache

import (
	"crypto/sha256"
	"errors"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jonwraymond/memocache/codec"
)

// Fingerprinter derives the key of a guarded block invocation.
//
// Contract:
// - Determinism: same code, version and bindings must produce the same key,
// regardless of map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: a binding the codec cannot encode fails with
// *UnsupportedValueError naming the variable.
type Fingerprinter interface {
	Fingerprint(code string, version int, bindings map[string]any) (Key, error)
}

// DefaultFingerprinter digests code and codec-encoded bindings with SHA-256.
type DefaultFingerprinter struct{}

// NewFingerprinter creates the default fingerprinter.
func NewFingerprinter() *DefaultFingerprinter {
	return &DefaultFingerprinter{}
}

// Fingerprint computes
//
//	sha256(version | len,sha256(code) | count | (len,name | len,sha256(value))...)
//
// with bindings in name order. Every variable-width field is length-prefixed
// so shifting bytes between adjacent fields changes the key.
func (f *DefaultFingerprinter) Fingerprint(code string, version int, bindings map[string]any) (Key, error) {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	codeSum := sha256.Sum256([]byte(NormalizeCode(code)))

	buf := make([]byte, 0, 64+len(names)*48)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(version)))
	buf = protowire.AppendBytes(buf, codeSum[:])
	buf = protowire.AppendVarint(buf, uint64(len(names)))

	for _, name := range names {
		data, err := codec.Encode(bindings[name])
		if err != nil {
			var uerr *UnsupportedValueError
			if errors.As(err, &uerr) {
				return Key{}, uerr.WithName(name)
			}
			return Key{}, err
		}
		sum := sha256.Sum256(data)
		buf = protowire.AppendString(buf, name)
		buf = protowire.AppendBytes(buf, sum[:])
	}

	return Key(sha256.Sum256(buf)), nil
}

// NormalizeCode converts line endings to LF and drops trailing newlines.
// Everything else, including indentation and comments, is significant.
func NormalizeCode(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.ReplaceAll(code, "\r", "\n")
	return strings.TrimRight(code, "\n")
}

// Ensure DefaultFingerprinter implements Fingerprinter
var _ Fingerprinter = (*DefaultFingerprinter)(nil)
