package cache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jonwraymond/memocache/codec"
	"github.com/jonwraymond/memocache/resilience"
)

// Sentinel errors for cache operations.
var (
	ErrNilStore       = errors.New("cache: store is nil")
	ErrRecordNotFound = errors.New("cache: record not found")
	ErrScopeClosed    = errors.New("cache: scope is closed")
	ErrNotHit         = errors.New("cache: scope is not a hit")
	ErrInvalidConfig  = errors.New("cache: invalid config")
	ErrEntryTooLarge  = errors.New("cache: entry exceeds store budget")
	ErrInvalidKey     = errors.New("cache: key is invalid")
	ErrInvalidName    = errors.New("cache: record name is invalid")
	ErrNilNamespace   = errors.New("cache: namespace is nil")
)

// UnsupportedValueError reports a value the codec cannot encode.
type UnsupportedValueError = codec.UnsupportedValueError

// IncompleteCaptureError is returned by Commit when declared outputs are not
// bound in the namespace after the block ran.
type IncompleteCaptureError struct {
	Missing []string
}

func (e *IncompleteCaptureError) Error() string {
	return fmt.Sprintf("cache: declared outputs not defined by block: %s", strings.Join(e.Missing, ", "))
}

// CorruptEntryError reports a persisted record that failed verification.
type CorruptEntryError struct {
	Key Key
	Err error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("cache: corrupt record %s: %v", e.Key, e.Err)
}

func (e *CorruptEntryError) Unwrap() error {
	return e.Err
}

// StorageUnavailableError reports a backend that could not serve a request.
// Stage names the I/O guard that refused or cut short the call (rate,
// bulkhead, circuit, timeout); it is empty when the backend itself failed.
type StorageUnavailableError struct {
	Op    string
	Stage string
	Err   error
}

func (e *StorageUnavailableError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("cache: storage unavailable during %s (%s): %v", e.Op, e.Stage, e.Err)
	}
	return fmt.Sprintf("cache: storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) *StorageUnavailableError {
	return &StorageUnavailableError{Op: op, Stage: resilience.StageOf(err), Err: err}
}
