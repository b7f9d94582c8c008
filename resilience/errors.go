package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrRateLimited is returned when no request token frees up in time.
	ErrRateLimited = errors.New("resilience: request rate exceeded")
)

// Guard stages reported by GuardError.
const (
	StageRate     = "rate"
	StageBulkhead = "bulkhead"
	StageCircuit  = "circuit"
	StageTimeout  = "timeout"
)

// GuardError reports a backend call that the guard refused or cut short,
// as opposed to one the backend itself failed. Op is the backend operation
// (read, write, list, delete, drop, ping) and Stage the pattern that stopped
// it.
type GuardError struct {
	Op    string
	Stage string
	Err   error
}

func (e *GuardError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Stage, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }

// GuardStage returns Stage. Packages that cannot import resilience match
// on this method to label metrics.
func (e *GuardError) GuardStage() string { return e.Stage }

// StageOf returns the guard stage that stopped err, or "" when err came from
// the operation itself.
func StageOf(err error) string {
	var g *GuardError
	if errors.As(err, &g) {
		return g.Stage
	}
	return ""
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying and not a backend failure.
// The circuit breaker ignores it and Retry returns it immediately.
// Permanent(nil) returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or any error it wraps, was marked with
// Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
