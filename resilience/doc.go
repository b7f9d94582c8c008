// Package resilience guards storage I/O for the persistent cache tier.
//
// Backends such as a shared directory, Redis or S3 can stall or fail. The
// patterns here keep a notebook run moving when they do:
//
//   - Circuit Breaker: stops calling a backend after repeated failures so a
//     dead store costs one fast error per block instead of a timeout each.
//
//   - Retry: retries transient failures with backoff. Errors marked with
//     Permanent (missing records, corrupt data) are never retried.
//
//   - Bulkhead: bounds concurrent I/O against one backend.
//
//   - Rate Limiter: caps the request rate sent to stores that throttle or
//     bill per request, such as S3 and hosted Redis.
//
//   - Timeout: bounds each attempt.
//
// Every call names its backend operation. When the guard rather than the
// backend stops a call, the error is a *GuardError carrying that operation
// and the stage that stopped it.
//
// # Usage
//
// Most callers build the standard stack from a StoreConfig:
//
//	exec := resilience.NewStoreExecutor(resilience.StoreConfig{
//	    Timeout:          2 * time.Second,
//	    MaxAttempts:      3,
//	    FailureThreshold: 5,
//	})
//
//	err := exec.Execute(ctx, "write", func(ctx context.Context) error {
//	    return backend.Write(ctx, name, data)
//	})
//
// Patterns may also be composed by hand with NewExecutor.
package resilience
