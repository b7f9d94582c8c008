// Package observe provides observability primitives for cache scopes.
//
// It is a pure instrumentation library: structured logging, OpenTelemetry
// spans and metrics for guarded blocks, plus exporter setup. It performs no
// caching itself; the cache Controller wires an Observer in through options.
package observe
