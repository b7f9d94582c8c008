// Package health reports whether cache stores are usable.
//
// A Checker reports one component's Status: Healthy, Degraded or Unhealthy.
// For the cache that means "the backend answers", "the backend answers but
// the controller fell back to memory", or "the backend is down".
//
//	agg := health.NewAggregator()
//	agg.Register("store", health.NewPingChecker("store", backend.Ping))
//	report := agg.Report(ctx)
//	fmt.Println(report.Status)
package health
