package health

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
)

// MemoryCheckerConfig configures a MemoryChecker.
type MemoryCheckerConfig struct {
	// Name identifies the checker. Default: "memory"
	Name string

	// Budget is the byte count treated as full. Default: the runtime memory
	// limit when one is set, otherwise the memory obtained from the OS.
	Budget int64

	// Footprint reports the bytes held by the component under check, such
	// as an in-process cache tier. When nil the Go heap is measured instead.
	Footprint func() int64

	// WarningThreshold is the budget fraction that reports Degraded.
	// Default: 0.8
	WarningThreshold float64

	// CriticalThreshold is the budget fraction that reports Unhealthy.
	// Default: 0.95
	CriticalThreshold float64
}

// MemoryChecker compares a memory footprint with a budget.
type MemoryChecker struct {
	config MemoryCheckerConfig
}

// NewMemoryChecker creates a memory checker. Out-of-range thresholds fall
// back to their defaults.
func NewMemoryChecker(config MemoryCheckerConfig) *MemoryChecker {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold > 1 {
		config.CriticalThreshold = 0.95
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = min(config.WarningThreshold+0.1, 1)
	}
	return &MemoryChecker{config: config}
}

// Name returns the checker name.
func (m *MemoryChecker) Name() string {
	return m.config.Name
}

// Check measures the footprint against the budget.
func (m *MemoryChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	used := int64(stats.HeapAlloc)
	if m.config.Footprint != nil {
		used = m.config.Footprint()
	}
	budget := m.config.Budget
	if budget <= 0 {
		budget = defaultBudget(&stats)
	}

	details := map[string]any{
		"used_bytes":   used,
		"budget_bytes": budget,
		"heap_alloc":   stats.HeapAlloc,
		"num_gc":       stats.NumGC,
	}
	if budget <= 0 {
		return Healthy("memory budget unknown").WithDetails(details)
	}

	ratio := float64(used) / float64(budget)
	details["usage_percent"] = ratio * 100

	switch {
	case ratio >= m.config.CriticalThreshold:
		return Unhealthy(fmt.Sprintf("memory usage critical: %.1f%%", ratio*100), ErrBudgetExceeded).WithDetails(details)
	case ratio >= m.config.WarningThreshold:
		return Degraded(fmt.Sprintf("memory usage high: %.1f%%", ratio*100)).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("memory usage normal: %.1f%%", ratio*100)).WithDetails(details)
	}
}

func defaultBudget(stats *runtime.MemStats) int64 {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return limit
	}
	return int64(stats.Sys)
}
