package health

import (
	"context"
	"errors"
	"testing"
)

func TestNewMemoryChecker_Defaults(t *testing.T) {
	tests := []struct {
		name         string
		cfg          MemoryCheckerConfig
		wantWarning  float64
		wantCritical float64
	}{
		{"zero", MemoryCheckerConfig{}, 0.8, 0.95},
		{"custom", MemoryCheckerConfig{WarningThreshold: 0.7, CriticalThreshold: 0.9}, 0.7, 0.9},
		{"warning out of range", MemoryCheckerConfig{WarningThreshold: 1.5}, 0.8, 0.95},
		{"critical below warning", MemoryCheckerConfig{WarningThreshold: 0.9, CriticalThreshold: 0.7}, 0.9, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMemoryChecker(tt.cfg)
			if c.config.WarningThreshold != tt.wantWarning || c.config.CriticalThreshold != tt.wantCritical {
				t.Errorf("thresholds = %v/%v, want %v/%v",
					c.config.WarningThreshold, c.config.CriticalThreshold, tt.wantWarning, tt.wantCritical)
			}
		})
	}
}

func TestMemoryChecker_Name(t *testing.T) {
	if got := NewMemoryChecker(MemoryCheckerConfig{}).Name(); got != "memory" {
		t.Errorf("Name() = %q, want memory", got)
	}
	if got := NewMemoryChecker(MemoryCheckerConfig{Name: "cache.ephemeral"}).Name(); got != "cache.ephemeral" {
		t.Errorf("Name() = %q, want cache.ephemeral", got)
	}
}

func TestMemoryChecker_Footprint(t *testing.T) {
	tests := []struct {
		name string
		used int64
		want Status
	}{
		{"empty", 0, StatusHealthy},
		{"normal", 500, StatusHealthy},
		{"high", 850, StatusDegraded},
		{"critical", 960, StatusUnhealthy},
		{"over budget", 5000, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMemoryChecker(MemoryCheckerConfig{
				Budget:    1000,
				Footprint: func() int64 { return tt.used },
			})
			res := c.Check(context.Background())
			if res.Status != tt.want {
				t.Errorf("Status = %v, want %v (%s)", res.Status, tt.want, res.Message)
			}
			if res.Details["used_bytes"] != tt.used || res.Details["budget_bytes"] != int64(1000) {
				t.Errorf("Details = %v", res.Details)
			}
			if tt.want == StatusUnhealthy && !errors.Is(res.Error, ErrBudgetExceeded) {
				t.Errorf("Error = %v, want ErrBudgetExceeded", res.Error)
			}
		})
	}
}

func TestMemoryChecker_Heap(t *testing.T) {
	res := NewMemoryChecker(MemoryCheckerConfig{}).Check(context.Background())
	if budget, _ := res.Details["budget_bytes"].(int64); budget <= 0 {
		t.Errorf("Details = %v, want a default budget", res.Details)
	}
	if _, ok := res.Details["heap_alloc"]; !ok {
		t.Errorf("Details = %v, want heap_alloc", res.Details)
	}

	tiny := NewMemoryChecker(MemoryCheckerConfig{Budget: 1}).Check(context.Background())
	if tiny.Status != StatusUnhealthy {
		t.Errorf("Status = %v, a one byte budget should be exceeded", tiny.Status)
	}
}

func TestMemoryChecker_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := NewMemoryChecker(MemoryCheckerConfig{}).Check(ctx); res.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", res.Status)
	}
}
