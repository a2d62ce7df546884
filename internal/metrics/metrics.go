// Package metrics tracks per-tool execution statistics for the health
// endpoint and operator tooling.
package metrics

import (
	"sync"
	"time"
)

// ToolMetrics aggregates executions of a single tool.
type ToolMetrics struct {
	Tool                string  `json:"tool"`
	TotalExecutions     int64   `json:"totalExecutions"`
	SuccessCount        int64   `json:"successCount"`
	FailureCount        int64   `json:"failureCount"`
	AverageDurationMs   float64 `json:"averageDurationMs"`
	LastExecutedAtMilli int64   `json:"lastExecutedAt,omitempty"`
}

// Tracker records tool execution outcomes.
type Tracker struct {
	metrics map[string]*ToolMetrics
	mu      sync.RWMutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		metrics: make(map[string]*ToolMetrics),
	}
}

// Track records one execution of the named tool.
func (t *Tracker) Track(tool string, success bool, durationMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, exists := t.metrics[tool]
	if !exists {
		m = &ToolMetrics{Tool: tool}
		t.metrics[tool] = m
	}

	m.TotalExecutions++
	if success {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}

	// Running average keeps the tracker O(1) per execution.
	m.AverageDurationMs = (m.AverageDurationMs*float64(m.TotalExecutions-1) + durationMs) / float64(m.TotalExecutions)
	m.LastExecutedAtMilli = time.Now().UnixMilli()
}

// Snapshot returns a copy of all per-tool metrics.
func (t *Tracker) Snapshot() []ToolMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ToolMetrics, 0, len(t.metrics))
	for _, m := range t.metrics {
		out = append(out, *m)
	}
	return out
}

// ForTool returns metrics for one tool, or nil if it has never executed.
func (t *Tracker) ForTool(tool string) *ToolMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m, exists := t.metrics[tool]
	if !exists {
		return nil
	}
	copied := *m
	return &copied
}
