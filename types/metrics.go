package types

import "time"

// AggregateMetrics are process-wide counters for one backend, updated
// on every lifecycle and execution event.
type AggregateMetrics struct {
	TotalCreated      int64   `json:"total_created"`
	TotalDestroyed    int64   `json:"total_destroyed"`
	TotalExecutions   int64   `json:"total_executions"`
	TotalErrors       int64   `json:"total_errors"`
	CurrentActive     int64   `json:"current_active"`
	AverageLifetimeMs float64 `json:"average_lifetime_ms"`
	TotalCost         float64 `json:"total_cost"`
}

// RecordCreate folds a resource creation into the aggregate.
func (m *AggregateMetrics) RecordCreate() {
	m.TotalCreated++
	m.CurrentActive++
}

// RecordDestroy folds a resource destruction into the aggregate,
// updating the running weighted average lifetime:
// newAvg = (oldAvg*(n-1) + lifetime) / n where n counts destroys.
func (m *AggregateMetrics) RecordDestroy(lifetime time.Duration) {
	m.TotalDestroyed++
	if m.CurrentActive > 0 {
		m.CurrentActive--
	}
	n := float64(m.TotalDestroyed)
	m.AverageLifetimeMs = (m.AverageLifetimeMs*(n-1) + float64(lifetime.Milliseconds())) / n
}

// RecordExecution folds an execution result into the aggregate.
func (m *AggregateMetrics) RecordExecution(success bool) {
	m.TotalExecutions++
	if !success {
		m.TotalErrors++
	}
}
