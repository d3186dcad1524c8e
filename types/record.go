package types

import (
	"time"
	"unicode/utf8"
)

// Bounds for per-resource history. Oldest entries are evicted first.
const (
	MaxExecutionHistory = 100
	MaxLogHistory       = 100

	MaxOutputChars = 1000
	MaxErrorChars  = 500
)

// ExecutionLogEntry describes one completed execution inside a
// resource. Entries are immutable once appended.
type ExecutionLogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	ExitCode   int       `json:"exit_code"`
	Language   string    `json:"language,omitempty"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// LogEntry is a single stored log line for a resource.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
}

// LogOptions filter stored log history. Zero values mean no filter.
type LogOptions struct {
	Since time.Time `json:"since,omitempty"`
	Level string    `json:"level,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// ResourceMetrics aggregates per-resource usage counters.
type ResourceMetrics struct {
	CreatedAt            time.Time `json:"created_at"`
	ExecutionCount       int64     `json:"execution_count"`
	LastExecution        time.Time `json:"last_execution,omitempty"`
	TotalExecutionTimeMs int64     `json:"total_execution_time_ms"`
	ErrorCount           int64     `json:"error_count"`
	Cost                 float64   `json:"cost"`
}

// ResourceRecord wraps a resource with its bounded execution and log
// history plus usage metrics. Owned by the tracker; one file per id.
type ResourceRecord struct {
	Resource    Resource            `json:"resource"`
	Executions  []ExecutionLogEntry `json:"executions,omitempty"`
	Logs        []LogEntry          `json:"logs,omitempty"`
	Metrics     ResourceMetrics     `json:"metrics"`
	UntrackedAt *time.Time          `json:"untracked_at,omitempty"`
}

// NewResourceRecord builds a record for a freshly created resource.
func NewResourceRecord(resource Resource) *ResourceRecord {
	return &ResourceRecord{
		Resource: resource,
		Metrics:  ResourceMetrics{CreatedAt: resource.CreatedAt},
	}
}

// AppendExecution adds an execution to the record, evicting the oldest
// entry once the bound is reached, and folds it into the metrics.
func (r *ResourceRecord) AppendExecution(entry ExecutionLogEntry) {
	entry.Output = TruncateOutput(entry.Output)
	entry.Error = TruncateError(entry.Error)

	r.Executions = append(r.Executions, entry)
	if len(r.Executions) > MaxExecutionHistory {
		r.Executions = r.Executions[len(r.Executions)-MaxExecutionHistory:]
	}

	r.Metrics.ExecutionCount++
	r.Metrics.LastExecution = entry.Timestamp
	r.Metrics.TotalExecutionTimeMs += entry.DurationMs
	if !entry.Success {
		r.Metrics.ErrorCount++
	}
}

// AppendLog adds a log line, evicting the oldest once bounded.
func (r *ResourceRecord) AppendLog(entry LogEntry) {
	r.Logs = append(r.Logs, entry)
	if len(r.Logs) > MaxLogHistory {
		r.Logs = r.Logs[len(r.Logs)-MaxLogHistory:]
	}
}

// Lifetime returns how long the resource lived, using now when the
// record has not been untracked yet.
func (r *ResourceRecord) Lifetime(now time.Time) time.Duration {
	end := now
	if r.UntrackedAt != nil {
		end = *r.UntrackedAt
	}
	return end.Sub(r.Metrics.CreatedAt)
}

// TruncateOutput bounds captured stdout for storage.
func TruncateOutput(s string) string {
	return truncate(s, MaxOutputChars)
}

// TruncateError bounds captured stderr for storage.
func TruncateError(s string) string {
	return truncate(s, MaxErrorChars)
}

// truncate cuts s at limit bytes without splitting a rune, so the
// stored value stays valid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
