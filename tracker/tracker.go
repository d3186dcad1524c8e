// Package tracker is the per-backend resource manager: it tracks live
// and historical resources in memory, mirrors every mutation to
// on-disk JSON, and aggregates metrics. It performs no backend network
// calls. Disk failures are logged and swallowed: losing a metrics
// write is acceptable, losing the ability to delete a live remote
// resource is not.
package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandflow/sandflow/types"
)

const metricsFile = "metrics.json"

// Archiver receives records when they are untracked. The bbolt archive
// in the storage package is the production implementation.
type Archiver interface {
	Archive(record *types.ResourceRecord) error
}

// Tracker manages the records for one backend under a provider-scoped
// data directory: one JSON file per resource id plus metrics.json.
type Tracker struct {
	mu       sync.Mutex
	dir      string
	provider string
	records  map[string]*types.ResourceRecord
	metrics  types.AggregateMetrics
	archive  Archiver
	logger   zerolog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithArchive routes untracked records into an archive.
func WithArchive(archive Archiver) Option {
	return func(t *Tracker) { t.archive = archive }
}

// New opens (or creates) the tracker directory for one provider and
// loads any previously persisted records and metrics.
func New(dataDir, provider string, logger zerolog.Logger, opts ...Option) (*Tracker, error) {
	dir := filepath.Join(dataDir, provider)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tracker directory: %w", err)
	}

	t := &Tracker{
		dir:      dir,
		provider: provider,
		records:  make(map[string]*types.ResourceRecord),
		logger:   logger.With().Str("component", "tracker").Str("provider", provider).Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.load()
	return t, nil
}

// Track registers a freshly created resource and persists its record.
func (t *Tracker) Track(resource types.Resource) *types.ResourceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := types.NewResourceRecord(resource)
	t.records[resource.ID] = record
	t.metrics.RecordCreate()

	t.persistRecord(record)
	t.persistMetrics()
	return record
}

// Update applies fn to the tracked record and persists it.
func (t *Tracker) Update(id string, fn func(*types.ResourceRecord)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[id]
	if !ok {
		return types.NewFlowError("not_tracked",
			fmt.Sprintf("resource %s is not tracked", id),
			types.CategoryResource).WithDetail("resourceId", id)
	}
	fn(record)
	t.persistRecord(record)
	return nil
}

// SetStatus updates the tracked resource's lifecycle status.
func (t *Tracker) SetStatus(id string, status types.ResourceStatus) error {
	return t.Update(id, func(r *types.ResourceRecord) {
		r.Resource.Status = status
	})
}

// Untrack removes a record, folds its lifetime into the running
// average, archives it when an archive is configured, and deletes its
// file. Unknown ids return a resource-category error.
func (t *Tracker) Untrack(id string) (*types.ResourceRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[id]
	if !ok {
		return nil, types.NewFlowError("not_tracked",
			fmt.Sprintf("resource %s is not tracked", id),
			types.CategoryResource).WithDetail("resourceId", id)
	}

	now := time.Now()
	record.UntrackedAt = &now
	record.Resource.Status = types.StatusTerminated
	delete(t.records, id)
	t.metrics.RecordDestroy(record.Lifetime(now))

	if t.archive != nil {
		if err := t.archive.Archive(record); err != nil {
			t.logger.Warn().Err(err).Str("resource_id", id).Msg("archive write failed")
		}
	}
	if err := os.Remove(t.recordPath(id)); err != nil && !os.IsNotExist(err) {
		t.logger.Warn().Err(err).Str("resource_id", id).Msg("record file removal failed")
	}
	t.persistMetrics()
	return record, nil
}

// LogExecution appends an execution to the record's bounded history
// and updates per-resource and aggregate counters.
func (t *Tracker) LogExecution(id string, entry types.ExecutionLogEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[id]
	if !ok {
		return types.NewFlowError("not_tracked",
			fmt.Sprintf("resource %s is not tracked", id),
			types.CategoryResource).WithDetail("resourceId", id)
	}

	record.AppendExecution(entry)
	t.metrics.RecordExecution(entry.Success)

	t.persistRecord(record)
	t.persistMetrics()
	return nil
}

// AppendLog stores one log line for a tracked resource.
func (t *Tracker) AppendLog(id string, entry types.LogEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[id]
	if !ok {
		return types.NewFlowError("not_tracked",
			fmt.Sprintf("resource %s is not tracked", id),
			types.CategoryResource).WithDetail("resourceId", id)
	}
	record.AppendLog(entry)
	t.persistRecord(record)
	return nil
}

// Logs merges stored log lines with entries derived from the execution
// history, applies the since/level/limit filters, and returns them
// newest first.
func (t *Tracker) Logs(id string, opts types.LogOptions) ([]types.LogEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[id]
	if !ok {
		return nil, types.NewFlowError("not_tracked",
			fmt.Sprintf("resource %s is not tracked", id),
			types.CategoryResource).WithDetail("resourceId", id)
	}

	merged := make([]types.LogEntry, 0, len(record.Logs)+len(record.Executions))
	merged = append(merged, record.Logs...)
	for _, exec := range record.Executions {
		merged = append(merged, executionLogEntry(exec))
	}

	filtered := merged[:0]
	for _, entry := range merged {
		if !opts.Since.IsZero() && entry.Timestamp.Before(opts.Since) {
			continue
		}
		if opts.Level != "" && entry.Level != opts.Level {
			continue
		}
		filtered = append(filtered, entry)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	out := make([]types.LogEntry, len(filtered))
	copy(out, filtered)
	return out, nil
}

// Record returns a copy of one tracked record.
func (t *Tracker) Record(id string) (*types.ResourceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[id]
	if !ok {
		return nil, false
	}
	return copyRecord(record), true
}

// Records returns copies of all tracked records.
func (t *Tracker) Records() []*types.ResourceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*types.ResourceRecord, 0, len(t.records))
	for _, record := range t.records {
		out = append(out, copyRecord(record))
	}
	return out
}

// Live returns copies of the tracked resources still in the ready
// state. Providers rebuild their active set from it after a restart.
func (t *Tracker) Live() []types.Resource {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Resource, 0, len(t.records))
	for _, record := range t.records {
		if record.Resource.Status == types.StatusReady {
			out = append(out, record.Resource)
		}
	}
	return out
}

// Count returns the number of live tracked resources.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Metrics returns a copy of the aggregate metrics.
func (t *Tracker) Metrics() types.AggregateMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

// CleanupOldData removes record files whose modification time is older
// than maxAge and returns the number removed. Files backing a tracked
// record are never touched. This prunes local history only; it never
// touches remote resources.
func (t *Tracker) CleanupOldData(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	tracked := make(map[string]bool, len(t.records))
	for id := range t.records {
		tracked[sanitizeID(id)+".json"] = true
	}
	t.mu.Unlock()

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0, fmt.Errorf("read tracker directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == metricsFile || tracked[name] || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(t.dir, name)); err != nil {
			t.logger.Warn().Err(err).Str("file", name).Msg("stale record removal failed")
			continue
		}
		removed++
	}
	return removed, nil
}

// executionLogEntry derives a log line from one execution.
func executionLogEntry(exec types.ExecutionLogEntry) types.LogEntry {
	level := "info"
	message := fmt.Sprintf("execution %s completed in %dms (exit %d)", exec.ID, exec.DurationMs, exec.ExitCode)
	if !exec.Success {
		level = "error"
		message = fmt.Sprintf("execution %s failed in %dms (exit %d)", exec.ID, exec.DurationMs, exec.ExitCode)
	}
	return types.LogEntry{
		Timestamp: exec.Timestamp,
		Level:     level,
		Message:   message,
		Source:    "execution",
	}
}

func copyRecord(record *types.ResourceRecord) *types.ResourceRecord {
	dup := *record
	dup.Executions = append([]types.ExecutionLogEntry(nil), record.Executions...)
	dup.Logs = append([]types.LogEntry(nil), record.Logs...)
	return &dup
}
