package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandflow/sandflow/types"
)

func newTestTracker(t *testing.T, opts ...Option) *Tracker {
	t.Helper()
	tr, err := New(t.TempDir(), "e2b", zerolog.Nop(), opts...)
	require.NoError(t, err)
	return tr
}

func testResource(id string) types.Resource {
	return types.Resource{
		ID:        id,
		Type:      types.ResourceSandbox,
		Provider:  "e2b",
		Status:    types.StatusReady,
		Template:  "base",
		CreatedAt: time.Now(),
	}
}

func TestTrack_PersistsRecordAndMetrics(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir, "e2b", zerolog.Nop())
	require.NoError(t, err)

	tr.Track(testResource("sbx-1"))

	assert.FileExists(t, filepath.Join(dir, "e2b", "sbx-1.json"))
	assert.FileExists(t, filepath.Join(dir, "e2b", "metrics.json"))

	m := tr.Metrics()
	assert.Equal(t, int64(1), m.TotalCreated)
	assert.Equal(t, int64(1), m.CurrentActive)
}

func TestMetrics_CreateDeleteConsistency(t *testing.T) {
	tr := newTestTracker(t)

	const n, m = 7, 4
	for i := 0; i < n; i++ {
		tr.Track(testResource(fmt.Sprintf("sbx-%d", i)))
	}
	for i := 0; i < m; i++ {
		_, err := tr.Untrack(fmt.Sprintf("sbx-%d", i))
		require.NoError(t, err)
	}

	metrics := tr.Metrics()
	assert.Equal(t, int64(n-m), metrics.CurrentActive)
	assert.Equal(t, int64(n), metrics.TotalCreated)
	assert.Equal(t, int64(m), metrics.TotalDestroyed)
	assert.Equal(t, n-m, tr.Count())
}

func TestUntrack_UnknownID(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.Untrack("ghost")
	require.Error(t, err)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryResource, fe.Category)
	assert.False(t, fe.Retryable)
}

func TestUntrack_FoldsLifetimeAndArchives(t *testing.T) {
	archive := &fakeArchive{}
	tr := newTestTracker(t, WithArchive(archive))

	resource := testResource("sbx-1")
	resource.CreatedAt = time.Now().Add(-2 * time.Hour)
	tr.Track(resource)

	record, err := tr.Untrack("sbx-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTerminated, record.Resource.Status)
	require.NotNil(t, record.UntrackedAt)

	metrics := tr.Metrics()
	assert.InDelta(t, float64((2*time.Hour).Milliseconds()), metrics.AverageLifetimeMs, 5000)

	require.Len(t, archive.records, 1)
	assert.Equal(t, "sbx-1", archive.records[0].Resource.ID)
}

func TestLogExecution_UpdatesCounters(t *testing.T) {
	tr := newTestTracker(t)
	tr.Track(testResource("sbx-1"))

	require.NoError(t, tr.LogExecution("sbx-1", types.ExecutionLogEntry{
		ID: "e1", Timestamp: time.Now(), DurationMs: 50, Success: true,
	}))
	require.NoError(t, tr.LogExecution("sbx-1", types.ExecutionLogEntry{
		ID: "e2", Timestamp: time.Now(), DurationMs: 70, Success: false, ExitCode: 1,
	}))

	metrics := tr.Metrics()
	assert.Equal(t, int64(2), metrics.TotalExecutions)
	assert.Equal(t, int64(1), metrics.TotalErrors)

	record, ok := tr.Record("sbx-1")
	require.True(t, ok)
	assert.Equal(t, int64(120), record.Metrics.TotalExecutionTimeMs)
}

func TestLogs_FiltersAndOrdersNewestFirst(t *testing.T) {
	tr := newTestTracker(t)
	tr.Track(testResource("sbx-1"))

	base := time.Now().Add(-time.Hour)
	require.NoError(t, tr.AppendLog("sbx-1", types.LogEntry{Timestamp: base, Level: "info", Message: "booted"}))
	require.NoError(t, tr.AppendLog("sbx-1", types.LogEntry{Timestamp: base.Add(10 * time.Minute), Level: "warn", Message: "slow start"}))
	require.NoError(t, tr.LogExecution("sbx-1", types.ExecutionLogEntry{
		ID: "e1", Timestamp: base.Add(20 * time.Minute), Success: false, ExitCode: 2,
	}))

	all, err := tr.Logs("sbx-1", types.LogOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Timestamp.After(all[1].Timestamp), "newest first")

	errsOnly, err := tr.Logs("sbx-1", types.LogOptions{Level: "error"})
	require.NoError(t, err)
	require.Len(t, errsOnly, 1)
	assert.Equal(t, "execution", errsOnly[0].Source)

	since, err := tr.Logs("sbx-1", types.LogOptions{Since: base.Add(5 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := tr.Logs("sbx-1", types.LogOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "execution", limited[0].Source)
}

func TestLoad_RestoresStateFromDisk(t *testing.T) {
	dir := t.TempDir()

	first, err := New(dir, "e2b", zerolog.Nop())
	require.NoError(t, err)
	first.Track(testResource("sbx-1"))
	first.Track(testResource("sbx-2"))
	require.NoError(t, first.LogExecution("sbx-1", types.ExecutionLogEntry{
		ID: "e1", Timestamp: time.Now(), Success: true,
	}))

	second, err := New(dir, "e2b", zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 2, second.Count())
	record, ok := second.Record("sbx-1")
	require.True(t, ok)
	assert.Len(t, record.Executions, 1)
	assert.Equal(t, int64(2), second.Metrics().CurrentActive)
}

func TestLoad_SkipsCorruptRecord(t *testing.T) {
	dir := t.TempDir()

	first, err := New(dir, "e2b", zerolog.Nop())
	require.NoError(t, err)
	first.Track(testResource("sbx-1"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "e2b", "bad.json"), []byte("{broken"), 0o600))

	second, err := New(dir, "e2b", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Count())
}

func TestCleanupOldData_RemovesStaleFilesOnly(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir, "e2b", zerolog.Nop())
	require.NoError(t, err)

	tr.Track(testResource("fresh"))
	tr.Track(testResource("live"))

	stalePath := filepath.Join(dir, "e2b", "stale.json")
	require.NoError(t, os.WriteFile(stalePath, []byte("{}"), 0o600))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))
	livePath := filepath.Join(dir, "e2b", "live.json")
	require.NoError(t, os.Chtimes(livePath, old, old))

	removed, err := tr.CleanupOldData(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, stalePath)
	assert.FileExists(t, livePath, "tracked records survive pruning regardless of age")
	assert.FileExists(t, filepath.Join(dir, "e2b", "fresh.json"))
	assert.FileExists(t, filepath.Join(dir, "e2b", "metrics.json"))
}

func TestLive_ReturnsReadyResourcesOnly(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir, "e2b", zerolog.Nop())
	require.NoError(t, err)

	tr.Track(testResource("sbx-ready"))
	tr.Track(testResource("sbx-dead"))
	require.NoError(t, tr.SetStatus("sbx-dead", types.StatusTerminated))

	live := tr.Live()
	require.Len(t, live, 1)
	assert.Equal(t, "sbx-ready", live[0].ID)
	assert.Equal(t, types.StatusReady, live[0].Status)
}

type fakeArchive struct {
	records []*types.ResourceRecord
}

func (f *fakeArchive) Archive(record *types.ResourceRecord) error {
	f.records = append(f.records, record)
	return nil
}
