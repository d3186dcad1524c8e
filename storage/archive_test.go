package storage

import (
	"testing"
	"time"

	"github.com/sandflow/sandflow/types"
)

func archivedRecord(id string, untrackedAt time.Time) *types.ResourceRecord {
	record := types.NewResourceRecord(types.Resource{
		ID:        id,
		Type:      types.ResourceSandbox,
		Provider:  "e2b",
		Status:    types.StatusTerminated,
		CreatedAt: untrackedAt.Add(-time.Hour),
	})
	record.UntrackedAt = &untrackedAt
	return record
}

func TestArchive_PutAndGet(t *testing.T) {
	tmpDir := t.TempDir()
	archive, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer func() { _ = archive.Close() }()

	record := archivedRecord("sbx-123", time.Now())
	record.AppendExecution(types.ExecutionLogEntry{ID: "e1", Timestamp: time.Now(), Success: true})

	if err := archive.Archive(record); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	got, err := archive.Get("sbx-123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Resource.ID != "sbx-123" {
		t.Errorf("ID = %v, want sbx-123", got.Resource.ID)
	}
	if len(got.Executions) != 1 {
		t.Errorf("Executions = %d, want 1", len(got.Executions))
	}
	if got.UntrackedAt == nil {
		t.Error("UntrackedAt should survive the roundtrip")
	}
}

func TestArchive_GetUnknown(t *testing.T) {
	archive, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = archive.Close() }()

	if _, err := archive.Get("nope"); err == nil {
		t.Error("expected error for unknown record")
	}
}

func TestArchive_ListByProvider(t *testing.T) {
	archive, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = archive.Close() }()

	now := time.Now()
	records := []*types.ResourceRecord{
		archivedRecord("sbx-a", now),
		archivedRecord("sbx-b", now),
		archivedRecord("fn-c", now),
	}
	records[2].Resource.Provider = "lambda"
	records[2].Resource.Type = types.ResourceFunction

	for _, r := range records {
		if err := archive.Archive(r); err != nil {
			t.Fatalf("Archive failed: %v", err)
		}
	}

	e2b := archive.ListByProvider("e2b")
	if len(e2b) != 2 {
		t.Errorf("e2b records = %d, want 2", len(e2b))
	}
	all := archive.ListByProvider("")
	if len(all) != 3 {
		t.Errorf("all records = %d, want 3", len(all))
	}
	if archive.Count() != 3 {
		t.Errorf("Count = %d, want 3", archive.Count())
	}
}

func TestArchive_RebuildIndexOnReopen(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := Open(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Archive(archivedRecord("sbx-1", time.Now())); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer func() { _ = second.Close() }()

	if second.Count() != 1 {
		t.Errorf("Count after reopen = %d, want 1", second.Count())
	}
	if _, err := second.Get("sbx-1"); err != nil {
		t.Errorf("Get after reopen failed: %v", err)
	}
}

func TestArchive_PruneRemovesOldRecords(t *testing.T) {
	archive, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = archive.Close() }()

	now := time.Now()
	if err := archive.Archive(archivedRecord("old-1", now.Add(-72*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := archive.Archive(archivedRecord("old-2", now.Add(-50*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := archive.Archive(archivedRecord("recent", now.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}

	removed, err := archive.Prune(48 * time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if archive.Count() != 1 {
		t.Errorf("Count = %d, want 1", archive.Count())
	}
	if _, err := archive.Get("recent"); err != nil {
		t.Errorf("recent record should survive prune: %v", err)
	}
	if _, err := archive.Get("old-1"); err == nil {
		t.Error("old-1 should be pruned")
	}
}
