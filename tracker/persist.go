package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/sandflow/sandflow/types"
)

// Persistence is whole-file JSON, written to a temp file and renamed
// so a crash mid-write never leaves a half-written record behind.
// Failures here are logged and swallowed: a lost write must never
// abort the caller's lifecycle operation.

func (t *Tracker) recordPath(id string) string {
	return filepath.Join(t.dir, sanitizeID(id)+".json")
}

func (t *Tracker) persistRecord(record *types.ResourceRecord) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		t.logger.Warn().Err(err).Str("resource_id", record.Resource.ID).Msg("record marshal failed")
		return
	}
	if err := atomicWrite(t.recordPath(record.Resource.ID), data); err != nil {
		t.logger.Warn().Err(err).Str("resource_id", record.Resource.ID).Msg("record write failed")
	}
}

func (t *Tracker) persistMetrics() {
	data, err := json.MarshalIndent(t.metrics, "", "  ")
	if err != nil {
		t.logger.Warn().Err(err).Msg("metrics marshal failed")
		return
	}
	if err := atomicWrite(filepath.Join(t.dir, metricsFile), data); err != nil {
		t.logger.Warn().Err(err).Msg("metrics write failed")
	}
}

// load restores records and metrics from disk. Corrupt files are
// skipped so one bad record never blocks the rest.
func (t *Tracker) load() {
	if data, err := os.ReadFile(filepath.Join(t.dir, metricsFile)); err == nil {
		if err := json.Unmarshal(data, &t.metrics); err != nil {
			t.logger.Warn().Err(err).Msg("metrics file corrupt, starting fresh")
			t.metrics = types.AggregateMetrics{}
		}
	}

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.logger.Warn().Err(err).Msg("tracker directory unreadable")
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == metricsFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.dir, name))
		if err != nil {
			t.logger.Warn().Err(err).Str("file", name).Msg("record file unreadable")
			continue
		}
		var record types.ResourceRecord
		if err := json.Unmarshal(data, &record); err != nil {
			t.logger.Warn().Err(err).Str("file", name).Msg("record file corrupt, skipping")
			continue
		}
		t.records[record.Resource.ID] = &record
	}

	// Active count is derived from what actually loaded.
	t.metrics.CurrentActive = int64(len(t.records))
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// sanitizeID makes a backend-assigned id safe to use as a filename.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
