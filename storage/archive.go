// Package storage persists untracked resource records in a bbolt
// database with an in-memory btree index. The tracker hands records
// over on untrack; the archive keeps them queryable for audits and
// prunes them on retention.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/sandflow/sandflow/types"
)

// Bucket names in bbolt
var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")
)

// ArchivedState is the index entry for one archived record.
type ArchivedState struct {
	ResourceID  string
	Provider    string
	Type        types.ResourceType
	UntrackedAt time.Time
}

// Archive is the on-disk store of untracked resource records. Records
// are keyed by untrack time so retention pruning is a prefix scan.
type Archive struct {
	mu sync.RWMutex

	// In-memory index for fast lookups by resource id
	index *btree.BTreeG[*ArchivedState]

	db  *bbolt.DB
	dir string
}

// Open opens (or creates) the archive database under dir.
func Open(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	dbPath := filepath.Join(dir, "sandflow.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	archive := &Archive{
		index: btree.NewG[*ArchivedState](32, func(a, b *ArchivedState) bool {
			return a.ResourceID < b.ResourceID
		}),
		db:  db,
		dir: dir,
	}

	if err := archive.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return archive, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Archive stores one untracked record. Implements the tracker's
// archive hook. Records without an untrack timestamp get one now.
func (a *Archive) Archive(record *types.ResourceRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	untrackedAt := time.Now()
	if record.UntrackedAt != nil {
		untrackedAt = *record.UntrackedAt
	}

	err := a.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		key := makeArchiveKey(untrackedAt, record.Resource.ID)
		value, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("archive record %s: %w", record.Resource.ID, err)
	}

	a.index.ReplaceOrInsert(&ArchivedState{
		ResourceID:  record.Resource.ID,
		Provider:    record.Resource.Provider,
		Type:        record.Resource.Type,
		UntrackedAt: untrackedAt,
	})
	return nil
}

// Get returns one archived record by resource id.
func (a *Archive) Get(resourceID string) (*types.ResourceRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	state, found := a.index.Get(&ArchivedState{ResourceID: resourceID})
	if !found {
		return nil, fmt.Errorf("record %s not archived", resourceID)
	}

	var record types.ResourceRecord
	err := a.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		value := bucket.Get(makeArchiveKey(state.UntrackedAt, resourceID))
		if value == nil {
			return fmt.Errorf("record %s missing from database", resourceID)
		}
		return json.Unmarshal(value, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByProvider returns the index entries for one provider, ordered
// by resource id. An empty provider matches everything.
func (a *Archive) ListByProvider(provider string) []*ArchivedState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var results []*ArchivedState
	a.index.Ascend(func(state *ArchivedState) bool {
		if provider == "" || state.Provider == provider {
			results = append(results, state)
		}
		return true
	})
	return results
}

// Count returns the number of archived records.
func (a *Archive) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index.Len()
}

// Prune removes records untracked before the retention cutoff and
// returns the number removed. Keys sort by untrack time, so the scan
// stops at the first record inside retention.
func (a *Archive) Prune(retention time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0

	var staleIDs []string
	err := a.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		c := bucket.Cursor()

		var staleKeys [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			at, id := parseArchiveKey(k)
			if !at.Before(cutoff) {
				break
			}
			staleKeys = append(staleKeys, append([]byte(nil), k...))
			staleIDs = append(staleIDs, id)
		}

		for _, key := range staleKeys {
			if err := bucket.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("prune archive: %w", err)
	}

	for _, id := range staleIDs {
		a.index.Delete(&ArchivedState{ResourceID: id})
	}
	return removed, nil
}

// rebuildIndex reloads the in-memory index from disk.
func (a *Archive) rebuildIndex() error {
	return a.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		return bucket.ForEach(func(k, v []byte) error {
			at, id := parseArchiveKey(k)

			var record types.ResourceRecord
			if err := json.Unmarshal(v, &record); err != nil {
				// Corrupt entry, skip it rather than refuse to open
				return nil
			}
			a.index.ReplaceOrInsert(&ArchivedState{
				ResourceID:  id,
				Provider:    record.Resource.Provider,
				Type:        record.Resource.Type,
				UntrackedAt: at,
			})
			return nil
		})
	})
}

// makeArchiveKey builds a key that sorts by untrack time.
// Format: <8-byte big-endian nanos>/<resource-id>
func makeArchiveKey(at time.Time, resourceID string) []byte {
	key := make([]byte, 8, 8+1+len(resourceID))
	binary.BigEndian.PutUint64(key, uint64(at.UnixNano()))
	key = append(key, '/')
	key = append(key, resourceID...)
	return key
}

func parseArchiveKey(key []byte) (time.Time, string) {
	if len(key) < 9 {
		return time.Time{}, ""
	}
	nanos := binary.BigEndian.Uint64(key[:8])
	return time.Unix(0, int64(nanos)), string(key[9:])
}
