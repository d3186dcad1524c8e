// Package journal records every lifecycle mutation as an append-only
// JSON-lines audit trail. The CLI commands and the cleaner write to
// it; replay reconstructs what happened to a resource and when.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EntryType defines the type of journal entry
type EntryType string

const (
	EntryCreated  EntryType = "created"
	EntryExecuted EntryType = "executed"
	EntryUpdated  EntryType = "updated"
	EntryDeleted  EntryType = "deleted"
	EntryWarned   EntryType = "warned"
	EntryCleaned  EntryType = "cleaned"
	EntryFailed   EntryType = "failed"
)

// Entry represents a single journal entry
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	Provider   string          `json:"provider,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
}

// Config controls journal file naming and retention.
type Config struct {
	FilePrefix    string
	RetentionDays int
}

// DefaultConfig returns the standard journal configuration.
func DefaultConfig() Config {
	return Config{
		FilePrefix:    "sandflow",
		RetentionDays: 30,
	}
}

// Journal appends lifecycle entries to a timestamped file. Each write
// is flushed and synced before Append returns.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	config   Config
}

// Open creates or opens a journal in the specified directory
func Open(dir string, config Config) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	// Use timestamp in filename for rotation
	filename := fmt.Sprintf("%s-%s.journal", config.FilePrefix, time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	j := &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
		config: config,
	}

	j.loadSequence()

	return j, nil
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Append adds an entry to the journal
func (j *Journal) Append(entryType EntryType, provider, resourceID string, data interface{}) error {
	return j.append(entryType, provider, resourceID, data, nil)
}

// AppendError adds an error entry to the journal
func (j *Journal) AppendError(entryType EntryType, provider, resourceID string, data interface{}, errToLog error) error {
	return j.append(entryType, provider, resourceID, data, errToLog)
}

func (j *Journal) append(entryType EntryType, provider, resourceID string, data interface{}, errToLog error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	entry := Entry{
		Timestamp:  time.Now(),
		Sequence:   j.sequence,
		Type:       entryType,
		Provider:   provider,
		ResourceID: resourceID,
		Data:       jsonData,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return j.writeEntry(entry)
}

// writeEntry writes a single entry to the journal
func (j *Journal) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if _, err := j.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for durability
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return j.file.Sync()
}

// loadSequence resumes the sequence counter from existing files so
// sequences stay monotonic across restarts.
func (j *Journal) loadSequence() {
	files, err := filepath.Glob(filepath.Join(j.dir, j.config.FilePrefix+"-*.journal"))
	if err != nil {
		return
	}

	var last int64
	for _, file := range files {
		reader, err := NewReader(file)
		if err != nil {
			continue
		}
		for {
			entry, err := reader.Next()
			if err != nil {
				break
			}
			if entry.Sequence > last {
				last = entry.Sequence
			}
		}
		_ = reader.Close()
	}
	j.sequence = last
}

// Reader provides journal replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a journal reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry from the journal
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay replays journal entries recorded after a specific time
func Replay(dir string, config Config, since time.Time, handler func(*Entry) error) error {
	files, err := filepath.Glob(filepath.Join(dir, config.FilePrefix+"-*.journal"))
	if err != nil {
		return fmt.Errorf("failed to list journal files: %w", err)
	}

	for _, file := range files {
		reader, err := NewReader(file)
		if err != nil {
			return err
		}
		defer reader.Close()

		for {
			entry, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}

			if entry.Timestamp.After(since) {
				if err := handler(entry); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
