// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package history stores a bounded, newest-first ring of completed
// transfers, persisted as a single JSON file. It mirrors the shape of
// the teacher's observability event ring (internal/server/observability)
// generalized from an in-memory metrics ring to a disk-backed one.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileVersion is the schema version written to history.json.
const FileVersion = 1

// Direction records whether a history entry was an outbound share or an
// inbound receive.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// State is the terminal outcome of a recorded transfer.
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// FileResult is one file's outcome within a transfer.
type FileResult struct {
	Name    string `json:"name"`
	Size    uint64 `json:"size"`
	Success bool   `json:"success"`
}

// Entry is one completed (or failed/cancelled) transfer record.
type Entry struct {
	ID               uuid.UUID    `json:"id"`
	Timestamp        time.Time    `json:"timestamp"`
	Direction        Direction    `json:"direction"`
	PeerName         string       `json:"peer_name"`
	PeerDeviceID     *uuid.UUID   `json:"peer_device_id,omitempty"`
	Code             string       `json:"code"`
	Files            []FileResult `json:"files"`
	TotalBytes       uint64       `json:"total_bytes"`
	BytesTransferred uint64       `json:"bytes_transferred"`
	State            State        `json:"state"`
	DurationSecs     float64      `json:"duration_secs"`
	SpeedBps         *float64     `json:"speed_bps,omitempty"`
	OutputDir        string       `json:"output_dir,omitempty"`
	Error            string       `json:"error,omitempty"`
}

type fileFormat struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Store is a concurrency-safe, bounded, disk-backed history ring.
type Store struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	entries    []Entry // newest first
}

// Open loads the history store at path, creating an empty one if it
// does not yet exist, and trims it to maxEntries / autoClearDays.
func Open(path string, maxEntries int, autoClearDays int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	s := &Store{path: path, maxEntries: maxEntries}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history store %s: %w", path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing history store %s: %w", path, err)
	}
	s.entries = f.Entries

	if autoClearDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -autoClearDays)
		filtered := s.entries[:0]
		for _, e := range s.entries {
			if e.Timestamp.After(cutoff) {
				filtered = append(filtered, e)
			}
		}
		s.entries = filtered
	}
	s.trimLocked()
	return s, nil
}

// Append adds entry to the front of the ring (newest first), evicting
// the oldest entry once maxEntries is exceeded.
func (s *Store) Append(entry Entry) error {
	s.mu.Lock()
	s.entries = append([]Entry{entry}, s.entries...)
	s.trimLocked()
	s.mu.Unlock()
	return s.flush()
}

// PruneOlderThan drops entries older than autoClearDays and persists the
// result, for a periodic janitor to call between Opens of a long-running
// process (Open itself only prunes once, at startup).
func (s *Store) PruneOlderThan(autoClearDays int) (int, error) {
	if autoClearDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -autoClearDays)

	s.mu.Lock()
	before := len(s.entries)
	filtered := s.entries[:0]
	for _, e := range s.entries {
		if e.Timestamp.After(cutoff) {
			filtered = append(filtered, e)
		}
	}
	s.entries = filtered
	removed := before - len(s.entries)
	s.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	return removed, s.flush()
}

func (s *Store) trimLocked() {
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[:s.maxEntries]
	}
}

// All returns a snapshot of every entry, newest first.
func (s *Store) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) flush() error {
	s.mu.Lock()
	f := fileFormat{Version: FileVersion, Entries: s.entries}
	s.mu.Unlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "history-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp history file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp history file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp history file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming history file into place: %w", err)
	}
	return nil
}
