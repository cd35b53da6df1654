// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package resume persists per-transfer resume state to a platform data
// directory, one JSON file per transfer, written atomically via the
// teacher's temp-file-then-rename idiom (see internal/server/storage.go
// in the reference corpus). Expired entries are reclaimed by
// CleanupOlderThan, which is scheduled via a cron job in the long-running
// binaries.
package resume

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileExtension is appended to every resume state file's name.
const FileExtension = ".localdrop-resume"

// DefaultExpiry is how long an unfinished transfer's resume state is
// kept before CleanupOlderThan reclaims it.
const DefaultExpiry = 7 * 24 * time.Hour

// State is the persisted record of a partially-completed transfer.
type State struct {
	TransferID          uuid.UUID          `json:"transfer_id"`
	Code                string             `json:"code"`
	Files               []string           `json:"files"`
	PeerName            string             `json:"peer_name"`
	PeerDeviceID        *uuid.UUID         `json:"peer_device_id,omitempty"`
	OutputDir           string             `json:"output_dir"`
	CompletedChunks     map[int][]uint64   `json:"completed_chunks"`
	CompletedFileHashes map[int]string     `json:"completed_file_hashes"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Manager stores and retrieves resume State files under dir.
type Manager struct {
	dir string
}

// NewManager creates dir if necessary and returns a Manager rooted there.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating resume directory %s: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) pathFor(id uuid.UUID) string {
	return filepath.Join(m.dir, id.String()+FileExtension)
}

// Save writes state atomically: a temp file in the same directory,
// fsync, then rename over the final path.
func (m *Manager) Save(state *State) error {
	state.UpdatedAt = time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling resume state: %w", err)
	}

	tmp, err := os.CreateTemp(m.dir, state.TransferID.String()+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp resume file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp resume file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp resume file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp resume file: %w", err)
	}
	if err := os.Rename(tmpPath, m.pathFor(state.TransferID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming resume file into place: %w", err)
	}
	return nil
}

// Load reads the resume state for transferID, if present.
func (m *Manager) Load(transferID uuid.UUID) (*State, error) {
	raw, err := os.ReadFile(m.pathFor(transferID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading resume state %s: %w", transferID, err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parsing resume state %s: %w", transferID, err)
	}
	return &state, nil
}

// FindByCode linearly scans resume files for one matching code. This
// mirrors the spec's "linear scan on secondary lookup" — resume files
// are keyed by transfer-id, and code is not indexed separately.
func (m *Manager) FindByCode(code string) (*State, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading resume directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExtension) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var state State
		if err := json.Unmarshal(raw, &state); err != nil {
			continue
		}
		if state.Code == code {
			return &state, nil
		}
	}
	return nil, nil
}

// Delete removes a transfer's resume state, called on successful
// completion.
func (m *Manager) Delete(transferID uuid.UUID) error {
	err := os.Remove(m.pathFor(transferID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting resume state %s: %w", transferID, err)
	}
	return nil
}

// CleanupOlderThan removes resume files whose UpdatedAt is older than
// the cutoff implied by maxAge.
func (m *Manager) CleanupOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("reading resume directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExtension) {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var state State
		if err := json.Unmarshal(raw, &state); err != nil {
			continue
		}
		if state.UpdatedAt.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
