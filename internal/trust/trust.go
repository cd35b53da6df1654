// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package trust persists the set of devices a user has chosen to trust:
// their public key, trust level, last-known address and transfer counts.
package trust

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileVersion is the schema version written to trust.json.
const FileVersion = 1

// Level controls whether a trusted device is auto-accepted or requires
// a per-transfer confirmation.
type Level string

const (
	// LevelFull auto-connects and auto-accepts once the Ed25519 signature
	// verifies.
	LevelFull Level = "full"
	// LevelAskEachTime requires a user confirmation at send time even
	// after signature verification succeeds.
	LevelAskEachTime Level = "ask_each_time"
)

// Device is one entry in the trust store.
type Device struct {
	DeviceID      uuid.UUID `json:"device_id"`
	Name          string    `json:"name"`
	PublicKey     string    `json:"public_key"`
	TrustLevel    Level     `json:"trust_level"`
	LastIP        string    `json:"last_ip,omitempty"`
	LastPort      int       `json:"last_port,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
	TransferCount int       `json:"transfer_count"`
}

type fileFormat struct {
	Version int      `json:"version"`
	Devices []Device `json:"devices"`
}

// Store is a concurrency-safe, JSON-file-backed trust store. A single
// mutex serializes mutations; readers take a snapshot copy.
type Store struct {
	mu      sync.Mutex
	path    string
	devices map[uuid.UUID]Device
}

// Open loads the trust store at path, creating an empty one if it does
// not yet exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, devices: make(map[uuid.UUID]Device)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trust store %s: %w", path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing trust store %s: %w", path, err)
	}
	for _, d := range f.Devices {
		s.devices[d.DeviceID] = d
	}
	return s, nil
}

// Add upserts a device by device-id.
func (s *Store) Add(d Device) error {
	s.mu.Lock()
	s.devices[d.DeviceID] = d
	s.mu.Unlock()
	return s.flush()
}

// UpdateAddress refreshes a device's last-known endpoint and last-seen
// timestamp. It is a no-op if the device is not present.
func (s *Store) UpdateAddress(id uuid.UUID, ip string, port int) error {
	s.mu.Lock()
	d, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	d.LastIP = ip
	d.LastPort = port
	d.LastSeen = time.Now().UTC()
	s.devices[id] = d
	s.mu.Unlock()
	return s.flush()
}

// IncrementTransferCount bumps a device's completed-transfer counter.
func (s *Store) IncrementTransferCount(id uuid.UUID) error {
	s.mu.Lock()
	d, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	d.TransferCount++
	s.devices[id] = d
	s.mu.Unlock()
	return s.flush()
}

// SetTrustLevel changes a device's trust level.
func (s *Store) SetTrustLevel(id uuid.UUID, level Level) error {
	s.mu.Lock()
	d, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("device %s not found in trust store", id)
	}
	d.TrustLevel = level
	s.devices[id] = d
	s.mu.Unlock()
	return s.flush()
}

// FindByID returns the device with the given id, if present.
func (s *Store) FindByID(id uuid.UUID) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return d, ok
}

// FindByName returns the first device matching name, if present.
func (s *Store) FindByName(name string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// Remove deletes a device from the store.
func (s *Store) Remove(id uuid.UUID) error {
	s.mu.Lock()
	delete(s.devices, id)
	s.mu.Unlock()
	return s.flush()
}

// All returns a snapshot of every trusted device.
func (s *Store) All() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

// flush persists the store to disk atomically: write to a temp file in
// the same directory, fsync, then rename over the final path.
func (s *Store) flush() error {
	s.mu.Lock()
	f := fileFormat{Version: FileVersion}
	for _, d := range s.devices {
		f.Devices = append(f.Devices, d)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling trust store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating trust store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "trust-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp trust store file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp trust store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp trust store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp trust store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming trust store into place: %w", err)
	}
	return nil
}
