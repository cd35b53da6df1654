// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package resume

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	id := uuid.New()
	state := &State{
		TransferID:          id,
		Code:                "A7K9",
		Files:               []string{"a.txt", "b.txt"},
		CompletedChunks:     map[int][]uint64{0: {0, 1}},
		CompletedFileHashes: map[int]string{},
	}
	if err := mgr.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := mgr.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected state to be found")
	}
	if loaded.Code != "A7K9" {
		t.Fatalf("expected code A7K9, got %q", loaded.Code)
	}
	if len(loaded.CompletedChunks[0]) != 2 {
		t.Fatalf("expected 2 completed chunks, got %d", len(loaded.CompletedChunks[0]))
	}
}

func TestFindByCode(t *testing.T) {
	mgr, _ := NewManager(t.TempDir())
	id := uuid.New()
	_ = mgr.Save(&State{TransferID: id, Code: "ZZZZ"})

	found, err := mgr.FindByCode("ZZZZ")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if found == nil || found.TransferID != id {
		t.Fatalf("expected to find transfer %v, got %+v", id, found)
	}

	notFound, err := mgr.FindByCode("NOPE")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if notFound != nil {
		t.Fatal("expected no match for an unused code")
	}
}

func TestDeleteRemovesState(t *testing.T) {
	mgr, _ := NewManager(t.TempDir())
	id := uuid.New()
	_ = mgr.Save(&State{TransferID: id, Code: "A7K9"})

	if err := mgr.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	loaded, err := mgr.Load(id)
	if err != nil {
		t.Fatalf("Load after delete: %v", err)
	}
	if loaded != nil {
		t.Fatal("expected state to be gone after delete")
	}
}

func TestCleanupOlderThan(t *testing.T) {
	mgr, _ := NewManager(t.TempDir())

	fresh := uuid.New()
	_ = mgr.Save(&State{TransferID: fresh, Code: "FRSH"})

	// Save always stamps UpdatedAt as now, so the stale entry is written
	// directly as JSON with a backdated UpdatedAt.
	stale := uuid.New()
	state := &State{TransferID: stale, Code: "STLE", UpdatedAt: time.Now().Add(-10 * 24 * time.Hour)}
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshaling fixture: %v", err)
	}
	if err := os.WriteFile(mgr.pathFor(stale), data, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	removed, err := mgr.CleanupOlderThan(DefaultExpiry)
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed entry, got %d", removed)
	}

	if s, _ := mgr.Load(fresh); s == nil {
		t.Fatal("fresh entry should not have been removed")
	}
	if s, _ := mgr.Load(stale); s != nil {
		t.Fatal("stale entry should have been removed")
	}
}
