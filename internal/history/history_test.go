// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestOpenOnMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Open(path, 10, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(s.All()) != 0 {
		t.Fatal("expected empty history on first open")
	}
}

func TestAppendPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Open(path, 10, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entry := Entry{
		ID:         uuid.New(),
		Timestamp:  time.Now().UTC(),
		Direction:  DirectionSent,
		PeerName:   "desktop-01",
		Code:       "A7K9",
		Files:      []FileResult{{Name: "a.txt", Size: 10, Success: true}},
		TotalBytes: 10,
		State:      StateCompleted,
	}
	if err := s.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	reloaded, err := Open(path, 10, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all := reloaded.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(all))
	}
	if all[0].PeerName != "desktop-01" || all[0].Code != "A7K9" {
		t.Fatalf("unexpected reloaded entry: %+v", all[0])
	}
}

func TestAppendIsNewestFirstAndEvictsOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Open(path, 2, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := s.Append(Entry{ID: id, Timestamp: time.Now().UTC(), State: StateCompleted}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("expected ring capped at 2 entries, got %d", len(all))
	}
	if all[0].ID != ids[2] || all[1].ID != ids[1] {
		t.Fatalf("expected newest-first order [%v %v], got [%v %v]", ids[2], ids[1], all[0].ID, all[1].ID)
	}
}

func TestOpenPrunesEntriesOlderThanAutoClearDays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Open(path, 10, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	fresh := Entry{ID: uuid.New(), Timestamp: time.Now().UTC(), State: StateCompleted}
	stale := Entry{ID: uuid.New(), Timestamp: time.Now().UTC().AddDate(0, 0, -30), State: StateCompleted}
	if err := s.Append(stale); err != nil {
		t.Fatalf("Append stale: %v", err)
	}
	if err := s.Append(fresh); err != nil {
		t.Fatalf("Append fresh: %v", err)
	}

	reopened, err := Open(path, 10, 7)
	if err != nil {
		t.Fatalf("reopen with autoClearDays: %v", err)
	}
	all := reopened.All()
	if len(all) != 1 {
		t.Fatalf("expected stale entry pruned, got %d entries", len(all))
	}
	if all[0].ID != fresh.ID {
		t.Fatalf("expected surviving entry to be the fresh one, got %v", all[0].ID)
	}
}
