// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package trust

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestAddAndFindByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id := uuid.New()
	if err := store.Add(Device{DeviceID: id, Name: "laptop", TrustLevel: LevelAskEachTime}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, ok := store.FindByID(id)
	if !ok {
		t.Fatal("expected device to be found")
	}
	if got.Name != "laptop" {
		t.Fatalf("expected name laptop, got %q", got.Name)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	id := uuid.New()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add(Device{DeviceID: id, Name: "phone", TrustLevel: LevelFull}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.FindByID(id)
	if !ok || got.Name != "phone" {
		t.Fatalf("expected reopened store to contain phone, got %+v (found=%v)", got, ok)
	}
}

func TestUpdateAddressAndTransferCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	store, _ := Open(path)
	id := uuid.New()
	_ = store.Add(Device{DeviceID: id, Name: "tablet"})

	if err := store.UpdateAddress(id, "192.168.1.5", 53123); err != nil {
		t.Fatalf("UpdateAddress: %v", err)
	}
	if err := store.IncrementTransferCount(id); err != nil {
		t.Fatalf("IncrementTransferCount: %v", err)
	}

	got, _ := store.FindByID(id)
	if got.LastIP != "192.168.1.5" || got.LastPort != 53123 {
		t.Fatalf("address not updated: %+v", got)
	}
	if got.TransferCount != 1 {
		t.Fatalf("expected transfer count 1, got %d", got.TransferCount)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	store, _ := Open(path)
	id := uuid.New()
	_ = store.Add(Device{DeviceID: id, Name: "desktop"})

	if err := store.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := store.FindByID(id); ok {
		t.Fatal("expected device to be removed")
	}
}
