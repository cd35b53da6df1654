// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dirsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
}

func TestBuildIndexesFilesAndDirectories(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":        "hello",
		"sub/b.txt":    "world",
		"sub/deep/c":   "nested",
	})

	idx, err := Build(context.Background(), root, Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, rel := range []string{"a.txt", "sub/b.txt", "sub/deep/c"} {
		e, ok := idx.Get(rel)
		if !ok {
			t.Fatalf("expected index to contain %s", rel)
		}
		if e.Kind != KindFile {
			t.Fatalf("expected %s to be a file entry, got %v", rel, e.Kind)
		}
		if e.ContentHash == 0 {
			t.Fatalf("expected %s to have a non-zero content hash", rel)
		}
	}
	if _, ok := idx.Get("sub"); !ok {
		t.Fatal("expected index to contain the sub directory entry")
	}
}

func TestBuildRootHashStableAcrossRebuilds(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hello", "b.txt": "world"})

	first, err := Build(context.Background(), root, Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := Build(context.Background(), root, Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if first.RootHash() != second.RootHash() {
		t.Fatal("expected an unchanged tree to reproduce the same root hash")
	}

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("changed"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	third, err := Build(context.Background(), root, Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if third.RootHash() == first.RootHash() {
		t.Fatal("expected a changed file to change the root hash")
	}
}

func TestBuildRespectsMaxFileSize(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"small.txt": "ab", "big.txt": "abcdefghij"})

	idx, err := Build(context.Background(), root, Config{MaxFileSize: 5})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := idx.Get("small.txt"); !ok {
		t.Fatal("expected small.txt to be indexed")
	}
	if _, ok := idx.Get("big.txt"); ok {
		t.Fatal("expected big.txt to be skipped for exceeding MaxFileSize")
	}
}

func TestIndexInsertRemoveRecomputeRootHash(t *testing.T) {
	idx := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 111},
	})
	base := idx.RootHash()

	idx.Insert(Entry{Path: "b.txt", Kind: KindFile, ContentHash: 222})
	if idx.RootHash() == base {
		t.Fatal("expected Insert to change the root hash")
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", idx.Len())
	}

	idx.Remove("b.txt")
	if idx.RootHash() != base {
		t.Fatal("expected removing the inserted entry to restore the original root hash")
	}
	if idx.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", idx.Len())
	}
}

func TestFromEntriesRootHashDeterministic(t *testing.T) {
	a := FromEntries(map[string]Entry{"x": {Path: "x", ContentHash: 1}})
	b := FromEntries(map[string]Entry{"x": {Path: "x", ContentHash: 1}})
	if a.RootHash() != b.RootHash() {
		t.Fatal("expected identical entry sets to produce identical root hashes")
	}
}
