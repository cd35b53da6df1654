// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fileio

import (
	"path/filepath"
	"testing"
)

func TestSanitizeRelativePathAcceptsPlainPath(t *testing.T) {
	base := t.TempDir()
	got, err := SanitizeRelativePath(base, "a/b/c.txt")
	if err != nil {
		t.Fatalf("SanitizeRelativePath: %v", err)
	}
	want, _ := filepath.Abs(filepath.Join(base, "a", "b", "c.txt"))
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSanitizeRelativePathRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	cases := []string{
		"../escape.txt",
		"a/../../escape.txt",
		"..",
		"a/../../../etc/passwd",
	}
	for _, c := range cases {
		if _, err := SanitizeRelativePath(base, c); err == nil {
			t.Fatalf("expected rejection for %q", c)
		}
	}
}

func TestSanitizeRelativePathRejectsEmpty(t *testing.T) {
	base := t.TempDir()
	if _, err := SanitizeRelativePath(base, ""); err == nil {
		t.Fatal("expected rejection for empty path")
	}
}

func TestSanitizeRelativePathAllowsDotPrefixedFile(t *testing.T) {
	base := t.TempDir()
	if _, err := SanitizeRelativePath(base, ".hidden/file.txt"); err != nil {
		t.Fatalf("expected hidden path to be accepted, got %v", err)
	}
}
