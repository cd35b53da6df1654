// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fileio implements filesystem enumeration, chunked reading and
// writing, path sanitization and best-effort preview generation for
// transfers and directory sync.
package fileio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SanitizeRelativePath validates a receiver-bound relative path and
// resolves it to an absolute path under baseDir. It rejects any
// relative path containing a ".." component before ever touching the
// filesystem, then re-checks the resolved absolute path against
// baseDir as defense in depth.
func SanitizeRelativePath(baseDir, relativePath string) (string, error) {
	if relativePath == "" {
		return "", fmt.Errorf("relative path is empty")
	}
	if strings.ContainsRune(relativePath, 0) {
		return "", fmt.Errorf("relative path contains a null byte")
	}

	cleaned := filepath.ToSlash(relativePath)
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return "", fmt.Errorf("relative path %q escapes the output directory", relativePath)
		}
	}

	joined := filepath.Join(baseDir, filepath.FromSlash(cleaned))

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolving base directory: %w", err)
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolving target path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absJoined)
	if err != nil {
		return "", fmt.Errorf("path %q escapes base directory: %w", relativePath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory %q", relativePath, baseDir)
	}

	return absJoined, nil
}
