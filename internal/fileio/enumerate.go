// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fileio

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EnumerateOptions controls how Enumerate walks a set of roots.
type EnumerateOptions struct {
	FollowSymlinks bool
	IncludeHidden  bool
	MaxDepth       int // 0 means unlimited
	Excludes       []string
}

// Entry is one discovered file, directory or symlink, relative to the
// root it was enumerated from.
type Entry struct {
	AbsPath      string
	RelPath      string
	Info         fs.FileInfo
	IsSymlink    bool
	SymlinkTarget string
}

// Enumerate walks every root in paths (files are included directly,
// directories are walked recursively) and invokes fn for each entry
// found, honoring opts.Excludes and the symlink/hidden-file policy.
// Walking stops, returning ctx.Err(), if ctx is cancelled.
func Enumerate(ctx context.Context, paths []string, opts EnumerateOptions, fn func(Entry) error) error {
	for _, root := range paths {
		info, err := os.Lstat(root)
		if err != nil {
			return fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			entry, err := entryFromPath(root, filepath.Base(root), info)
			if err != nil {
				return err
			}
			if err := fn(entry); err != nil {
				return err
			}
			continue
		}
		if err := enumerateDir(ctx, root, opts, fn); err != nil {
			return err
		}
	}
	return nil
}

func enumerateDir(ctx context.Context, root string, opts EnumerateOptions, fn func(Entry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("computing relative path for %s: %w", path, relErr)
		}
		if relPath == "." {
			return nil
		}

		if !opts.IncludeHidden && isHidden(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if isExcluded(relPath, d.IsDir(), opts.Excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if opts.MaxDepth > 0 && strings.Count(filepath.ToSlash(relPath), "/")+1 > opts.MaxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if info.Mode()&os.ModeSymlink != 0 && !opts.FollowSymlinks {
			target, _ := os.Readlink(path)
			return fn(Entry{AbsPath: path, RelPath: filepath.ToSlash(relPath), Info: info, IsSymlink: true, SymlinkTarget: target})
		}

		entry, err := entryFromPath(path, relPath, info)
		if err != nil {
			return err
		}
		return fn(entry)
	})
}

func entryFromPath(absPath, relPath string, info fs.FileInfo) (Entry, error) {
	return Entry{AbsPath: absPath, RelPath: filepath.ToSlash(relPath), Info: info}, nil
}

func isHidden(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// isExcluded matches relPath against a set of glob exclusion patterns.
// A trailing slash restricts the pattern to directories; a leading
// "**/" makes the pattern match at any depth; otherwise the pattern is
// matched against both the full relative path and the basename.
func isExcluded(relPath string, isDir bool, patterns []string) bool {
	relPath = filepath.ToSlash(relPath)
	base := filepath.Base(relPath)

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		dirOnly := strings.HasSuffix(pattern, "/")
		if dirOnly {
			if !isDir {
				continue
			}
			pattern = strings.TrimSuffix(pattern, "/")
		}

		if strings.HasPrefix(pattern, "**/") {
			pattern = strings.TrimPrefix(pattern, "**/")
			if matched, _ := filepath.Match(pattern, base); matched {
				return true
			}
			if matched, _ := filepath.Match(pattern, relPath); matched {
				return true
			}
			continue
		}

		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
