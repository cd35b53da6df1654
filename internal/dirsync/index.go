// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package dirsync implements LocalDrop's recursive directory
// synchronization: a filesystem index with a whole-tree content hash, a
// three-way diff against a remote index, conflict detection/resolution,
// and a live fsnotify-based watcher with debounce and loopback
// suppression.
package dirsync

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/localdrop/localdrop/internal/cryptoutil"
	"github.com/localdrop/localdrop/internal/fileio"
)

// Kind distinguishes a file index entry's filesystem type.
type Kind byte

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
)

// Entry is one path's record in a FileIndex.
type Entry struct {
	Path        string `json:"path"`
	Kind        Kind   `json:"kind"`
	Size        uint64 `json:"size"`
	ModTime     int64  `json:"mtime_unix_nano"`
	ContentHash uint64 `json:"content_hash"`
}

// ModTimeAsTime returns e.ModTime as a time.Time.
func (e Entry) ModTimeAsTime() time.Time { return time.Unix(0, e.ModTime) }

// ContentChanged reports whether e and other have different content.
func (e Entry) ContentChanged(other Entry) bool { return e.ContentHash != other.ContentHash }

// IsNewerThan reports whether e's mtime is strictly after other's.
func (e Entry) IsNewerThan(other Entry) bool { return e.ModTime > other.ModTime }

// Config controls how Build walks the sync root.
type Config struct {
	ExcludePatterns []string
	FollowSymlinks  bool
	MaxFileSize     uint64 // 0 means unlimited
}

// FileIndex is the set of entries under a sync root, plus a whole-tree
// root_hash used to cheaply detect "nothing changed" between rebuilds.
type FileIndex struct {
	entries  map[string]Entry
	rootHash uint64
}

// Build walks root synchronously and returns its FileIndex.
func Build(ctx context.Context, root string, cfg Config) (*FileIndex, error) {
	entries := make(map[string]Entry)

	opts := fileio.EnumerateOptions{
		FollowSymlinks: cfg.FollowSymlinks,
		IncludeHidden:  true,
		Excludes:       cfg.ExcludePatterns,
	}

	err := fileio.Enumerate(ctx, []string{root}, opts, func(e fileio.Entry) error {
		kind := KindFile
		switch {
		case e.IsSymlink:
			kind = KindSymlink
		case e.Info.IsDir():
			kind = KindDirectory
		}

		var size uint64
		var hash uint64
		if kind == KindFile {
			size = uint64(e.Info.Size())
			if cfg.MaxFileSize > 0 && size > cfg.MaxFileSize {
				return nil
			}
			data, err := os.ReadFile(e.AbsPath)
			if err != nil {
				return nil // best-effort: unreadable files are skipped, not fatal
			}
			hash = cryptoutil.XXH64(data)
		}

		entries[e.RelPath] = Entry{
			Path:        e.RelPath,
			Kind:        kind,
			Size:        size,
			ModTime:     e.Info.ModTime().UnixNano(),
			ContentHash: hash,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("building directory index for %s: %w", root, err)
	}

	return &FileIndex{entries: entries, rootHash: computeRootHash(entries)}, nil
}

// FromEntries builds a FileIndex from a received remote entry set
// (e.g. decoded from the wire), recomputing its root hash locally
// rather than trusting the sender's claim.
func FromEntries(entries map[string]Entry) *FileIndex {
	return &FileIndex{entries: entries, rootHash: computeRootHash(entries)}
}

// Entries returns a copy of the index's entry map, suitable for
// sending to a peer.
func (idx *FileIndex) Entries() map[string]Entry {
	out := make(map[string]Entry, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out
}

// Get returns the entry at path, if present.
func (idx *FileIndex) Get(path string) (Entry, bool) {
	e, ok := idx.entries[path]
	return e, ok
}

// Insert adds or replaces path's entry and recomputes the root hash.
func (idx *FileIndex) Insert(e Entry) {
	idx.entries[e.Path] = e
	idx.rootHash = computeRootHash(idx.entries)
}

// Remove deletes path's entry, if present, and recomputes the root hash.
func (idx *FileIndex) Remove(path string) {
	if _, ok := idx.entries[path]; !ok {
		return
	}
	delete(idx.entries, path)
	idx.rootHash = computeRootHash(idx.entries)
}

// RootHash returns the whole-index xxHash64: unchanged file contents
// and mtimes across a rebuild always reproduce the same value.
func (idx *FileIndex) RootHash() uint64 { return idx.rootHash }

// Len returns the number of entries in the index.
func (idx *FileIndex) Len() int { return len(idx.entries) }

// computeRootHash hashes the sorted (path, content_hash) pairs so the
// result depends only on content, not on map iteration order.
func computeRootHash(entries map[string]Entry) uint64 {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := cryptoutil.NewXXH64()
	for _, p := range paths {
		e := entries[p]
		h.Write([]byte(p))
		h.Write([]byte(strconv.FormatUint(e.ContentHash, 10)))
	}
	return h.Sum64()
}
