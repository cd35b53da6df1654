// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dirsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind identifies what happened to a watched path.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventDeleted  EventKind = "deleted"
)

// Event is a debounced, filtered filesystem change ready for the sync
// engine to act on.
type Event struct {
	Path string
	Kind EventKind
}

// DefaultDebounce is spec's default 100ms coalescing window: multiple
// raw fsnotify events for the same path within this window collapse
// into the latest one.
const DefaultDebounce = 100 * time.Millisecond

// DefaultLoopbackWindow is spec's default 500ms suppression window:
// after applying a remotely-received change to a path, every local
// event for that path inside this window is ignored so the engine does
// not echo its own write back to the peer as a new local change.
const DefaultLoopbackWindow = 500 * time.Millisecond

// Watcher watches root for changes, honoring cfg's exclusion/size
// policy, and delivers debounced Events via Watch's callback.
type Watcher struct {
	root   string
	cfg    Config
	log    *slog.Logger
	notify *fsnotify.Watcher

	mu        sync.Mutex
	pending   map[string]EventKind
	suppress  map[string]time.Time
	timer     *time.Timer
	debounce  time.Duration
	loopback  time.Duration
}

// NewWatcher creates an fsnotify watcher recursively registered under
// root.
func NewWatcher(root string, cfg Config, debounce, loopback time.Duration, log *slog.Logger) (*Watcher, error) {
	nw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if loopback <= 0 {
		loopback = DefaultLoopbackWindow
	}

	w := &Watcher{
		root:     root,
		cfg:      cfg,
		log:      log.With("component", "dirsync_watcher"),
		notify:   nw,
		pending:  make(map[string]EventKind),
		suppress: make(map[string]time.Time),
		debounce: debounce,
		loopback: loopback,
	}

	if err := w.addRecursive(root); err != nil {
		nw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if isExcludedPath(w.root, path, w.cfg.ExcludePatterns) && path != w.root {
				return filepath.SkipDir
			}
			if err := w.notify.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
		}
		return nil
	})
}

// SuppressNext marks path so every raw event for it within the
// loopback window is dropped instead of surfaced — called right after
// the sync engine applies a remotely-received change.
func (w *Watcher) SuppressNext(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suppress[path] = time.Now().Add(w.loopback)
}

// Watch runs until ctx is cancelled, invoking onEvent with each
// debounced, filtered Event.
func (w *Watcher) Watch(ctx context.Context, onEvent func(Event)) error {
	defer w.notify.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.notify.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("filesystem watch error", "error", err)
		case raw, ok := <-w.notify.Events:
			if !ok {
				return nil
			}
			w.handleRaw(raw, onEvent)
		}
	}
}

func (w *Watcher) handleRaw(raw fsnotify.Event, onEvent func(Event)) {
	relPath, err := filepath.Rel(w.root, raw.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	if isExcludedPath(w.root, raw.Name, w.cfg.ExcludePatterns) {
		return
	}

	w.mu.Lock()
	if until, suppressed := w.suppress[relPath]; suppressed {
		if time.Now().Before(until) {
			w.mu.Unlock()
			return
		}
		delete(w.suppress, relPath)
	}

	kind := EventModified
	switch {
	case raw.Op&fsnotify.Create != 0:
		kind = EventCreated
		if info, statErr := os.Stat(raw.Name); statErr == nil && info.IsDir() {
			w.notify.Add(raw.Name)
		}
	case raw.Op&fsnotify.Remove != 0, raw.Op&fsnotify.Rename != 0:
		kind = EventDeleted
	}
	w.pending[relPath] = kind

	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, func() { w.flush(onEvent) })
	} else {
		w.timer.Reset(w.debounce)
	}
	w.mu.Unlock()
}

func (w *Watcher) flush(onEvent func(Event)) {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]EventKind)
	w.timer = nil
	w.mu.Unlock()

	for path, kind := range pending {
		onEvent(Event{Path: path, Kind: kind})
	}
}

// isExcludedPath reports whether absPath (relative to root) matches any
// of patterns, reusing the same glob matching conventions as
// internal/fileio's Enumerate.
func isExcludedPath(root, absPath string, patterns []string) bool {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(strings.TrimSuffix(pattern, "/"))
		if pattern == "" {
			continue
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

