// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dirsync

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultAmbiguityWindow is spec's default 2-second conflict ambiguity
// window: two differing versions within this mtime delta are treated as
// a genuine conflict rather than a clear winner.
const DefaultAmbiguityWindow = 2 * time.Second

// OpKind identifies the filesystem action a plan Operation applies.
type OpKind string

const (
	OpCreateDir OpKind = "create_dir"
	OpCreate    OpKind = "create"
	OpModify    OpKind = "modify"
	OpRename    OpKind = "rename"
	OpDelete    OpKind = "delete"
)

// Operation is one step of a reconciliation Plan.
type Operation struct {
	Kind    OpKind
	Path    string
	From    string // populated for OpRename
	Entry   Entry  // the entry whose content this operation applies (Create/Modify)
}

// Plan is an ordered sequence of Operations: directory creations, then
// renames, then file creates/modifies, then deletes. Within each bucket
// order is deterministic by path.
type Plan struct {
	Operations []Operation
}

// Conflict records a path present on both sides with differing content
// whose mtimes fall inside the ambiguity window.
type Conflict struct {
	Path        string
	Local       Entry
	Remote      Entry
}

// NewerSide reports which side's entry has the later mtime.
func (c Conflict) NewerSide() string {
	if c.Remote.ModTime > c.Local.ModTime {
		return "remote"
	}
	return "local"
}

// ResolutionStrategy selects how Resolve handles a Conflict.
type ResolutionStrategy string

const (
	LastWriteWins ResolutionStrategy = "last_write_wins"
	KeepBoth      ResolutionStrategy = "keep_both"
	PreferLocal   ResolutionStrategy = "prefer_local"
	PreferRemote  ResolutionStrategy = "prefer_remote"
)

// Diff computes the operations local must apply to converge toward
// remote, per spec §4.7: paths only in remote become Create, paths in
// both with differing, unambiguously-ordered content become Modify
// (applied to the older side), and paths whose mtimes fall inside
// ambiguityWindow are reported as Conflicts instead of being planned
// automatically.
func Diff(local, remote *FileIndex, ambiguityWindow time.Duration) (Plan, []Conflict) {
	if ambiguityWindow <= 0 {
		ambiguityWindow = DefaultAmbiguityWindow
	}

	var plan Plan
	var conflicts []Conflict

	for path, remoteEntry := range remote.entries {
		localEntry, exists := local.Get(path)
		if !exists {
			plan.Operations = append(plan.Operations, createOp(remoteEntry))
			continue
		}
		if !localEntry.ContentChanged(remoteEntry) {
			continue
		}

		delta := localEntry.ModTime - remoteEntry.ModTime
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta) < ambiguityWindow {
			conflicts = append(conflicts, Conflict{Path: path, Local: localEntry, Remote: remoteEntry})
			continue
		}

		if remoteEntry.IsNewerThan(localEntry) {
			plan.Operations = append(plan.Operations, Operation{Kind: OpModify, Path: path, Entry: remoteEntry})
		}
		// local is newer: no local-side operation here; Reconcile's swapped
		// Diff(remote, local) call plans remote's Modify for this path.
	}

	// Paths that exist only locally are not planned here: Reconcile's
	// swapped Diff(remote, local) call is what plans their Create on the
	// remote side.

	sortPlan(&plan)
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Path < conflicts[j].Path })
	return plan, conflicts
}

// Reconciliation is the full two-sided result of reconciling a pair of
// directory indices: the operations each side must apply to converge,
// plus the conflicts either side's user must resolve via Resolve.
type Reconciliation struct {
	LocalPlan  Plan
	RemotePlan Plan
	Conflicts  []Conflict
}

// Reconcile computes what both sides must do to converge, per spec
// §4.7's full bullet list: paths in remote only (or clearly newer there)
// become LocalPlan operations; paths in local only (or clearly newer
// there) become RemotePlan operations via a second Diff call with sides
// swapped. The two calls see the same ambiguous-mtime pairs, so
// Conflicts is taken from the first call only — the swapped call's
// conflicts describe the identical paths with Local/Remote swapped and
// would otherwise be reported twice.
func Reconcile(local, remote *FileIndex, ambiguityWindow time.Duration) Reconciliation {
	localPlan, conflicts := Diff(local, remote, ambiguityWindow)
	remotePlan, _ := Diff(remote, local, ambiguityWindow)
	return Reconciliation{LocalPlan: localPlan, RemotePlan: remotePlan, Conflicts: conflicts}
}

func createOp(e Entry) Operation {
	if e.Kind == KindDirectory {
		return Operation{Kind: OpCreateDir, Path: e.Path, Entry: e}
	}
	return Operation{Kind: OpCreate, Path: e.Path, Entry: e}
}

// sortPlan orders operations into spec's four buckets (directory
// creations, renames, file creates/modifies, deletes), each sorted by
// path for determinism.
func sortPlan(p *Plan) {
	bucket := func(k OpKind) int {
		switch k {
		case OpCreateDir:
			return 0
		case OpRename:
			return 1
		case OpCreate, OpModify:
			return 2
		case OpDelete:
			return 3
		default:
			return 4
		}
	}
	sort.SliceStable(p.Operations, func(i, j int) bool {
		bi, bj := bucket(p.Operations[i].Kind), bucket(p.Operations[j].Kind)
		if bi != bj {
			return bi < bj
		}
		return p.Operations[i].Path < p.Operations[j].Path
	})
}

// Resolve applies strategy to a Conflict, returning the Operation(s)
// the local side must perform. KeepBoth renames the local file aside
// before accepting the remote content, matching the
// "name.conflict.<unix_secs>.ext" naming spec calls for.
func Resolve(c Conflict, strategy ResolutionStrategy, now time.Time) []Operation {
	switch strategy {
	case PreferLocal:
		return nil
	case PreferRemote:
		return []Operation{{Kind: OpModify, Path: c.Path, Entry: c.Remote}}
	case KeepBoth:
		renamed := conflictName(c.Path, now)
		return []Operation{
			{Kind: OpRename, Path: renamed, From: c.Path, Entry: c.Local},
			{Kind: OpModify, Path: c.Path, Entry: c.Remote},
		}
	case LastWriteWins:
		fallthrough
	default:
		if c.NewerSide() == "remote" {
			return []Operation{{Kind: OpModify, Path: c.Path, Entry: c.Remote}}
		}
		return nil
	}
}

// conflictName builds "name.conflict.<unix_secs>.ext" from path,
// inserting the marker before the final extension (or appending it if
// path has none).
func conflictName(path string, now time.Time) string {
	ts := now.Unix()
	dot := strings.LastIndex(path, ".")
	slash := strings.LastIndex(path, "/")
	if dot == -1 || dot < slash {
		return fmt.Sprintf("%s.conflict.%d", path, ts)
	}
	return fmt.Sprintf("%s.conflict.%d%s", path[:dot], ts, path[dot:])
}
