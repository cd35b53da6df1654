// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dirsync

import (
	"testing"
	"time"
)

func TestDiffCreatesMissingLocalPaths(t *testing.T) {
	local := FromEntries(map[string]Entry{})
	remote := FromEntries(map[string]Entry{
		"new.txt": {Path: "new.txt", Kind: KindFile, ContentHash: 1, ModTime: 1000},
	})

	plan, conflicts := Diff(local, remote, 0)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %d", len(conflicts))
	}
	if len(plan.Operations) != 1 || plan.Operations[0].Kind != OpCreate || plan.Operations[0].Path != "new.txt" {
		t.Fatalf("expected a single Create operation for new.txt, got %+v", plan.Operations)
	}
}

func TestDiffCreateDirForDirectoryEntries(t *testing.T) {
	local := FromEntries(map[string]Entry{})
	remote := FromEntries(map[string]Entry{
		"sub": {Path: "sub", Kind: KindDirectory, ModTime: 1000},
	})

	plan, _ := Diff(local, remote, 0)
	if len(plan.Operations) != 1 || plan.Operations[0].Kind != OpCreateDir {
		t.Fatalf("expected a single CreateDir operation, got %+v", plan.Operations)
	}
}

func TestDiffModifiesWhenRemoteClearlyNewer(t *testing.T) {
	now := time.Now()
	local := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 1, ModTime: now.UnixNano()},
	})
	remote := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 2, ModTime: now.Add(10 * time.Second).UnixNano()},
	})

	plan, conflicts := Diff(local, remote, 2*time.Second)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
	if len(plan.Operations) != 1 || plan.Operations[0].Kind != OpModify {
		t.Fatalf("expected a single Modify operation, got %+v", plan.Operations)
	}
	if plan.Operations[0].Entry.ContentHash != 2 {
		t.Fatalf("expected the Modify to carry the remote entry, got %+v", plan.Operations[0].Entry)
	}
}

func TestDiffNoOpWhenLocalClearlyNewer(t *testing.T) {
	now := time.Now()
	local := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 2, ModTime: now.Add(10 * time.Second).UnixNano()},
	})
	remote := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 1, ModTime: now.UnixNano()},
	})

	plan, conflicts := Diff(local, remote, 2*time.Second)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
	if len(plan.Operations) != 0 {
		t.Fatalf("expected no local-side operation when local is newer, got %+v", plan.Operations)
	}
}

func TestDiffReportsConflictInsideAmbiguityWindow(t *testing.T) {
	now := time.Now()
	local := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 1, ModTime: now.UnixNano()},
	})
	remote := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 2, ModTime: now.Add(500 * time.Millisecond).UnixNano()},
	})

	plan, conflicts := Diff(local, remote, 2*time.Second)
	if len(plan.Operations) != 0 {
		t.Fatalf("expected no planned operations for an ambiguous conflict, got %+v", plan.Operations)
	}
	if len(conflicts) != 1 || conflicts[0].Path != "a.txt" {
		t.Fatalf("expected a single conflict on a.txt, got %+v", conflicts)
	}
}

func TestDiffSkipsUnchangedContent(t *testing.T) {
	local := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 1, ModTime: 1000},
	})
	remote := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 1, ModTime: 999999},
	})

	plan, conflicts := Diff(local, remote, 0)
	if len(plan.Operations) != 0 || len(conflicts) != 0 {
		t.Fatalf("expected no operations or conflicts for unchanged content, got plan=%+v conflicts=%+v", plan, conflicts)
	}
}

func TestSortPlanOrdersByBucketThenPath(t *testing.T) {
	remote := FromEntries(map[string]Entry{
		"z/file.txt": {Path: "z/file.txt", Kind: KindFile, ModTime: 1},
		"b.txt":      {Path: "b.txt", Kind: KindFile, ModTime: 1},
		"a.txt":      {Path: "a.txt", Kind: KindFile, ModTime: 1},
		"z":          {Path: "z", Kind: KindDirectory, ModTime: 1},
	})
	local := FromEntries(map[string]Entry{})

	plan, _ := Diff(local, remote, 0)
	if len(plan.Operations) != 4 {
		t.Fatalf("expected 4 operations, got %d", len(plan.Operations))
	}
	if plan.Operations[0].Kind != OpCreateDir || plan.Operations[0].Path != "z" {
		t.Fatalf("expected directory creation to sort first, got %+v", plan.Operations[0])
	}
	if plan.Operations[1].Path != "a.txt" || plan.Operations[2].Path != "b.txt" || plan.Operations[3].Path != "z/file.txt" {
		t.Fatalf("expected remaining creates sorted by path, got %+v", plan.Operations[1:])
	}
}

func TestResolveStrategies(t *testing.T) {
	now := time.Now()
	conflict := Conflict{
		Path:   "a.txt",
		Local:  Entry{Path: "a.txt", ContentHash: 1, ModTime: now.UnixNano()},
		Remote: Entry{Path: "a.txt", ContentHash: 2, ModTime: now.Add(time.Second).UnixNano()},
	}

	if ops := Resolve(conflict, PreferLocal, now); ops != nil {
		t.Fatalf("expected PreferLocal to produce no operations, got %+v", ops)
	}

	ops := Resolve(conflict, PreferRemote, now)
	if len(ops) != 1 || ops[0].Kind != OpModify || ops[0].Entry.ContentHash != 2 {
		t.Fatalf("expected PreferRemote to modify with the remote entry, got %+v", ops)
	}

	ops = Resolve(conflict, LastWriteWins, now)
	if len(ops) != 1 || ops[0].Kind != OpModify || ops[0].Entry.ContentHash != 2 {
		t.Fatalf("expected LastWriteWins to pick the newer (remote) side, got %+v", ops)
	}

	ops = Resolve(conflict, KeepBoth, now)
	if len(ops) != 2 {
		t.Fatalf("expected KeepBoth to produce a rename plus a modify, got %+v", ops)
	}
	if ops[0].Kind != OpRename || ops[0].From != "a.txt" {
		t.Fatalf("expected the first operation to rename the local file aside, got %+v", ops[0])
	}
	if ops[1].Kind != OpModify || ops[1].Path != "a.txt" {
		t.Fatalf("expected the second operation to write the remote content to the original path, got %+v", ops[1])
	}
}

func TestConflictNamePreservesExtension(t *testing.T) {
	now := time.Unix(1700000000, 0)
	got := conflictName("docs/report.pdf", now)
	want := "docs/report.conflict.1700000000.pdf"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	gotNoExt := conflictName("README", now)
	wantNoExt := "README.conflict.1700000000"
	if gotNoExt != wantNoExt {
		t.Fatalf("expected %q, got %q", wantNoExt, gotNoExt)
	}
}

func TestReconcileCreatesRemoteOnlyPathsOnLocal(t *testing.T) {
	local := FromEntries(map[string]Entry{})
	remote := FromEntries(map[string]Entry{
		"new.txt": {Path: "new.txt", Kind: KindFile, ContentHash: 1, ModTime: 1000},
	})

	r := Reconcile(local, remote, 0)
	if len(r.LocalPlan.Operations) != 1 || r.LocalPlan.Operations[0].Kind != OpCreate || r.LocalPlan.Operations[0].Path != "new.txt" {
		t.Fatalf("expected local to create new.txt, got %+v", r.LocalPlan.Operations)
	}
	if len(r.RemotePlan.Operations) != 0 {
		t.Fatalf("expected no remote-side operations, got %+v", r.RemotePlan.Operations)
	}
	if len(r.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", r.Conflicts)
	}
}

func TestReconcileCreatesLocalOnlyPathsOnRemote(t *testing.T) {
	local := FromEntries(map[string]Entry{
		"only-local.txt": {Path: "only-local.txt", Kind: KindFile, ContentHash: 7, ModTime: 1000},
	})
	remote := FromEntries(map[string]Entry{})

	r := Reconcile(local, remote, 0)
	if len(r.LocalPlan.Operations) != 0 {
		t.Fatalf("expected no local-side operations, got %+v", r.LocalPlan.Operations)
	}
	if len(r.RemotePlan.Operations) != 1 {
		t.Fatalf("expected a single remote-side operation, got %+v", r.RemotePlan.Operations)
	}
	op := r.RemotePlan.Operations[0]
	if op.Kind != OpCreate || op.Path != "only-local.txt" || op.Entry.ContentHash != 7 {
		t.Fatalf("expected remote to create only-local.txt with the local entry's content, got %+v", op)
	}
}

func TestReconcilePlansModifyOnTheOlderSideOnly(t *testing.T) {
	now := time.Now()
	local := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 2, ModTime: now.Add(10 * time.Second).UnixNano()},
	})
	remote := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 1, ModTime: now.UnixNano()},
	})

	r := Reconcile(local, remote, 2*time.Second)
	if len(r.LocalPlan.Operations) != 0 {
		t.Fatalf("expected no local-side operation when local is newer, got %+v", r.LocalPlan.Operations)
	}
	if len(r.RemotePlan.Operations) != 1 || r.RemotePlan.Operations[0].Kind != OpModify || r.RemotePlan.Operations[0].Entry.ContentHash != 2 {
		t.Fatalf("expected remote to adopt the newer local content, got %+v", r.RemotePlan.Operations)
	}
}

func TestReconcileReportsEachConflictOnce(t *testing.T) {
	now := time.Now()
	local := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 1, ModTime: now.UnixNano()},
	})
	remote := FromEntries(map[string]Entry{
		"a.txt": {Path: "a.txt", Kind: KindFile, ContentHash: 2, ModTime: now.Add(500 * time.Millisecond).UnixNano()},
	})

	r := Reconcile(local, remote, 2*time.Second)
	if len(r.Conflicts) != 1 || r.Conflicts[0].Path != "a.txt" {
		t.Fatalf("expected exactly one conflict on a.txt, got %+v", r.Conflicts)
	}
	if r.Conflicts[0].Local.ContentHash != 1 || r.Conflicts[0].Remote.ContentHash != 2 {
		t.Fatalf("expected the conflict's Local/Remote entries to keep their original sides, got %+v", r.Conflicts[0])
	}
	if len(r.LocalPlan.Operations) != 0 || len(r.RemotePlan.Operations) != 0 {
		t.Fatalf("expected no planned operations for an ambiguous conflict, got local=%+v remote=%+v", r.LocalPlan.Operations, r.RemotePlan.Operations)
	}
}

func TestConflictNewerSide(t *testing.T) {
	c := Conflict{
		Local:  Entry{ModTime: 100},
		Remote: Entry{ModTime: 200},
	}
	if c.NewerSide() != "remote" {
		t.Fatalf("expected remote to be newer, got %q", c.NewerSide())
	}
	c.Remote.ModTime = 50
	if c.NewerSide() != "local" {
		t.Fatalf("expected local to be newer, got %q", c.NewerSide())
	}
}
