package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/schaermu/nbpuller/internal/git"
)

func TestReconcile_CleanTree(t *testing.T) {
	tool := &fakeTool{}
	r := NewReconciler(tool, testLogger())

	if err := r.Reconcile(context.Background(), "/clone", "main", newTestReporter(nil)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := []string{"status", "status", "fetch main", "merge origin/main", "read-tree"}
	if diff := cmp.Diff(want, tool.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_RestoresDeletionsAndSnapshotsEdits(t *testing.T) {
	tool := &fakeTool{
		statuses: [][]git.StatusEntry{
			{
				{Index: ' ', Worktree: 'D', Path: "gone.ipynb"},
				{Index: 'D', Worktree: ' ', Path: "staged.ipynb"},
				{Index: 'U', Worktree: 'U', Path: "conflict.ipynb"},
				{Index: ' ', Worktree: 'M', Path: "edited.ipynb"},
			},
			{
				{Index: ' ', Worktree: 'M', Path: "edited.ipynb"},
			},
		},
	}
	var lines []string
	r := NewReconciler(tool, testLogger())

	if err := r.Reconcile(context.Background(), "/clone", "main", newTestReporter(&lines)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := []string{
		"status",
		"checkout  gone.ipynb",
		"checkout HEAD staged.ipynb",
		"status",
		"commit " + RecoveryCommitMessage,
		"fetch main",
		"merge origin/main",
		"read-tree",
	}
	if diff := cmp.Diff(want, tool.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	wantLines := []string{
		"Restoring 2 deleted file(s)",
		"Saving local changes to 1 file(s)",
		"Fetching origin/main",
		"Merging origin/main",
		"Updating working tree",
	}
	if diff := cmp.Diff(wantLines, lines); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_ForwardsFetchProgress(t *testing.T) {
	tool := &fakeTool{progress: []string{"Receiving objects: 100% (3/3), done."}}
	var lines []string
	r := NewReconciler(tool, testLogger())

	if err := r.Reconcile(context.Background(), "/clone", "main", newTestReporter(&lines)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := []string{"Fetching origin/main", "Receiving objects: 100% (3/3), done.", "Merging origin/main", "Updating working tree"}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_ErrorClassification(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		tool     *fakeTool
		want     error
		lastCall string
	}{
		{"status", &fakeTool{statusErr: boom}, ErrMergeFailure, "status"},
		{"checkout", &fakeTool{checkoutErr: boom, statuses: [][]git.StatusEntry{{{Index: ' ', Worktree: 'D', Path: "a"}}}}, ErrMergeFailure, "checkout  a"},
		{"commit", &fakeTool{commitErr: boom, statuses: [][]git.StatusEntry{{{Index: 'M', Worktree: ' ', Path: "a"}}}}, ErrMergeFailure, "commit WIP"},
		{"fetch", &fakeTool{fetchErr: boom}, ErrRemoteUnavailable, "fetch main"},
		{"merge", &fakeTool{mergeErr: boom}, ErrMergeFailure, "merge origin/main"},
		{"read-tree", &fakeTool{readTreeErr: boom}, ErrMergeFailure, "read-tree"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(tt.tool, testLogger())
			err := r.Reconcile(context.Background(), "/clone", "main", newTestReporter(nil))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, boom) {
				t.Errorf("expected underlying error to be wrapped, got %v", err)
			}
			if last := tt.tool.calls[len(tt.tool.calls)-1]; last != tt.lastCall {
				t.Errorf("expected reconcile to stop after %q, last call was %q", tt.lastCall, last)
			}
		})
	}
}
