package workspace

import (
	"context"
	"testing"
	"time"

	"github.com/boshu2/maoc/internal/lock"
	"github.com/boshu2/maoc/internal/pathroot"
	"github.com/boshu2/maoc/internal/state"
)

func setup(t *testing.T) (*Provisioner, *state.Store, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := pathroot.New(dir)
	if err != nil {
		t.Fatalf("pathroot.New: %v", err)
	}
	if err := root.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}

	locks := lock.New(root.Locks(), time.Minute)
	store := state.New(root.Sessions())
	if _, err := store.OpenSession("S1", dir, ""); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	p := New(root, locks, store, ModePlainOnly)
	return p, store, "S1"
}

func TestEnsureWorkspacePlainOnlyCreatesDirectory(t *testing.T) {
	p, store, sid := setup(t)
	agentID, err := store.RegisterPendingAgent(sid, "backend", "")
	if err != nil {
		t.Fatalf("RegisterPendingAgent: %v", err)
	}

	res, err := p.EnsureWorkspace(context.Background(), sid, agentID)
	if err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	if res.Strategy != StrategyPlainDir {
		t.Fatalf("strategy = %q, want plain_dir", res.Strategy)
	}
}

func TestEnsureWorkspaceIsIdempotent(t *testing.T) {
	p, store, sid := setup(t)
	agentID, err := store.RegisterPendingAgent(sid, "backend", "")
	if err != nil {
		t.Fatalf("RegisterPendingAgent: %v", err)
	}

	res1, err := p.EnsureWorkspace(context.Background(), sid, agentID)
	if err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	res2, err := p.EnsureWorkspace(context.Background(), sid, agentID)
	if err != nil {
		t.Fatalf("EnsureWorkspace second call: %v", err)
	}
	if res1.Path != res2.Path {
		t.Fatalf("paths differ: %q vs %q", res1.Path, res2.Path)
	}
}

func TestIsUnder(t *testing.T) {
	cases := []struct {
		path, ancestor string
		want           bool
	}{
		{"/repo/worktrees/a", "/repo/worktrees", true},
		{"/repo/worktrees", "/repo/worktrees", true},
		{"/repo/other/a", "/repo/worktrees", false},
		{"/etc/passwd", "/repo/worktrees", false},
	}
	for _, c := range cases {
		if got := isUnder(c.path, c.ancestor); got != c.want {
			t.Errorf("isUnder(%q, %q) = %v, want %v", c.path, c.ancestor, got, c.want)
		}
	}
}
