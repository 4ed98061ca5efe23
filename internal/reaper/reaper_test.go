package reaper

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/boshu2/maoc/internal/lock"
	"github.com/boshu2/maoc/internal/pathroot"
	"github.com/boshu2/maoc/internal/state"
)

func initRepo(t *testing.T, dir string) {
	t.Helper()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "seed")
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func newHarness(t *testing.T) (*Reaper, *pathroot.Root, *state.Store, *lock.Manager) {
	t.Helper()
	dir := t.TempDir()
	initRepo(t, dir)

	root, err := pathroot.New(dir)
	if err != nil {
		t.Fatalf("pathroot.New: %v", err)
	}
	if err := root.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}

	store := state.New(root.Sessions())
	locks := lock.New(root.Locks(), time.Minute)

	r := New(root, store, locks, nil, Config{
		WorkspaceTTL:    10 * time.Millisecond,
		SessionTTL:      10 * time.Millisecond,
		ArchiveSessions: true,
	})
	return r, root, store, locks
}

func TestSweepReclaimsStaleLocks(t *testing.T) {
	_, root, store, _ := newHarness(t)

	// A lock is stale once it is older than the manager's TTL, so this
	// test uses a TTL shorter than the sleep below.
	locks := lock.New(root.Locks(), 10*time.Millisecond)
	r := New(root, store, locks, nil, Config{
		WorkspaceTTL: 10 * time.Millisecond,
		SessionTTL:   10 * time.Millisecond,
	})

	target := filepath.Join(root.Root(), "file.txt")
	if _, err := locks.TryAcquire(target, "agent-A", "write"); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	sum, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sum.LocksReclaimed != 1 {
		t.Fatalf("LocksReclaimed = %d, want 1", sum.LocksReclaimed)
	}
}

func TestSweepRemovesAgedCompletedWorkspace(t *testing.T) {
	r, root, store, _ := newHarness(t)

	sid := "sess-1"
	if _, err := store.OpenSession(sid, root.Root(), ""); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	agentID, err := store.RegisterPendingAgentAt(sid, "worker", "", root.Root())
	if err != nil {
		t.Fatalf("RegisterPendingAgentAt: %v", err)
	}
	if err := store.ActivateAgent(sid, agentID, 0); err != nil {
		t.Fatalf("ActivateAgent: %v", err)
	}

	workspacePath := filepath.Join(root.Workspaces(), agentID)
	if err := os.MkdirAll(workspacePath, 0o700); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	if err := store.SetWorkspacePath(sid, agentID, workspacePath); err != nil {
		t.Fatalf("SetWorkspacePath: %v", err)
	}
	if err := store.CompleteAgent(sid, agentID, "done"); err != nil {
		t.Fatalf("CompleteAgent: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	sum, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sum.WorkspacesRemoved != 1 {
		t.Fatalf("WorkspacesRemoved = %d, want 1 (errors: %v)", sum.WorkspacesRemoved, sum.Errors)
	}
	if _, err := os.Stat(workspacePath); !os.IsNotExist(err) {
		t.Fatalf("workspace dir still exists: %v", err)
	}
}

func TestSweepSkipsWorkspaceHeldByLiveLock(t *testing.T) {
	r, root, store, locks := newHarness(t)

	sid := "sess-2"
	if _, err := store.OpenSession(sid, root.Root(), ""); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	agentID, err := store.RegisterPendingAgentAt(sid, "worker", "", root.Root())
	if err != nil {
		t.Fatalf("RegisterPendingAgentAt: %v", err)
	}
	if err := store.ActivateAgent(sid, agentID, 0); err != nil {
		t.Fatalf("ActivateAgent: %v", err)
	}

	workspacePath := filepath.Join(root.Workspaces(), agentID)
	if err := os.MkdirAll(workspacePath, 0o700); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	if err := store.SetWorkspacePath(sid, agentID, workspacePath); err != nil {
		t.Fatalf("SetWorkspacePath: %v", err)
	}
	if err := store.CompleteAgent(sid, agentID, "done"); err != nil {
		t.Fatalf("CompleteAgent: %v", err)
	}

	if _, err := locks.TryAcquire(filepath.Join(workspacePath, "in-progress.txt"), "other-agent", "write"); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	sum, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sum.WorkspacesRemoved != 0 {
		t.Fatalf("WorkspacesRemoved = %d, want 0", sum.WorkspacesRemoved)
	}
	if _, err := os.Stat(workspacePath); err != nil {
		t.Fatalf("workspace dir should still exist: %v", err)
	}
}

func TestSweepArchivesSessionOnceAllAgentsComplete(t *testing.T) {
	r, root, store, _ := newHarness(t)

	sid := "sess-3"
	if _, err := store.OpenSession(sid, root.Root(), ""); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	agentID, err := store.RegisterPendingAgentAt(sid, "worker", "", root.Root())
	if err != nil {
		t.Fatalf("RegisterPendingAgentAt: %v", err)
	}
	if err := store.CompleteAgent(sid, agentID, "done"); err != nil {
		t.Fatalf("CompleteAgent: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	sum, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sum.SessionsArchived != 1 {
		t.Fatalf("SessionsArchived = %d, want 1 (errors: %v)", sum.SessionsArchived, sum.Errors)
	}
	if _, err := store.GetSession(sid); err == nil {
		t.Fatal("session should no longer be listed as active after archiving")
	}
}

func TestSweepSkipsSessionWithPendingAgent(t *testing.T) {
	r, root, store, _ := newHarness(t)

	sid := "sess-4"
	if _, err := store.OpenSession(sid, root.Root(), ""); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if _, err := store.RegisterPendingAgentAt(sid, "worker", "", root.Root()); err != nil {
		t.Fatalf("RegisterPendingAgentAt: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	sum, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sum.SessionsArchived != 0 {
		t.Fatalf("SessionsArchived = %d, want 0", sum.SessionsArchived)
	}
	if sum.SessionsSkipped == 0 {
		t.Fatal("expected session to be counted as skipped")
	}
}
