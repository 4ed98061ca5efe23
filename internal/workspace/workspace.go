// Package workspace materializes a per-agent isolated working tree,
// lazily and idempotently, preferring a git worktree on a dedicated
// branch and falling back to a plain empty directory when git isn't
// available or the operation fails. The git-worktree choreography here
// — resolve HEAD, create the worktree at a path under the project,
// classify and recover from collisions — generalizes this codebase's
// own per-run worktree provisioning from "one worktree per research run"
// to "one worktree per agent".
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/boshu2/maoc/internal/lock"
	"github.com/boshu2/maoc/internal/pathroot"
	"github.com/boshu2/maoc/internal/state"
)

// Strategy names how a workspace was materialized.
type Strategy string

const (
	StrategyVCSWorktree Strategy = "vcs_worktree"
	StrategyPlainDir    Strategy = "plain_dir"
)

// Mode constrains which strategies EnsureWorkspace may use.
type Mode string

const (
	ModeVCSOnly        Mode = "vcs_only"
	ModePlainOnly       Mode = "plain_only"
	ModeVCSOrFallback   Mode = "vcs_or_fallback"
)

// Result describes a materialized workspace.
type Result struct {
	Path     string
	Strategy Strategy
	Branch   string
}

// Provisioner is MAOC's WorkspaceProvisioner.
type Provisioner struct {
	root  *pathroot.Root
	locks *lock.Manager
	store *state.Store
	mode  Mode
}

// New builds a Provisioner. mode == "" defaults to ModeVCSOrFallback.
func New(root *pathroot.Root, locks *lock.Manager, store *state.Store, mode Mode) *Provisioner {
	if mode == "" {
		mode = ModeVCSOrFallback
	}
	return &Provisioner{root: root, locks: locks, store: store, mode: mode}
}

// EnsureWorkspace returns the agent's materialized workspace, creating
// it on first call and returning the same path on every subsequent
// call, including concurrent ones: a per-agent provisioning lock plus a
// double-checked meta read guarantee exactly-once materialization.
func (p *Provisioner) EnsureWorkspace(ctx context.Context, sid, agentID string) (Result, error) {
	if res, ok := p.existing(sid, agentID); ok {
		return res, nil
	}

	lease, err := p.locks.Acquire(ctx, provisioningKey(agentID), agentID, "workspace_provision", 2*time.Second)
	if err != nil {
		return Result{}, fmt.Errorf("workspace: provisioning lock: %w", err)
	}
	defer p.locks.Release(lease)

	if res, ok := p.existing(sid, agentID); ok {
		return res, nil
	}

	res, err := p.materialize(agentID)
	if err != nil {
		return Result{}, err
	}

	if err := p.store.SetWorkspacePath(sid, agentID, res.Path); err != nil {
		return Result{}, fmt.Errorf("workspace: record workspace path: %w", err)
	}

	return res, nil
}

// ExistingWorkspace returns an already-materialized workspace without
// provisioning one, used by callers (the Coordinator's post_tool_use
// path) that need to recompute a path rewrite but must not trigger
// materialization as a side effect.
func (p *Provisioner) ExistingWorkspace(sid, agentID string) (Result, bool) {
	return p.existing(sid, agentID)
}

func (p *Provisioner) existing(sid, agentID string) (Result, bool) {
	_, meta, err := p.store.GetAgent(sid, agentID)
	if err != nil || meta.WorkspacePath == "" {
		return Result{}, false
	}
	strategy := StrategyPlainDir
	if strings.HasPrefix(meta.WorkspacePath, p.root.Worktrees()) {
		strategy = StrategyVCSWorktree
	}
	return Result{Path: meta.WorkspacePath, Strategy: strategy}, true
}

func (p *Provisioner) materialize(agentID string) (Result, error) {
	worktreePath := filepath.Join(p.root.Worktrees(), agentID)

	if p.mode != ModePlainOnly {
		branch, err := createVCSWorktree(p.root.Root(), worktreePath, agentID)
		if err == nil {
			return Result{Path: worktreePath, Strategy: StrategyVCSWorktree, Branch: branch}, nil
		}
		if p.mode == ModeVCSOnly {
			return Result{}, fmt.Errorf("workspace: vcs_only strategy failed: %w", err)
		}
		// Fall through to plain-dir fallback. The worktree error is
		// discarded and the fallback is not logged; the returned
		// Strategy is the only record of the degradation.
	}

	plainPath := filepath.Join(p.root.Workspaces(), agentID)
	if err := os.MkdirAll(plainPath, 0o700); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNoWorkspace, err)
	}
	return Result{Path: plainPath, Strategy: StrategyPlainDir}, nil
}

func provisioningKey(agentID string) string {
	return "workspace-provision:" + agentID
}

// createVCSWorktree creates a new branch agent/<agentID> from the
// current HEAD and checks it out into worktreePath via `git worktree
// add`. Returns the branch name on success.
func createVCSWorktree(projectRoot, worktreePath, agentID string) (string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return "", fmt.Errorf("git not available: %w", err)
	}

	commit, err := runGit(projectRoot, "rev-parse", "--verify", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	commit = strings.TrimSpace(commit)

	branch := "agent/" + agentID

	if _, err := runGit(projectRoot, "worktree", "add", worktreePath, "-b", branch, commit); err == nil {
		return branch, nil
	}

	// Branch may already exist from a prior attempt; reuse it instead of
	// creating a new one.
	if out, err := runGit(projectRoot, "worktree", "add", worktreePath, branch); err == nil {
		_ = out
		return branch, nil
	}

	return "", fmt.Errorf("git worktree add failed for %s", agentID)
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Remove tears down a materialized workspace. VCS worktrees are removed
// via `git worktree remove`, falling back to a bounded recursive delete;
// plain directories are removed directly. Every removal target is
// validated against root's canonical worktrees/workspaces directories
// before anything is deleted.
func Remove(root *pathroot.Root, res Result) error {
	switch res.Strategy {
	case StrategyVCSWorktree:
		if !isUnder(res.Path, root.Worktrees()) {
			return fmt.Errorf("%w: %s", ErrUnsafeRemoval, res.Path)
		}
		if _, err := runGit(root.Root(), "worktree", "remove", "--force", res.Path); err != nil {
			if rmErr := os.RemoveAll(res.Path); rmErr != nil {
				return fmt.Errorf("workspace: remove worktree %s: %v (git) / %v (fallback)", res.Path, err, rmErr)
			}
		}
		if res.Branch != "" {
			_, _ = runGit(root.Root(), "branch", "-D", res.Branch)
		}
		return nil
	case StrategyPlainDir:
		if !isUnder(res.Path, root.Workspaces()) {
			return fmt.Errorf("%w: %s", ErrUnsafeRemoval, res.Path)
		}
		return os.RemoveAll(res.Path)
	default:
		return fmt.Errorf("workspace: unknown strategy %q", res.Strategy)
	}
}

func isUnder(path, ancestor string) bool {
	rel, err := filepath.Rel(ancestor, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
