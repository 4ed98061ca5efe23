// Package pathroot resolves the project root that all other MAOC
// components anchor their filesystem layout to, and exposes the
// canonical subdirectories as precomputed, cached paths.
//
// No other package in this module is permitted to compose a ".state/..."
// or "logs/..." path from string concatenation; every path a component
// needs comes from a Root value constructed once per process.
package pathroot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrRootResolution is returned only when the current working directory
// itself cannot be determined or accessed; every other condition falls
// back to cwd as root.
var ErrRootResolution = errors.New("pathroot: cannot resolve current working directory")

// vcsMarkers are checked, in order, when probing upward from cwd. The
// first directory containing any of these becomes the project root.
var vcsMarkers = []string{".git", ".hg", ".svn"}

// Root holds the resolved project root and its canonical subdirectories.
// Zero value is not usable; construct with New.
type Root struct {
	root          string
	stateDir      string
	logsDir       string
	locksDir      string
	workspacesDir string
	worktreesDir  string
	sessionsDir   string
}

// New probes upward from startDir (use "" for the process cwd) for a VCS
// marker and returns a Root anchored there, or at startDir itself if no
// marker is found. Resolution happens once; the result is safe to share
// across goroutines since Root is immutable after construction.
func New(startDir string) (*Root, error) {
	dir := startDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRootResolution, err)
		}
		dir = cwd
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootResolution, err)
	}

	root := findVCSRoot(abs)
	if root == "" {
		root = abs
	}

	return &Root{
		root:          root,
		stateDir:      filepath.Join(root, ".state"),
		logsDir:       filepath.Join(root, "logs"),
		locksDir:      filepath.Join(root, ".state", "locks"),
		workspacesDir: filepath.Join(root, ".state", "workspaces"),
		worktreesDir:  filepath.Join(root, "worktrees"),
		sessionsDir:   filepath.Join(root, ".state", "sessions"),
	}, nil
}

// findVCSRoot walks upward from dir looking for a VCS marker directory.
// Returns "" if none is found before reaching the filesystem root.
func findVCSRoot(dir string) string {
	for {
		for _, marker := range vcsMarkers {
			if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Root returns the resolved project root directory.
func (r *Root) Root() string { return r.root }

// State returns R/.state.
func (r *Root) State() string { return r.stateDir }

// Logs returns R/logs.
func (r *Root) Logs() string { return r.logsDir }

// Locks returns R/.state/locks.
func (r *Root) Locks() string { return r.locksDir }

// Workspaces returns R/.state/workspaces (the plain-directory fallback root).
func (r *Root) Workspaces() string { return r.workspacesDir }

// Worktrees returns R/worktrees (the preferred VCS-worktree root).
func (r *Root) Worktrees() string { return r.worktreesDir }

// Sessions returns R/.state/sessions.
func (r *Root) Sessions() string { return r.sessionsDir }

// EnsureLayout creates every canonical directory, idempotently, with
// owner-only permissions. Called once at process start by components
// that are about to write into the tree.
func (r *Root) EnsureLayout() error {
	dirs := []string{r.stateDir, r.logsDir, r.locksDir, r.workspacesDir, r.worktreesDir, r.sessionsDir}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("pathroot: create %s: %w", d, err)
		}
	}
	return nil
}
