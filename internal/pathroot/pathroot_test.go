package pathroot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewFallsBackToCwdWithoutVCSMarker(t *testing.T) {
	dir := t.TempDir()

	r, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatalf("filepath.Abs: %v", err)
	}
	if r.Root() != abs {
		t.Fatalf("Root() = %q, want %q", r.Root(), abs)
	}
}

func TestNewFindsVCSMarkerUpward(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o700); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o700); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	r, err := New(nested)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	abs, _ := filepath.Abs(root)
	if r.Root() != abs {
		t.Fatalf("Root() = %q, want %q", r.Root(), abs)
	}
}

func TestCanonicalDirsAreUnderRoot(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, p := range []string{r.State(), r.Logs(), r.Locks(), r.Workspaces(), r.Worktrees(), r.Sessions()} {
		rel, err := filepath.Rel(r.Root(), p)
		if err != nil || rel == ".." || filepath.IsAbs(rel) {
			t.Fatalf("path %q is not under root %q", p, r.Root())
		}
	}
}

func TestEnsureLayoutCreatesDirs(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	for _, p := range []string{r.State(), r.Logs(), r.Locks(), r.Workspaces(), r.Worktrees(), r.Sessions()} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %q: %v", p, err)
		}
		if !info.IsDir() {
			t.Fatalf("%q is not a directory", p)
		}
	}
}
