package workspace

import "fmt"

var (
	// ErrNoWorkspace is returned when both the VCS-worktree strategy and
	// the plain-directory fallback fail to materialize a workspace.
	ErrNoWorkspace = fmt.Errorf("workspace: no workspace could be provisioned")
	// ErrUnsafeRemoval is returned when a removal target does not
	// descend from an expected canonical root.
	ErrUnsafeRemoval = fmt.Errorf("workspace: removal target outside canonical roots")
)
