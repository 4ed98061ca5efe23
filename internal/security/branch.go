package security

import (
	"os/exec"
	"strings"

	"github.com/boshu2/maoc/internal/hookio"
)

// ResolveCurrentBranch returns the branch checked out at cwd, or "" if
// cwd isn't inside a git work tree or the lookup otherwise fails.
// Callers populate Input.CurrentBranch with this before calling
// Validate, keeping checkGitSafety itself a pure function over its
// Input rather than one that shells out mid-predicate.
func ResolveCurrentBranch(cwd string) string {
	if cwd == "" {
		return ""
	}
	out, err := exec.Command("git", "-C", cwd, "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// NeedsCurrentBranch is a cheap pre-filter so callers only pay for a
// ResolveCurrentBranch exec when the event could plausibly be a
// protected-branch force-push or hard-reset; every other event skips
// the git call entirely.
func NeedsCurrentBranch(ev *hookio.Event) bool {
	if ev == nil || ev.Kind != hookio.KindPreToolUse {
		return false
	}
	cmd, ok := ev.CommandInput()
	if !ok {
		return false
	}
	return strings.Contains(cmd, "git") && (strings.Contains(cmd, "push") || strings.Contains(cmd, "reset"))
}
