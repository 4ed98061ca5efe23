// Package coordinator is MAOC's central integration point: it detects
// sub-agent spawn events, activates agents on their first observed
// activity, binds and rewrites file paths into an agent's isolated
// workspace, arbitrates lock acquisition for writes outside that
// workspace, and releases those locks on the matching post_tool_use
// event. It is the longest and hardest component, exactly as the
// original design calls out, and generalizes the teacher's per-event
// routing switch (`cmd/ao/hooks.go`'s event-group dispatch) and its
// `internal/ratchet` gate-checker's per-step style into a single
// `Handle` entry point that owns the full StateStore/LockManager/
// WorkspaceProvisioner/SecurityValidator composition.
package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/boshu2/maoc/internal/hookio"
	"github.com/boshu2/maoc/internal/idgen"
	"github.com/boshu2/maoc/internal/lock"
	"github.com/boshu2/maoc/internal/obslog"
	"github.com/boshu2/maoc/internal/pathroot"
	"github.com/boshu2/maoc/internal/security"
	"github.com/boshu2/maoc/internal/state"
	"github.com/boshu2/maoc/internal/workspace"
)

// Config tunes Coordinator behavior without changing its shape.
type Config struct {
	// LauncherToolName is the host tool whose invocation spawns a
	// sub-agent. The spawned role is read from its "subagent_type" tool
	// input field, and an optional parent agent id from
	// "parent_agent_id".
	LauncherToolName string

	// MutatingTools names the tool_name values whose tool_input carries
	// a file path this Coordinator must mediate (workspace binding,
	// path rewrite, locking). Tools not in this set are treated as
	// reads: no lock, no rewrite.
	MutatingTools []string

	LockAcquireTimeout time.Duration
	ProjectRoot        string
	SecurityConfig     security.Config
}

// DefaultConfig matches the values named in the configuration table.
func DefaultConfig(projectRoot string) Config {
	return Config{
		LauncherToolName:   "Task",
		MutatingTools:      []string{"Write", "Edit", "MultiEdit", "NotebookEdit"},
		LockAcquireTimeout: 100 * time.Millisecond,
		ProjectRoot:        projectRoot,
		SecurityConfig:     security.DefaultConfig(),
	}
}

// Coordinator is MAOC's C8. Construct one per process invocation; it is
// not safe to share across hook invocations since each invocation is
// its own short-lived process.
type Coordinator struct {
	root       *pathroot.Root
	store      *state.Store
	locks      *lock.Manager
	workspaces *workspace.Provisioner
	log        *obslog.Logger
	cfg        Config
}

// New builds a Coordinator from its component dependencies.
func New(root *pathroot.Root, store *state.Store, locks *lock.Manager, workspaces *workspace.Provisioner, log *obslog.Logger, cfg Config) *Coordinator {
	return &Coordinator{root: root, store: store, locks: locks, workspaces: workspaces, log: log, cfg: cfg}
}

// Handle implements the Coordinator contract: handle(event) -> Decision.
// Errors returned are coordination errors (opening the session, a state
// transition, a lock operation) that the caller (HookDispatcher) must
// translate per its own fail-open/fail-closed policy. A workspace that
// cannot be provisioned for a file-mutating call is not returned as an
// error: Handle answers it with a deny decision.
func (c *Coordinator) Handle(ctx context.Context, ev *hookio.Event) (hookio.Decision, error) {
	if ev.SessionID == "" {
		// The host normally always supplies session_id; this only fires
		// against a non-conforming or test harness caller. The generated
		// id has no way to be correlated with a future call lacking one
		// too, so this session can never be resumed across invocations —
		// acceptable since there was no correlation key to begin with.
		ev.SessionID = idgen.SessionID()
	}
	if _, err := c.store.OpenSession(ev.SessionID, ev.Cwd, ""); err != nil {
		return hookio.Decision{}, fmt.Errorf("coordinator: open session: %w", err)
	}

	switch ev.Kind {
	case hookio.KindPreToolUse:
		if ev.ToolName == c.cfg.LauncherToolName {
			return c.handleSpawn(ev)
		}
		return c.handlePreToolUse(ctx, ev)
	case hookio.KindPostToolUse:
		return c.handlePostToolUse(ctx, ev)
	case hookio.KindStop:
		return c.handleStop(ev)
	case hookio.KindSubagentStop:
		return c.handleSubagentStop(ev)
	default:
		return hookio.Allow(), nil
	}
}

// handleSpawn implements the spawn-observation behavior: register a
// pending agent, do not materialize its workspace yet.
func (c *Coordinator) handleSpawn(ev *hookio.Event) (hookio.Decision, error) {
	role, _ := stringInput(ev, "subagent_type")
	if role == "" {
		role, _ = stringInput(ev, "role")
	}
	if role == "" {
		// No recognizable role: nothing to register, let the call
		// through unmediated.
		return hookio.Allow(), nil
	}
	parent, _ := stringInput(ev, "parent_agent_id")

	if _, err := c.store.RegisterPendingAgentAt(ev.SessionID, role, parent, ev.Cwd); err != nil {
		return hookio.Decision{}, fmt.Errorf("coordinator: register pending agent: %w", err)
	}
	return hookio.Allow(), nil
}

// handlePreToolUse resolves the calling agent's first activity if
// needed, then mediates file-mutating tool calls: workspace binding,
// path rewrite, and lock acquisition.
func (c *Coordinator) handlePreToolUse(ctx context.Context, ev *hookio.Event) (hookio.Decision, error) {
	agentID, err := c.resolveAgent(ev)
	if err != nil {
		return hookio.Decision{}, err
	}
	if agentID == "" {
		// Not a sub-agent's call (or we can't correlate it to one):
		// nothing for the Coordinator to mediate.
		return hookio.Allow(), nil
	}

	if !isMutatingTool(ev.ToolName, c.cfg.MutatingTools) {
		return hookio.Allow(), nil
	}

	path, ok := ev.FilePathInput()
	if !ok {
		return hookio.Allow(), nil
	}

	res, err := c.workspaces.EnsureWorkspace(ctx, ev.SessionID, agentID)
	if err != nil {
		return hookio.Deny(fmt.Sprintf("blocked: workspace unavailable for %s", agentID)), nil
	}

	rewritten, didRewrite := rewritePath(path, ev.Cwd, res, c.cfg.ProjectRoot)
	canonical := lock.Canonicalize(rewritten)

	secIn := security.Input{
		Event:               ev,
		CanonicalTargetPath: canonical,
		ProjectRoot:         c.cfg.ProjectRoot,
		WorkspaceDir:        res.Path,
		HasWorkspace:        true,
	}
	if security.NeedsCurrentBranch(ev) {
		secIn.CurrentBranch = security.ResolveCurrentBranch(ev.Cwd)
	}

	verdict := security.Validate(secIn, c.cfg.SecurityConfig)
	if verdict.Denied {
		return hookio.Deny(verdict.Reason), nil
	}

	if needsLock(canonical, res.Path) {
		lease, err := c.locks.Acquire(ctx, canonical, agentID, "write", c.cfg.LockAcquireTimeout)
		if err != nil {
			if err == lock.ErrTimeout || err == lock.ErrContention {
				holder := c.currentHolder(canonical)
				return hookio.Deny(fmt.Sprintf("blocked: file locked by %s", holder)), nil
			}
			return hookio.Decision{}, fmt.Errorf("coordinator: acquire lock: %w", err)
		}
		_ = lease // the lease directory itself is the record; release is by holder+path on post_tool_use.
	}

	if didRewrite {
		return hookio.AllowWithRewrite(map[string]string{"file_path": rewritten}), nil
	}
	return hookio.Allow(), nil
}

// handlePostToolUse releases any lease the matching pre_tool_use call
// took, keyed by path and holder rather than an in-memory lease value,
// since each hook invocation is its own process. It re-derives the same
// canonical path the pre_tool_use call locked by re-running the
// workspace-relative rewrite, since the host's post_tool_use event may
// echo the tool's original (unrewritten) input rather than what it
// actually executed.
func (c *Coordinator) handlePostToolUse(ctx context.Context, ev *hookio.Event) (hookio.Decision, error) {
	agentID, err := c.resolveAgent(ev)
	if err != nil {
		return hookio.Decision{}, err
	}
	if agentID == "" || !isMutatingTool(ev.ToolName, c.cfg.MutatingTools) {
		return hookio.Allow(), nil
	}
	path, ok := ev.FilePathInput()
	if !ok {
		return hookio.Allow(), nil
	}

	target := path
	if res, ok := c.workspaces.ExistingWorkspace(ev.SessionID, agentID); ok {
		if rewritten, didRewrite := rewritePath(path, ev.Cwd, res, c.cfg.ProjectRoot); didRewrite {
			target = rewritten
		}
	}

	canonical := lock.Canonicalize(target)
	if err := c.locks.ReleaseByHolder(canonical, agentID); err != nil {
		return hookio.Decision{}, fmt.Errorf("coordinator: release lock: %w", err)
	}
	return hookio.Allow(), nil
}

// handleStop reaps pending agents that never activated (S6), completes
// any agent still active when the session stopped, and marks the
// session stopping. Completion is inferred here rather than waiting for
// a matching subagent_stop, since the host may never send one (the user
// just ends the session) and an agent left active forever blocks
// sweepSession from ever archiving this session.
func (c *Coordinator) handleStop(ev *hookio.Event) (hookio.Decision, error) {
	pending, err := c.store.ListAgents(ev.SessionID, state.PhasePending)
	if err != nil {
		return hookio.Decision{}, fmt.Errorf("coordinator: list pending agents: %w", err)
	}
	for _, p := range pending {
		if err := c.store.CompleteAgent(ev.SessionID, p.AgentID, "session_stopped_before_activation"); err != nil {
			return hookio.Decision{}, fmt.Errorf("coordinator: reap pending agent %s: %w", p.AgentID, err)
		}
	}

	active, err := c.store.ListAgents(ev.SessionID, state.PhaseActive)
	if err != nil {
		return hookio.Decision{}, fmt.Errorf("coordinator: list active agents: %w", err)
	}
	for _, a := range active {
		if err := c.store.CompleteAgent(ev.SessionID, a.AgentID, "session_stopped_while_active"); err != nil {
			return hookio.Decision{}, fmt.Errorf("coordinator: complete active agent %s: %w", a.AgentID, err)
		}
	}

	if err := c.store.SetSessionStatus(ev.SessionID, "stopping"); err != nil {
		return hookio.Decision{}, fmt.Errorf("coordinator: set session status: %w", err)
	}
	return hookio.Allow(), nil
}

func (c *Coordinator) handleSubagentStop(ev *hookio.Event) (hookio.Decision, error) {
	agentID, err := c.resolveAgent(ev)
	if err != nil {
		return hookio.Decision{}, err
	}
	if agentID == "" {
		return hookio.Allow(), nil
	}
	if err := c.store.CompleteAgent(ev.SessionID, agentID, "completed"); err != nil {
		return hookio.Decision{}, fmt.Errorf("coordinator: complete agent %s: %w", agentID, err)
	}
	return hookio.Allow(), nil
}

// resolveAgent implements "first activity of an agent": if an active
// agent already matches the event's cwd, use it. Otherwise look for a
// pending registration with a matching cwd and activate it. Returns ""
// if nothing correlates — the event belongs to the primary session, not
// a sub-agent.
func (c *Coordinator) resolveAgent(ev *hookio.Event) (string, error) {
	active, err := c.store.ListAgents(ev.SessionID, state.PhaseActive)
	if err != nil {
		return "", fmt.Errorf("coordinator: list active agents: %w", err)
	}
	for _, a := range active {
		if ev.Cwd != "" && a.Cwd == ev.Cwd {
			return a.AgentID, nil
		}
	}

	pendingID, found, err := c.store.FindPendingForSpawn(ev.SessionID, "", ev.Cwd)
	if err != nil {
		return "", fmt.Errorf("coordinator: find pending for spawn: %w", err)
	}
	if !found {
		return "", nil
	}
	if err := c.store.ActivateAgent(ev.SessionID, pendingID, 0); err != nil {
		return "", fmt.Errorf("coordinator: activate agent %s: %w", pendingID, err)
	}
	return pendingID, nil
}

// rewritePath implements the path rewrite rules. Absolute paths inside
// the project root but outside the workspace are rewritten onto the
// workspace for the VCS-worktree strategy only (true by construction: a
// worktree is a full checkout); plain-dir workspaces never rewrite, so
// an escaping path falls through to R3. Relative paths resolve against
// the workspace instead of cwd. Paths outside the project root are
// returned untouched.
func rewritePath(path, cwd string, res workspace.Result, projectRoot string) (string, bool) {
	if !filepath.IsAbs(path) {
		return filepath.Join(res.Path, path), true
	}

	if projectRoot != "" && !strings.HasPrefix(path, projectRoot) {
		return path, false
	}
	if strings.HasPrefix(path, res.Path) {
		return path, false
	}
	if res.Strategy != workspace.StrategyVCSWorktree {
		return path, false
	}

	rel, err := filepath.Rel(projectRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path, false
	}
	return filepath.Join(res.Path, rel), true
}

// needsLock reports whether a write target requires lock arbitration:
// anything that reached this point already passed the R3 workspace-escape
// check, so the only remaining case needing a lock is a target outside
// the calling agent's own workspace (a shared artifact, or a path that
// could not be rewritten).
func needsLock(canonicalPath, workspaceDir string) bool {
	return !strings.HasPrefix(canonicalPath, workspaceDir)
}

func (c *Coordinator) currentHolder(canonicalPath string) string {
	if holder, ok := c.locks.Holder(canonicalPath); ok {
		return holder
	}
	return "another agent"
}

func isMutatingTool(toolName string, mutating []string) bool {
	for _, t := range mutating {
		if t == toolName {
			return true
		}
	}
	return false
}

func stringInput(ev *hookio.Event, key string) (string, bool) {
	if ev.ToolInput == nil {
		return "", false
	}
	v, ok := ev.ToolInput[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
