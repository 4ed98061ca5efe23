// Package reaper implements MAOC's Reaper: the background sweep that
// reclaims stale locks, tears down workspaces belonging to completed
// agents once they've aged past their retention window, and archives
// sessions whose agents have all finished. It runs opportunistically
// from the hook dispatch path and standalone from the reap command,
// mirroring this codebase's own "gc sweep triggered from the command
// that happens to be running, plus a standalone gc command" pattern
// for reclaiming orphaned worktrees.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/boshu2/maoc/internal/lock"
	"github.com/boshu2/maoc/internal/obslog"
	"github.com/boshu2/maoc/internal/pathroot"
	"github.com/boshu2/maoc/internal/state"
	"github.com/boshu2/maoc/internal/worker"
	"github.com/boshu2/maoc/internal/workspace"
)

// Config bounds how aggressively the Reaper reclaims resources.
type Config struct {
	WorkspaceTTL    time.Duration
	SessionTTL      time.Duration
	ArchiveSessions bool
	Concurrency     int
}

// DefaultConfig returns the Reaper's default retention windows:
// workspaces live an hour past agent completion, a session becomes
// eligible a day after it was created once every agent has completed,
// and finished sessions are archived rather than deleted outright.
func DefaultConfig() Config {
	return Config{
		WorkspaceTTL:    time.Hour,
		SessionTTL:      24 * time.Hour,
		ArchiveSessions: true,
	}
}

// Summary totals one sweep's effect, for logging and for the reap
// command's output.
type Summary struct {
	LocksReclaimed    int
	WorkspacesRemoved int
	WorkspacesSkipped int
	SessionsArchived  int
	SessionsSkipped   int
	Errors            []error
}

func (s *Summary) addErr(err error) {
	if err != nil {
		s.Errors = append(s.Errors, err)
	}
}

// Reaper is MAOC's C10 component.
type Reaper struct {
	root  *pathroot.Root
	store *state.Store
	locks *lock.Manager
	log   *obslog.Logger
	cfg   Config
}

// New builds a Reaper. A non-positive WorkspaceTTL or SessionTTL is
// replaced with DefaultConfig's value; ArchiveSessions and Concurrency
// are used as given.
func New(root *pathroot.Root, store *state.Store, locks *lock.Manager, log *obslog.Logger, cfg Config) *Reaper {
	if cfg.WorkspaceTTL <= 0 {
		cfg.WorkspaceTTL = DefaultConfig().WorkspaceTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	return &Reaper{root: root, store: store, locks: locks, log: log, cfg: cfg}
}

// Sweep runs the three reclaim passes in order: stale locks, completed
// workspaces past their TTL, and sessions whose agents have all
// finished. A failure in one session's cleanup is recorded in the
// Summary's Errors and does not abort the remaining sessions.
func (r *Reaper) Sweep(ctx context.Context) (Summary, error) {
	var sum Summary

	reclaimed, err := r.locks.CleanupStale()
	if err != nil {
		return sum, fmt.Errorf("reaper: lock sweep: %w", err)
	}
	sum.LocksReclaimed = reclaimed

	sids, err := r.store.ListSessionIDs()
	if err != nil {
		return sum, fmt.Errorf("reaper: list sessions: %w", err)
	}

	for _, sid := range sids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		r.sweepWorkspaces(sid, &sum)
	}

	for _, sid := range sids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		r.sweepSession(sid, &sum)
	}

	r.logSummary(sum)
	return sum, nil
}

// sweepWorkspaces removes completed agents' materialized workspaces
// once they've aged past WorkspaceTTL, skipping any still referenced
// by a live lock or by a pending child agent's lineage.
func (r *Reaper) sweepWorkspaces(sid string, sum *Summary) {
	views, err := r.store.ListAgents(sid, state.PhaseCompleted)
	if err != nil {
		sum.addErr(fmt.Errorf("reaper: list completed agents for %s: %w", sid, err))
		return
	}

	pending, err := r.store.ListAgents(sid, state.PhasePending)
	if err != nil {
		sum.addErr(fmt.Errorf("reaper: list pending agents for %s: %w", sid, err))
		return
	}
	hasPendingChild := make(map[string]bool, len(pending))
	for _, p := range pending {
		if p.Lineage != "" {
			hasPendingChild[p.Lineage] = true
		}
	}

	var targets []state.AgentView
	for _, v := range views {
		if v.WorkspacePath == "" {
			continue
		}
		if v.FinishedNS == 0 || time.Since(time.Unix(0, v.FinishedNS)) < r.cfg.WorkspaceTTL {
			sum.WorkspacesSkipped++
			continue
		}
		if r.locks.AnyHeldUnder(lock.Canonicalize(v.WorkspacePath)) {
			sum.WorkspacesSkipped++
			continue
		}
		if hasPendingChild[v.AgentID] {
			sum.WorkspacesSkipped++
			continue
		}
		targets = append(targets, v)
	}
	if len(targets) == 0 {
		return
	}

	items := make([]string, len(targets))
	for i, v := range targets {
		items[i] = v.AgentID
	}
	byID := make(map[string]state.AgentView, len(targets))
	for _, v := range targets {
		byID[v.AgentID] = v
	}

	pool := worker.NewPool[struct{}](r.cfg.Concurrency)
	results := pool.Process(items, func(agentID string) (struct{}, error) {
		v := byID[agentID]
		res, ok := resultFromMeta(r.root, v)
		if !ok {
			return struct{}{}, nil
		}
		return struct{}{}, workspace.Remove(r.root, res)
	})

	for _, res := range results {
		if res.Err != nil {
			sum.addErr(fmt.Errorf("reaper: remove workspace for %s: %w", items[res.Index], res.Err))
			sum.WorkspacesSkipped++
			continue
		}
		sum.WorkspacesRemoved++
	}
}

// resultFromMeta reconstructs the workspace.Result removal needs from
// an agent's persisted metadata, since the Store only records the path
// and Remove needs to know which strategy produced it.
func resultFromMeta(root *pathroot.Root, v state.AgentView) (workspace.Result, bool) {
	if v.WorkspacePath == "" {
		return workspace.Result{}, false
	}
	strategy := workspace.StrategyPlainDir
	branch := ""
	if isUnderDir(v.WorkspacePath, root.Worktrees()) {
		strategy = workspace.StrategyVCSWorktree
		branch = "agent/" + v.AgentID
	}
	return workspace.Result{Path: v.WorkspacePath, Strategy: strategy, Branch: branch}, true
}

func isUnderDir(path, ancestor string) bool {
	if ancestor == "" {
		return false
	}
	return len(path) >= len(ancestor) && path[:len(ancestor)] == ancestor
}

// sweepSession archives a session once every agent it ever registered
// has completed and the session itself has aged past SessionTTL. With
// ArchiveSessions false the session is left in place and counted as
// skipped; sessions are never deleted.
func (r *Reaper) sweepSession(sid string, sum *Summary) {
	meta, err := r.store.GetSession(sid)
	if err != nil {
		sum.addErr(fmt.Errorf("reaper: read session %s: %w", sid, err))
		return
	}
	if time.Since(time.Unix(0, meta.CreatedNS)) < r.cfg.SessionTTL {
		sum.SessionsSkipped++
		return
	}

	views, err := r.store.ListAgents(sid, "")
	if err != nil {
		sum.addErr(fmt.Errorf("reaper: list agents for %s: %w", sid, err))
		return
	}
	for _, v := range views {
		if v.Phase != state.PhaseCompleted {
			sum.SessionsSkipped++
			return
		}
	}

	if !r.cfg.ArchiveSessions {
		sum.SessionsSkipped++
		return
	}
	if err := r.store.Archive(sid); err != nil {
		sum.addErr(fmt.Errorf("reaper: archive session %s: %w", sid, err))
		return
	}
	sum.SessionsArchived++
}

func (r *Reaper) logSummary(sum Summary) {
	if r.log == nil {
		return
	}
	r.log.Log(obslog.StreamLifecycle, map[string]interface{}{
		"kind":               "reaper_sweep",
		"locks_reclaimed":    sum.LocksReclaimed,
		"workspaces_removed": sum.WorkspacesRemoved,
		"workspaces_skipped": sum.WorkspacesSkipped,
		"sessions_archived":  sum.SessionsArchived,
		"sessions_skipped":   sum.SessionsSkipped,
		"errors":             len(sum.Errors),
	})
}
