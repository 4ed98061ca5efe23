package main

import (
	"context"
	"fmt"
	"time"

	"github.com/boshu2/maoc/internal/config"
	"github.com/boshu2/maoc/internal/coordinator"
	"github.com/boshu2/maoc/internal/dispatcher"
	"github.com/boshu2/maoc/internal/hookio"
	"github.com/boshu2/maoc/internal/lock"
	"github.com/boshu2/maoc/internal/obslog"
	"github.com/boshu2/maoc/internal/pathroot"
	"github.com/boshu2/maoc/internal/reaper"
	"github.com/boshu2/maoc/internal/security"
	"github.com/boshu2/maoc/internal/state"
	"github.com/boshu2/maoc/internal/workspace"
)

// system holds every component a CLI command might need, wired from one
// resolved Config. Each subcommand constructs only the pieces it uses.
type system struct {
	cfg   *config.Config
	root  *pathroot.Root
	store *state.Store
	locks *lock.Manager
	ws    *workspace.Provisioner
	log   *obslog.Logger
}

// buildSystem resolves configuration, anchors the project root, and
// constructs the stateful components every other component depends on.
// Callers must close the returned system when done.
func buildSystem() (*system, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	root, err := pathroot.New("")
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if err := root.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("ensure layout: %w", err)
	}

	store := state.New(root.Sessions())
	locks := lock.New(root.Locks(), time.Duration(cfg.LockTTLSec)*time.Second)
	ws := workspace.New(root, locks, store, workspace.Mode(cfg.WorkspaceStrategy))

	log, err := obslog.New(root.Logs(), cfg.LogQueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("open logger: %w", err)
	}

	return &system{cfg: cfg, root: root, store: store, locks: locks, ws: ws, log: log}, nil
}

func (s *system) close() {
	if s.log != nil {
		_ = s.log.Close(context.Background())
	}
}

// securityConfig builds a security.Config from the resolved MAOC config.
func (s *system) securityConfig() security.Config {
	def := security.DefaultConfig()
	return security.Config{
		ProtectedBranches:   nonEmptyOr(s.cfg.ProtectedBranches, def.ProtectedBranches),
		SharedArtifactGlobs: s.cfg.SharedArtifactGlobs,
		EnvAllowSuffixes:    def.EnvAllowSuffixes,
		MaxBytes:            s.cfg.HookMaxBytes,
	}
}

// coordinatorConfig builds a coordinator.Config from the resolved MAOC config.
func (s *system) coordinatorConfig() coordinator.Config {
	cc := coordinator.DefaultConfig(s.root.Root())
	cc.LockAcquireTimeout = time.Duration(s.cfg.LockAcquireTimeoutMS) * time.Millisecond
	cc.SecurityConfig = s.securityConfig()
	return cc
}

// reaperConfig builds a reaper.Config from the resolved MAOC config.
func (s *system) reaperConfig() reaper.Config {
	rc := reaper.DefaultConfig()
	rc.WorkspaceTTL = time.Duration(s.cfg.WorkspaceTTLHours) * time.Hour
	rc.SessionTTL = time.Duration(s.cfg.SessionTTLHours) * time.Hour
	return rc
}

// newCoordinator builds the Coordinator this system's components feed.
func (s *system) newCoordinator() *coordinator.Coordinator {
	return coordinator.New(s.root, s.store, s.locks, s.ws, s.log, s.coordinatorConfig())
}

// newReaper builds the Reaper this system's components feed.
func (s *system) newReaper() *reaper.Reaper {
	return reaper.New(s.root, s.store, s.locks, s.log, s.reaperConfig())
}

// newReaperWith builds a Reaper against an explicit Config, for callers
// that need to override the resolved defaults (e.g. workspace gc's
// --stale-after flag).
func (s *system) newReaperWith(cfg reaper.Config) *reaper.Reaper {
	return reaper.New(s.root, s.store, s.locks, s.log, cfg)
}

// newDispatcher builds the HookDispatcher wired against a fresh
// Coordinator and Reaper pair.
func (s *system) newDispatcher() (*dispatcher.Dispatcher, error) {
	readLimits := hookio.Limits{
		MaxBytes: s.cfg.HookMaxBytes,
		MaxDepth: s.cfg.HookMaxDepth,
		Timeout:  time.Duration(s.cfg.HookTimeoutMS) * time.Millisecond,
	}
	return dispatcher.New(s.root, s.newCoordinator(), s.log, s.newReaper(), dispatcher.Config{
		ReadLimits:        readLimits,
		SecurityConfig:    s.securityConfig(),
		ReaperSampleEvery: s.cfg.ReaperSampleEvery,
	})
}

func nonEmptyOr(v, fallback []string) []string {
	if len(v) > 0 {
		return v
	}
	return fallback
}
