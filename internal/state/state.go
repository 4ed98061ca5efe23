// Package state implements MAOC's session and agent registry: a
// directory tree where an agent's phase (pending, active, completed) is
// encoded by which sibling directory its metadata lives in, and every
// transition is a single rename. This generalizes the same
// exclusive-create-then-rename discipline used elsewhere in this
// codebase for promoting entries between lifecycle directories, applied
// here to session and agent phases instead of candidate review states.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Phase names the directory an agent's metadata currently lives in.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseActive    Phase = "active"
	PhaseCompleted Phase = "completed"
)

// phaseOrder fixes the only forward transitions permitted by rename.
var phaseOrder = []Phase{PhasePending, PhaseActive, PhaseCompleted}

const (
	agentsSubdir       = "agents"
	sessionMetaFile    = "meta.json"
	archiveDir         = ".archive"
	legacyPendingFile  = "pending_agents.json"
	maxCounterRetries  = 16
)

// SessionMeta is the persisted content of a session's meta.json.
type SessionMeta struct {
	SessionID       string `json:"session_id"`
	CreatedNS       int64  `json:"created_ns"`
	Status          string `json:"status"`
	Cwd             string `json:"cwd"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
}

// AgentMeta is the persisted content of an agent's meta.json.
type AgentMeta struct {
	AgentID       string `json:"agent_id"`
	Role          string `json:"role"`
	CreatedNS     int64  `json:"created_ns"`
	StartedNS     int64  `json:"started_ns,omitempty"`
	FinishedNS    int64  `json:"finished_ns,omitempty"`
	WorkspacePath string `json:"workspace_path,omitempty"`
	Lineage       string `json:"lineage,omitempty"`
	StatusDetail  string `json:"status_detail,omitempty"`
	Cwd           string `json:"cwd,omitempty"`
}

// AgentView pairs an AgentMeta with the phase it was observed in.
type AgentView struct {
	AgentMeta
	Phase Phase
}

// Store is the StateStore. One Store per process, rooted at a sessions
// directory supplied by pathroot.
type Store struct {
	dir string
}

// New returns a Store rooted at sessionsDir.
func New(sessionsDir string) *Store {
	return &Store{dir: sessionsDir}
}

func (s *Store) sessionDir(sid string) string {
	return filepath.Join(s.dir, sid)
}

func (s *Store) agentsRoot(sid string) string {
	return filepath.Join(s.sessionDir(sid), agentsSubdir)
}

func (s *Store) phaseDir(sid string, phase Phase) string {
	return filepath.Join(s.agentsRoot(sid), string(phase))
}

// OpenSession creates the session directory and meta.json if absent,
// migrating a legacy pending_agents.json manifest into the directory
// layout if one is found. Idempotent: calling it again for an existing
// session is a no-op that returns the existing meta.
func (s *Store) OpenSession(sid, cwd, parentSessionID string) (*SessionMeta, error) {
	metaPath := filepath.Join(s.sessionDir(sid), sessionMetaFile)

	var existing SessionMeta
	if err := readJSON(metaPath, &existing); err == nil {
		if err := s.migrateLegacyPending(sid); err != nil {
			return nil, err
		}
		return &existing, nil
	}

	meta := SessionMeta{
		SessionID:       sid,
		CreatedNS:       time.Now().UnixNano(),
		Status:          "active",
		Cwd:             cwd,
		ParentSessionID: parentSessionID,
	}

	for _, phase := range phaseOrder {
		if err := os.MkdirAll(s.phaseDir(sid, phase), 0o700); err != nil {
			return nil, fmt.Errorf("state: create %s dir: %w", phase, err)
		}
	}

	if err := atomicWriteJSON(metaPath, meta); err != nil {
		return nil, err
	}

	if err := s.migrateLegacyPending(sid); err != nil {
		return nil, err
	}

	return &meta, nil
}

// migrateLegacyPending converts a flat pending_agents.json manifest, if
// present, into one pending/<agent_id>/meta.json directory per entry,
// then renames the manifest to mark it migrated. Idempotent: once
// renamed, a repeat call finds nothing to do.
func (s *Store) migrateLegacyPending(sid string) error {
	legacyPath := filepath.Join(s.sessionDir(sid), legacyPendingFile)
	var entries []AgentMeta
	if err := readJSON(legacyPath, &entries); err != nil {
		return nil // no legacy file, or already migrated
	}

	for _, e := range entries {
		if e.AgentID == "" {
			continue
		}
		dest := filepath.Join(s.phaseDir(sid, PhasePending), e.AgentID, sessionMetaFile)
		if _, err := os.Stat(filepath.Dir(dest)); err == nil {
			continue // already migrated
		}
		if e.CreatedNS == 0 {
			e.CreatedNS = time.Now().UnixNano()
		}
		if err := atomicWriteJSON(dest, e); err != nil {
			return fmt.Errorf("state: migrate legacy agent %s: %w", e.AgentID, err)
		}
	}

	return os.Rename(legacyPath, legacyPath+".migrated")
}

// RegisterPendingAgent allocates the next free counter for role within
// session sid and creates pending/<role>-<short_sid>-<n>/meta.json by
// exclusive mkdir, retrying on collision up to maxCounterRetries times.
// This is the only place concurrent creators race; mkdir's atomicity
// resolves it without any other coordination.
func (s *Store) RegisterPendingAgent(sid, role, parentAgentID string) (string, error) {
	return s.RegisterPendingAgentAt(sid, role, parentAgentID, "")
}

// RegisterPendingAgentAt is RegisterPendingAgent, additionally recording
// the cwd the spawn event carried, so a later event with no explicit
// agent identifier can be correlated back to this registration via
// FindPendingForSpawn.
func (s *Store) RegisterPendingAgentAt(sid, role, parentAgentID, cwd string) (string, error) {
	if err := validateRole(role); err != nil {
		return "", err
	}

	shortSID := sid
	if len(shortSID) > 7 {
		shortSID = shortSID[:7]
	}

	n, err := s.nextCounter(sid, role, shortSID)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxCounterRetries; attempt++ {
		agentID := fmt.Sprintf("%s-%s-%d", role, shortSID, n+attempt)
		dir := filepath.Join(s.phaseDir(sid, PhasePending), agentID)
		if err := os.Mkdir(dir, 0o700); err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", fmt.Errorf("state: mkdir pending agent: %w", err)
		}

		meta := AgentMeta{
			AgentID:   agentID,
			Role:      role,
			CreatedNS: time.Now().UnixNano(),
			Lineage:   parentAgentID,
			Cwd:       cwd,
		}
		if err := atomicWriteJSON(filepath.Join(dir, sessionMetaFile), meta); err != nil {
			return "", err
		}
		return agentID, nil
	}

	return "", ErrCounterExhausted
}

// nextCounter scans pending/ and active/ for existing "<role>-<sid>-N"
// entries and returns max(N)+1, starting from 1 if none exist.
func (s *Store) nextCounter(sid, role, shortSID string) (int, error) {
	prefix := fmt.Sprintf("%s-%s-", role, shortSID)
	max := 0
	for _, phase := range []Phase{PhasePending, PhaseActive} {
		entries, err := os.ReadDir(s.phaseDir(sid, phase))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, fmt.Errorf("state: list %s: %w", phase, err)
		}
		for _, e := range entries {
			name := e.Name()
			if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
				continue
			}
			var n int
			if _, err := fmt.Sscanf(name[len(prefix):], "%d", &n); err == nil && n > max {
				max = n
			}
		}
	}
	return max + 1, nil
}

// ActivateAgent renames pending/<id> to active/<id>. A no-op success if
// the agent is already active (idempotent retry from a crashed caller);
// an error if the agent is already completed (backward transition).
func (s *Store) ActivateAgent(sid, agentID string, startedNS int64) error {
	activeDir := filepath.Join(s.phaseDir(sid, PhaseActive), agentID)
	if _, err := os.Stat(activeDir); err == nil {
		return nil
	}
	if _, err := os.Stat(filepath.Join(s.phaseDir(sid, PhaseCompleted), agentID)); err == nil {
		return fmt.Errorf("%w: agent %s already completed", ErrBackwardTransition, agentID)
	}

	pendingDir := filepath.Join(s.phaseDir(sid, PhasePending), agentID)
	if err := os.Rename(pendingDir, activeDir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return fmt.Errorf("state: activate %s: %w", agentID, err)
	}

	return s.patchMeta(sid, PhaseActive, agentID, func(m *AgentMeta) {
		if startedNS != 0 {
			m.StartedNS = startedNS
		} else {
			m.StartedNS = time.Now().UnixNano()
		}
	})
}

// CompleteAgent renames the agent's current phase directory (pending or
// active) to completed/<id>. A no-op success if already completed.
func (s *Store) CompleteAgent(sid, agentID, statusDetail string) error {
	completedDir := filepath.Join(s.phaseDir(sid, PhaseCompleted), agentID)
	if _, err := os.Stat(completedDir); err == nil {
		return nil
	}

	var srcDir string
	for _, phase := range []Phase{PhaseActive, PhasePending} {
		candidate := filepath.Join(s.phaseDir(sid, phase), agentID)
		if _, err := os.Stat(candidate); err == nil {
			srcDir = candidate
			break
		}
	}
	if srcDir == "" {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	if err := os.Rename(srcDir, completedDir); err != nil {
		return fmt.Errorf("state: complete %s: %w", agentID, err)
	}

	return s.patchMeta(sid, PhaseCompleted, agentID, func(m *AgentMeta) {
		m.FinishedNS = time.Now().UnixNano()
		if statusDetail != "" {
			m.StatusDetail = statusDetail
		}
	})
}

// SetWorkspacePath records the materialized workspace path into an
// agent's meta.json, wherever its current phase directory is.
func (s *Store) SetWorkspacePath(sid, agentID, workspacePath string) error {
	phase, _, err := s.locate(sid, agentID)
	if err != nil {
		return err
	}
	return s.patchMeta(sid, phase, agentID, func(m *AgentMeta) {
		m.WorkspacePath = workspacePath
	})
}

// patchMeta reads, mutates, and atomically rewrites an agent's
// meta.json. Callers must already hold whatever lock makes this safe;
// StateStore itself does not serialize concurrent patches to the same
// agent beyond the atomic rename.
func (s *Store) patchMeta(sid string, phase Phase, agentID string, mutate func(*AgentMeta)) error {
	path := filepath.Join(s.phaseDir(sid, phase), agentID, sessionMetaFile)
	var meta AgentMeta
	if err := readJSON(path, &meta); err != nil {
		meta = AgentMeta{AgentID: agentID}
	}
	mutate(&meta)
	return atomicWriteJSON(path, meta)
}

// locate finds which phase directory currently holds agentID.
func (s *Store) locate(sid, agentID string) (Phase, AgentMeta, error) {
	for _, phase := range []Phase{PhasePending, PhaseActive, PhaseCompleted} {
		path := filepath.Join(s.phaseDir(sid, phase), agentID, sessionMetaFile)
		var meta AgentMeta
		if err := readJSON(path, &meta); err == nil {
			return phase, meta, nil
		}
	}
	return "", AgentMeta{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
}

// GetAgent returns the current phase and metadata for agentID.
func (s *Store) GetAgent(sid, agentID string) (Phase, AgentMeta, error) {
	return s.locate(sid, agentID)
}

// ListAgents lists agents in the given phase, or every phase if phase
// is "". The listing is a directory read and may miss an in-flight
// rename; callers needing a consistent count must re-list.
func (s *Store) ListAgents(sid string, phase Phase) ([]AgentView, error) {
	phases := []Phase{phase}
	if phase == "" {
		phases = []Phase{PhasePending, PhaseActive, PhaseCompleted}
	}

	var views []AgentView
	for _, p := range phases {
		entries, err := os.ReadDir(s.phaseDir(sid, p))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("state: list %s: %w", p, err)
		}
		for _, e := range entries {
			var meta AgentMeta
			path := filepath.Join(s.phaseDir(sid, p), e.Name(), sessionMetaFile)
			if err := readJSON(path, &meta); err != nil {
				continue // transient: rename may be in flight
			}
			views = append(views, AgentView{AgentMeta: meta, Phase: p})
		}
	}
	return views, nil
}

// FindPendingForSpawn locates a pending agent of the given role whose
// recorded cwd matches, used by the Coordinator to resolve which
// pending registration a tool call's first activity belongs to. role ==
// "" matches any role, used when the inbound event carries no role hint
// and cwd is the only available correlator. An agent with no recorded
// cwd matches any cwd. If multiple match, the oldest registration
// (earliest CreatedNS) wins.
func (s *Store) FindPendingForSpawn(sid, role, cwd string) (string, bool, error) {
	views, err := s.ListAgents(sid, PhasePending)
	if err != nil {
		return "", false, err
	}
	best := ""
	var bestNS int64
	for _, v := range views {
		if role != "" && v.Role != role {
			continue
		}
		if cwd != "" && v.Cwd != "" && v.Cwd != cwd {
			continue
		}
		if best == "" || v.CreatedNS < bestNS || (v.CreatedNS == bestNS && v.AgentID < best) {
			best, bestNS = v.AgentID, v.CreatedNS
		}
	}
	return best, best != "", nil
}

// Archive renames a session directory under .archive/, used by the
// Reaper once every agent has completed and the session has aged past
// its TTL.
func (s *Store) Archive(sid string) error {
	archiveRoot := filepath.Join(s.dir, archiveDir)
	if err := os.MkdirAll(archiveRoot, 0o700); err != nil {
		return fmt.Errorf("state: create archive dir: %w", err)
	}
	return os.Rename(s.sessionDir(sid), filepath.Join(archiveRoot, sid))
}

// SetSessionStatus patches a session's status field.
func (s *Store) SetSessionStatus(sid, status string) error {
	path := filepath.Join(s.sessionDir(sid), sessionMetaFile)
	var meta SessionMeta
	if err := readJSON(path, &meta); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	meta.Status = status
	return atomicWriteJSON(path, meta)
}

// GetSession reads a session's meta.json.
func (s *Store) GetSession(sid string) (*SessionMeta, error) {
	var meta SessionMeta
	path := filepath.Join(s.sessionDir(sid), sessionMetaFile)
	if err := readJSON(path, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	return &meta, nil
}

// ListSessionIDs lists every known session directory (excluding .archive).
func (s *Store) ListSessionIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("state: list sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != archiveDir {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
