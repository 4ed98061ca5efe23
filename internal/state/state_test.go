package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func TestOpenSessionIsIdempotent(t *testing.T) {
	s := newStore(t)
	m1, err := s.OpenSession("S1", "/repo", "")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	m2, err := s.OpenSession("S1", "/repo", "")
	if err != nil {
		t.Fatalf("OpenSession again: %v", err)
	}
	if m1.CreatedNS != m2.CreatedNS {
		t.Fatalf("second OpenSession mutated meta: %+v vs %+v", m1, m2)
	}
}

func TestRegisterPendingAgentAllocatesIncrementingCounters(t *testing.T) {
	s := newStore(t)
	if _, err := s.OpenSession("S1", "/repo", ""); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	id1, err := s.RegisterPendingAgent("S1", "backend", "")
	if err != nil {
		t.Fatalf("RegisterPendingAgent: %v", err)
	}
	id2, err := s.RegisterPendingAgent("S1", "backend", "")
	if err != nil {
		t.Fatalf("RegisterPendingAgent: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct ids, got %q twice", id1)
	}

	wantPrefix := "backend-S1-"
	if len(id1) <= len(wantPrefix) || id1[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("id1 = %q, want prefix %q", id1, wantPrefix)
	}
}

func TestExactlyOnePhaseHoldsAgent(t *testing.T) {
	s := newStore(t)
	s.OpenSession("S1", "/repo", "")
	agentID, err := s.RegisterPendingAgent("S1", "backend", "")
	if err != nil {
		t.Fatalf("RegisterPendingAgent: %v", err)
	}

	assertExactlyOnePhase(t, s, agentID)

	if err := s.ActivateAgent("S1", agentID, 0); err != nil {
		t.Fatalf("ActivateAgent: %v", err)
	}
	assertExactlyOnePhase(t, s, agentID)

	if err := s.CompleteAgent("S1", agentID, "done"); err != nil {
		t.Fatalf("CompleteAgent: %v", err)
	}
	assertExactlyOnePhase(t, s, agentID)
}

func assertExactlyOnePhase(t *testing.T, s *Store, agentID string) {
	t.Helper()
	found := 0
	for _, phase := range []Phase{PhasePending, PhaseActive, PhaseCompleted} {
		if _, err := os.Stat(filepath.Join(s.phaseDir("S1", phase), agentID)); err == nil {
			found++
		}
	}
	if found != 1 {
		t.Fatalf("agent %s found in %d phase dirs, want exactly 1", agentID, found)
	}
}

func TestActivateAgentRejectsAfterCompletion(t *testing.T) {
	s := newStore(t)
	s.OpenSession("S1", "/repo", "")
	agentID, _ := s.RegisterPendingAgent("S1", "backend", "")
	if err := s.ActivateAgent("S1", agentID, 0); err != nil {
		t.Fatalf("ActivateAgent: %v", err)
	}
	if err := s.CompleteAgent("S1", agentID, ""); err != nil {
		t.Fatalf("CompleteAgent: %v", err)
	}

	// L1: complete(complete(a)) is a no-op.
	if err := s.CompleteAgent("S1", agentID, ""); err != nil {
		t.Fatalf("second CompleteAgent should be a no-op, got: %v", err)
	}

	// L1: activate(complete(a)) is rejected.
	if err := s.ActivateAgent("S1", agentID, 0); !errors.Is(err, ErrBackwardTransition) {
		t.Fatalf("ActivateAgent after completion = %v, want ErrBackwardTransition", err)
	}
}

func TestCompleteAgentDirectlyFromPending(t *testing.T) {
	s := newStore(t)
	s.OpenSession("S1", "/repo", "")
	agentID, _ := s.RegisterPendingAgent("S1", "backend", "")

	// pending -> completed (skip active) is allowed for session cleanup.
	if err := s.CompleteAgent("S1", agentID, "session_stopped_before_activation"); err != nil {
		t.Fatalf("CompleteAgent: %v", err)
	}
	_, meta, err := s.GetAgent("S1", agentID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if meta.StatusDetail != "session_stopped_before_activation" {
		t.Fatalf("StatusDetail = %q", meta.StatusDetail)
	}
}

func TestFindPendingForSpawnMatchesRole(t *testing.T) {
	s := newStore(t)
	s.OpenSession("S1", "/repo", "")
	agentID, _ := s.RegisterPendingAgent("S1", "backend", "")

	found, ok, err := s.FindPendingForSpawn("S1", "backend", "")
	if err != nil {
		t.Fatalf("FindPendingForSpawn: %v", err)
	}
	if !ok || found != agentID {
		t.Fatalf("found = %q, ok = %v, want %q, true", found, ok, agentID)
	}

	_, ok, err = s.FindPendingForSpawn("S1", "frontend", "")
	if err != nil {
		t.Fatalf("FindPendingForSpawn: %v", err)
	}
	if ok {
		t.Fatal("expected no match for frontend role")
	}
}

func TestFindPendingForSpawnMatchesByCwdWhenRoleUnknown(t *testing.T) {
	s := newStore(t)
	s.OpenSession("S1", "/repo", "")
	agentID, err := s.RegisterPendingAgentAt("S1", "backend", "", "/repo/sub")
	if err != nil {
		t.Fatalf("RegisterPendingAgentAt: %v", err)
	}

	found, ok, err := s.FindPendingForSpawn("S1", "", "/repo/sub")
	if err != nil {
		t.Fatalf("FindPendingForSpawn: %v", err)
	}
	if !ok || found != agentID {
		t.Fatalf("found = %q, ok = %v, want %q, true", found, ok, agentID)
	}

	if _, ok, _ := s.FindPendingForSpawn("S1", "", "/other"); ok {
		t.Fatal("expected no match for unrelated cwd")
	}
}

func TestLegacyPendingAgentsMigration(t *testing.T) {
	s := newStore(t)
	s.OpenSession("S1", "/repo", "")

	legacy := filepath.Join(s.sessionDir("S1"), legacyPendingFile)
	if err := os.WriteFile(legacy, []byte(`[{"agent_id":"backend-S1-1","role":"backend"}]`), 0o600); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	if err := s.migrateLegacyPending("S1"); err != nil {
		t.Fatalf("migrateLegacyPending: %v", err)
	}

	if _, err := os.Stat(filepath.Join(s.phaseDir("S1", PhasePending), "backend-S1-1", sessionMetaFile)); err != nil {
		t.Fatalf("migrated agent meta missing: %v", err)
	}
	if _, err := os.Stat(legacy + ".migrated"); err != nil {
		t.Fatalf("legacy file not renamed: %v", err)
	}

	// Idempotent on repeat.
	if err := s.migrateLegacyPending("S1"); err != nil {
		t.Fatalf("second migrateLegacyPending: %v", err)
	}
}

func TestArchiveMovesSessionUnderArchiveDir(t *testing.T) {
	s := newStore(t)
	s.OpenSession("S1", "/repo", "")
	if err := s.Archive("S1"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, err := os.Stat(s.sessionDir("S1")); !os.IsNotExist(err) {
		t.Fatalf("session dir still exists after archive")
	}
	if _, err := os.Stat(filepath.Join(s.dir, archiveDir, "S1")); err != nil {
		t.Fatalf("archived session missing: %v", err)
	}
}
