package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boshu2/maoc/internal/coordinator"
	"github.com/boshu2/maoc/internal/lock"
	"github.com/boshu2/maoc/internal/obslog"
	"github.com/boshu2/maoc/internal/pathroot"
	"github.com/boshu2/maoc/internal/reaper"
	"github.com/boshu2/maoc/internal/state"
	"github.com/boshu2/maoc/internal/workspace"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func newDispatcher(t *testing.T) (*Dispatcher, *pathroot.Root) {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "seed")

	root, err := pathroot.New(dir)
	if err != nil {
		t.Fatalf("pathroot.New: %v", err)
	}
	if err := root.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}

	store := state.New(root.Sessions())
	locks := lock.New(root.Locks(), time.Minute)
	ws := workspace.New(root, locks, store, workspace.ModePlainOnly)
	logger, err := obslog.New(root.Logs(), 0)
	if err != nil {
		t.Fatalf("obslog.New: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close(context.Background()) })

	coord := coordinator.New(root, store, locks, ws, logger, coordinator.DefaultConfig(root.Root()))
	rp := reaper.New(root, store, locks, logger, reaper.Config{WorkspaceTTL: time.Hour, SessionTTL: time.Hour})

	d, err := New(root, coord, logger, rp, Config{ReaperSampleEvery: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, root
}

func decodeDecision(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode decision: %v\n%s", err, buf.String())
	}
	return out
}

func TestDispatchAllowsUncorrelatedEvent(t *testing.T) {
	d, _ := newDispatcher(t)

	input := strings.NewReader(`{"hook_event_name":"notification","session_id":"S1","cwd":"/repo"}`)
	var out bytes.Buffer

	code := d.Dispatch(context.Background(), input, &out)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	dec := decodeDecision(t, &out)
	if dec["decision"] != "allow" {
		t.Fatalf("decision = %v, want allow", dec["decision"])
	}
}

func TestDispatchDeniesDangerousCommand(t *testing.T) {
	d, _ := newDispatcher(t)

	input := strings.NewReader(`{"hook_event_name":"pre_tool_use","session_id":"S1","cwd":"/repo","tool_name":"Bash","tool_input":{"command":"rm -rf /"}}`)
	var out bytes.Buffer

	code := d.Dispatch(context.Background(), input, &out)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	dec := decodeDecision(t, &out)
	if dec["decision"] != "deny" {
		t.Fatalf("decision = %v, want deny", dec["decision"])
	}
}

func TestDispatchReadFailureFailsOpen(t *testing.T) {
	d, _ := newDispatcher(t)

	input := strings.NewReader(``)
	var out bytes.Buffer

	code := d.Dispatch(context.Background(), input, &out)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (fail-open on empty payload)", code)
	}
	dec := decodeDecision(t, &out)
	if dec["decision"] != "allow" {
		t.Fatalf("decision = %v, want allow", dec["decision"])
	}
}

func TestDispatchRoutesSpawnThroughCoordinator(t *testing.T) {
	d, root := newDispatcher(t)

	body := `{"hook_event_name":"pre_tool_use","session_id":"S1","cwd":"` + root.Root() + `","tool_name":"Task","tool_input":{"subagent_type":"backend"}}`
	var out bytes.Buffer

	code := d.Dispatch(context.Background(), strings.NewReader(body), &out)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	store := state.New(root.Sessions())
	views, err := store.ListAgents("S1", state.PhasePending)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("pending agents = %d, want 1", len(views))
	}
}

func TestDispatchWritesPrometheusTextfile(t *testing.T) {
	d, root := newDispatcher(t)

	input := strings.NewReader(`{"hook_event_name":"notification","session_id":"S1","cwd":"/repo"}`)
	var out bytes.Buffer
	d.Dispatch(context.Background(), input, &out)

	path := filepath.Join(root.Logs(), "maoc_hook_dispatch.prom")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile dump: %v", err)
	}
	if !strings.Contains(string(data), "maoc_hook_dispatch_seconds") {
		t.Fatalf("textfile dump missing metric name:\n%s", data)
	}
}

func TestDispatchNewRejectsNilCoordinator(t *testing.T) {
	dir := t.TempDir()
	root, err := pathroot.New(dir)
	if err != nil {
		t.Fatalf("pathroot.New: %v", err)
	}
	if _, err := New(root, nil, nil, nil, Config{}); err != ErrNilCoordinator {
		t.Fatalf("err = %v, want ErrNilCoordinator", err)
	}
}
