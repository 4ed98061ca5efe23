package obslog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLogWritesJSONLLine(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Log(StreamSecurity, map[string]interface{}{"kind": "deny", "rule": "R1_dangerous_command"})

	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "security.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines int
	for scanner.Scan() {
		lines++
		var rec map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line not valid json: %v", err)
		}
		if rec["kind"] != "deny" {
			t.Fatalf("rec = %+v", rec)
		}
	}
	if lines != 1 {
		t.Fatalf("lines = %d, want 1", lines)
	}
}

func TestLogIgnoresUnknownStream(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close(context.Background())

	l.Log(Stream("not_a_stream"), map[string]interface{}{"x": 1})
}

func TestCloseDrainsBeforeDeadline(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 50; i++ {
		l.Log(StreamAudit, map[string]interface{}{"i": i})
	}

	start := time.Now()
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if time.Since(start) > DefaultTeardownDeadline+50*time.Millisecond {
		t.Fatalf("Close took too long")
	}
}
