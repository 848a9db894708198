package audit_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/crewctl/internal/audit"
)

func TestRecordAppendsJSONL(t *testing.T) {
	home := t.TempDir()
	if err := audit.Init(home); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })

	audit.Record("alice", "task_claimed", "task", 7, "Build feature")
	audit.Record("bob", "message_sent", "message", 2, "")

	data, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"task_claimed"`) || !strings.Contains(lines[0], `"entity_id":7`) {
		t.Fatalf("unexpected first record: %s", lines[0])
	}
}

func TestRecordWithoutInitDoesNotPanic(t *testing.T) {
	_ = audit.Close()
	audit.Record("alice", "task_created", "task", 1, "no file open")
}

func TestRecordRedactsDetail(t *testing.T) {
	home := t.TempDir()
	if err := audit.Init(home); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })

	audit.Record("alice", "dashboard_started", "agent", 0, "url: /?token=abcdef0123456789")

	data, _ := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if strings.Contains(string(data), "abcdef0123456789") {
		t.Fatalf("token leaked into audit mirror: %s", data)
	}
}
