// Package audit mirrors the activity ledger to an append-only JSONL file.
// The authoritative ledger lives in the store; this mirror is best effort
// and survives database resets.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/crewctl/internal/shared"
)

type entry struct {
	Timestamp  string `json:"timestamp"`
	Agent      string `json:"agent"`
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
	Detail     string `json:"detail,omitempty"`
}

var (
	mu          sync.Mutex
	file        *os.File
	recordCount atomic.Int64
)

// Init opens <homeDir>/logs/audit.jsonl for appending. Safe to call twice.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// RecordCount returns the number of records written since startup.
func RecordCount() int64 {
	return recordCount.Load()
}

// Record appends one mirrored activity record. Errors are swallowed: the
// in-store ledger is the source of truth.
func Record(agent, action, entityType string, entityID int64, detail string) {
	recordCount.Add(1)

	detail = shared.Redact(detail)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	ev := entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Agent:      agent,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
