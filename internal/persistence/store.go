// Package persistence implements the crew board: a SQLite-backed store of
// tasks, agents, messages, dependency edges and the activity ledger, plus the
// coordination engine that mutates them. Every engine write is one
// transaction: the ownership/state check and the update it guards run under
// the same isolation, so racing callers cannot both win a claim.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/crewctl/internal/audit"
	"github.com/basket/crewctl/internal/bus"
)

// Store owns all persisted rows. The bus may be nil in tests; events are
// published after the owning transaction commits.
type Store struct {
	db     *sql.DB
	bus    *bus.Bus
	logger *slog.Logger
}

// Open opens (creating if needed) the board database at path and applies the
// schema. Schema creation is idempotent and safe to re-run.
func Open(path string, eventBus *bus.Bus, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, bus: eventBus, logger: logger}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tableStatements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'claimed', 'in_progress', 'review', 'blocked', 'done', 'cancelled')),
			owner TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL DEFAULT '',
			parent_id INTEGER REFERENCES tasks(id),
			claimed_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS task_deps (
			task_id INTEGER NOT NULL REFERENCES tasks(id),
			blocked_by INTEGER NOT NULL REFERENCES tasks(id),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(task_id, blocked_by)
		);`,
		`CREATE TABLE IF NOT EXISTS agents (
			name TEXT PRIMARY KEY,
			role TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'idle' CHECK(status IN ('idle', 'busy')),
			last_seen DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_agent TEXT NOT NULL,
			to_agent TEXT,
			body TEXT NOT NULL,
			msg_type TEXT NOT NULL DEFAULT 'comment' CHECK(msg_type IN ('comment', 'status', 'alert')),
			task_id INTEGER REFERENCES tasks(id),
			read_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			meta TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			subject TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			next_run_at DATETIME,
			last_run_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, priority DESC, id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner, status);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at);`,
		`CREATE INDEX IF NOT EXISTS idx_deps_task ON task_deps(task_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_agent, read_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity(agent, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(enabled, next_run_at);`,
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// writeTx runs fn inside one transaction, retrying transient lock errors.
// The whole fn re-runs on retry, so precondition checks always see the state
// the final commit is based on.
func (s *Store) writeTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// afterWrite publishes the post-commit side effects of a successful mutation:
// a bus event for streaming consumers and the JSONL audit mirror.
func (s *Store) afterWrite(action, entityType string, entityID int64, agent, detail string, newStatus TaskStatus) {
	audit.Record(agent, action, entityType, entityID, detail)
	if s.bus == nil {
		return
	}
	switch entityType {
	case "task":
		s.bus.Publish(bus.TopicTaskChanged, bus.TaskChangedEvent{
			TaskID:    entityID,
			Action:    action,
			Agent:     agent,
			NewStatus: string(newStatus),
		})
	case "message":
		s.bus.Publish(bus.TopicMessageSent, nil)
	case "agent":
		s.bus.Publish(bus.TopicAgentChanged, nil)
	}
}
