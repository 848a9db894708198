package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Block records that task waits on blocker and forces the task to 'blocked'.
// The edge is unique; adding it twice is a conflict. The status write is
// unconditional, so blocking wins over whatever state the task was in.
func (s *Store) Block(ctx context.Context, taskID, blockerID int64, agent string) (Result, error) {
	if taskID == blockerID {
		return invalid("task cannot block itself"), nil
	}

	var (
		result  Result
		subject string
	)
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		head, err := readTaskHead(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if head == nil {
			result = notFound("task #%d not found", taskID)
			return nil
		}
		blocker, err := readTaskHead(ctx, tx, blockerID)
		if err != nil {
			return err
		}
		if blocker == nil {
			result = notFound("task #%d not found", blockerID)
			return nil
		}
		subject = head.subject

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_deps (task_id, blocked_by) VALUES (?, ?)`,
			taskID, blockerID); err != nil {
			if isUniqueViolation(err) {
				result = conflict("dependency already exists")
				return nil
			}
			return fmt.Errorf("insert dependency %d->%d: %w", taskID, blockerID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'blocked', updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			taskID); err != nil {
			return fmt.Errorf("block task %d: %w", taskID, err)
		}

		result = ok()
		meta := fmt.Sprintf(`{"blocked_by":%d}`, blockerID)
		return logActivityTx(ctx, tx, agent, "task_blocked", "task", taskID, head.subject, meta)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("task_blocked", "task", taskID, agent, subject, StatusBlocked)
	}
	return result, nil
}

// Blockers lists the tasks a task is waiting on, resolved or not; terminal
// blockers show their status so callers can tell which edges still bite.
func (s *Store) Blockers(ctx context.Context, taskID int64) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumnsPrefixed("t")+`
		 FROM task_deps d
		 JOIN tasks t ON t.id = d.blocked_by
		 WHERE d.task_id = ?
		 ORDER BY t.id`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("query blockers for %d: %w", taskID, err)
	}
	defer rows.Close()

	var blockers []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan blocker: %w", err)
		}
		blockers = append(blockers, *t)
	}
	return blockers, rows.Err()
}
