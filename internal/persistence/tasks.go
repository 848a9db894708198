package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusClaimed    TaskStatus = "claimed"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusBlocked    TaskStatus = "blocked"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

// statusOrder is the canonical display order for board columns and listings.
var statusOrder = []TaskStatus{
	StatusInProgress,
	StatusClaimed,
	StatusReview,
	StatusBlocked,
	StatusPending,
	StatusDone,
	StatusCancelled,
}

// Terminal reports whether the status ends the task lifecycle. Terminal tasks
// keep their owner and timestamps; reset is the only way out.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// allowedTransitions is the legal status graph for non-forced engine moves.
// Any owned, non-terminal task can be submitted for review; ownership is the
// review gate, not the prior status. Block and reset sit outside the graph:
// block forces 'blocked' from any state, and reset returns terminal tasks to
// 'pending'.
var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	StatusPending:    {StatusClaimed: {}, StatusReview: {}, StatusCancelled: {}},
	StatusClaimed:    {StatusClaimed: {}, StatusInProgress: {}, StatusReview: {}, StatusCancelled: {}},
	StatusInProgress: {StatusClaimed: {}, StatusReview: {}, StatusDone: {}, StatusCancelled: {}},
	StatusReview:     {StatusClaimed: {}, StatusDone: {}, StatusPending: {}, StatusCancelled: {}},
	StatusBlocked:    {StatusClaimed: {}, StatusInProgress: {}, StatusReview: {}, StatusDone: {}, StatusCancelled: {}},
}

func canTransition(from, to TaskStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Task is one row of the board.
type Task struct {
	ID          int64      `json:"id"`
	Subject     string     `json:"subject"`
	Status      TaskStatus `json:"status"`
	Owner       string     `json:"owner,omitempty"`
	Priority    int        `json:"priority"`
	CreatedBy   string     `json:"created_by,omitempty"`
	ParentID    *int64     `json:"parent_id,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

const taskColumns = `id, subject, status, COALESCE(owner, ''), priority, created_by, parent_id, claimed_at, completed_at, created_at, updated_at`

// taskColumnsPrefixed qualifies every task column with a table alias for
// joined queries.
func taskColumnsPrefixed(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.subject, %[1]s.status, COALESCE(%[1]s.owner, ''), %[1]s.priority,
		%[1]s.created_by, %[1]s.parent_id, %[1]s.claimed_at, %[1]s.completed_at, %[1]s.created_at, %[1]s.updated_at`, alias)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var claimedAt, completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.Subject, &t.Status, &t.Owner, &t.Priority,
		&t.CreatedBy, &t.ParentID, &claimedAt, &completedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		t.ClaimedAt = &claimedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// taskHead is the small projection engine ops read before mutating.
type taskHead struct {
	subject string
	status  TaskStatus
	owner   string
}

func readTaskHead(ctx context.Context, tx *sql.Tx, id int64) (*taskHead, error) {
	var h taskHead
	err := tx.QueryRowContext(ctx,
		`SELECT subject, status, COALESCE(owner, '') FROM tasks WHERE id = ?`, id,
	).Scan(&h.subject, &h.status, &h.owner)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task %d: %w", id, err)
	}
	return &h, nil
}

// CreateTaskOptions are the optional attributes of a new task.
type CreateTaskOptions struct {
	Priority  int
	CreatedBy string
	// Assignee pre-claims the task: it is born 'claimed' with owner and
	// claim timestamp set.
	Assignee string
	// ParentID links a subtask to its parent. Zero means no parent.
	ParentID int64
}

// CreateTask inserts a new task. With an assignee it starts life claimed,
// otherwise pending and unowned.
func (s *Store) CreateTask(ctx context.Context, subject string, opts CreateTaskOptions) (Result, error) {
	if subject == "" {
		return invalid("subject required"), nil
	}

	var result Result
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		status := StatusPending
		var owner any
		var claimedAt any
		if opts.Assignee != "" {
			status = StatusClaimed
			owner = opts.Assignee
			claimedAt = time.Now().UTC()
		}
		var parentID any
		if opts.ParentID != 0 {
			head, err := readTaskHead(ctx, tx, opts.ParentID)
			if err != nil {
				return err
			}
			if head == nil {
				result = notFound("parent task #%d not found", opts.ParentID)
				return nil
			}
			parentID = opts.ParentID
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (subject, status, owner, priority, created_by, parent_id, claimed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			subject, status, owner, opts.Priority, opts.CreatedBy, parentID, claimedAt)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		taskID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("task id: %w", err)
		}
		result = okTask(taskID)
		meta := fmt.Sprintf(`{"priority":%d}`, opts.Priority)
		if opts.Assignee != "" {
			meta = fmt.Sprintf(`{"priority":%d,"assignee":%q}`, opts.Priority, opts.Assignee)
		}
		return logActivityTx(ctx, tx, opts.CreatedBy, "task_created", "task", taskID, subject, meta)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		newStatus := StatusPending
		if opts.Assignee != "" {
			newStatus = StatusClaimed
		}
		s.afterWrite("task_created", "task", result.TaskID, opts.CreatedBy, subject, newStatus)
	}
	return result, nil
}

// Claim takes ownership of a task. The guarded update only wins when the task
// is unowned or already owned by the caller; force steals regardless. Losing
// the race surfaces as a conflict naming the current owner.
func (s *Store) Claim(ctx context.Context, taskID int64, agent string, force bool) (Result, error) {
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
		subject = head.subject

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks
			 SET owner = ?, status = 'claimed', claimed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND (owner IS NULL OR owner = '' OR owner = ? OR ?)`,
			agent, taskID, agent, force)
		if err != nil {
			return fmt.Errorf("claim task %d: %w", taskID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows: %w", err)
		}
		if n == 0 {
			// Lost to another owner; re-read to name the winner.
			fresh, err := readTaskHead(ctx, tx, taskID)
			if err != nil {
				return err
			}
			owner := "someone"
			if fresh != nil && fresh.owner != "" {
				owner = fresh.owner
			}
			result = conflict("already claimed by %s", owner)
			return nil
		}

		result = ok()
		meta := `{}`
		if force {
			meta = `{"force":true}`
		}
		return logActivityTx(ctx, tx, agent, "task_claimed", "task", taskID, head.subject, meta)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("task_claimed", "task", taskID, agent, subject, StatusClaimed)
	}
	return result, nil
}

// Start moves an owned task to in_progress and marks the owner busy.
func (s *Store) Start(ctx context.Context, taskID int64, agent string) (Result, error) {
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
		if head.owner != agent {
			result = conflict("task #%d not owned by you", taskID)
			return nil
		}
		subject = head.subject

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'in_progress', updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND owner = ?`,
			taskID, agent)
		if err != nil {
			return fmt.Errorf("start task %d: %w", taskID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			result = conflict("task #%d not owned by you", taskID)
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE agents SET status = 'busy', last_seen = CURRENT_TIMESTAMP WHERE name = ?`,
			agent); err != nil {
			return fmt.Errorf("mark agent busy: %w", err)
		}

		result = ok()
		return logActivityTx(ctx, tx, agent, "task_started", "task", taskID, head.subject, `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("task_started", "task", taskID, agent, subject, StatusInProgress)
	}
	return result, nil
}

// Complete marks a task done. Completing an already-done task is an
// idempotent success. Ownership is required unless force is set; a non-empty
// note is recorded as a status message attached to the task.
func (s *Store) Complete(ctx context.Context, taskID int64, agent, note string, force bool) (Result, error) {
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
		if head.status == StatusDone {
			result = alreadyDone("already done")
			return nil
		}
		if head.owner != agent && !force {
			result = conflict("task #%d not owned by you", taskID)
			return nil
		}
		subject = head.subject

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'done', completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = ?`,
			taskID, head.status)
		if err != nil {
			return fmt.Errorf("complete task %d: %w", taskID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			result = conflict("task #%d changed underneath you", taskID)
			return nil
		}

		if note != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (from_agent, to_agent, body, msg_type, task_id)
				 VALUES (?, NULL, ?, 'status', ?)`,
				agent, note, taskID); err != nil {
				return fmt.Errorf("record completion note: %w", err)
			}
		}
		if head.owner != "" {
			if err := deriveAgentStatusTx(ctx, tx, head.owner); err != nil {
				return err
			}
		}

		result = ok()
		meta := `{}`
		if force {
			meta = `{"force":true}`
		}
		return logActivityTx(ctx, tx, agent, "task_completed", "task", taskID, head.subject, meta)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("task_completed", "task", taskID, agent, subject, StatusDone)
	}
	return result, nil
}

// Review submits an owned task for review.
func (s *Store) Review(ctx context.Context, taskID int64, agent string) (Result, error) {
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
		if head.owner != agent {
			result = conflict("task #%d not owned by you", taskID)
			return nil
		}
		if !canTransition(head.status, StatusReview) {
			result = conflict("task #%d is %s, cannot submit for review", taskID, head.status)
			return nil
		}
		subject = head.subject

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'review', updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			taskID); err != nil {
			return fmt.Errorf("review task %d: %w", taskID, err)
		}

		result = ok()
		return logActivityTx(ctx, tx, agent, "task_review", "task", taskID, head.subject, `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("task_review", "task", taskID, agent, subject, StatusReview)
	}
	return result, nil
}

// Approve accepts a task in review, completing it on behalf of its owner. The
// owner's agent status is re-derived; a note becomes a status message.
func (s *Store) Approve(ctx context.Context, taskID int64, agent, note string) (Result, error) {
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
		if head.status != StatusReview {
			result = conflict("task #%d is %s, not in review", taskID, head.status)
			return nil
		}
		subject = head.subject

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'done', completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			taskID); err != nil {
			return fmt.Errorf("approve task %d: %w", taskID, err)
		}
		if note != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (from_agent, to_agent, body, msg_type, task_id)
				 VALUES (?, NULL, ?, 'status', ?)`,
				agent, note, taskID); err != nil {
				return fmt.Errorf("record approval note: %w", err)
			}
		}
		if head.owner != "" {
			if err := deriveAgentStatusTx(ctx, tx, head.owner); err != nil {
				return err
			}
		}

		result = ok()
		return logActivityTx(ctx, tx, agent, "task_approved", "task", taskID, head.subject, `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("task_approved", "task", taskID, agent, subject, StatusDone)
	}
	return result, nil
}

// Reject returns a task in review to pending. The owner is kept; the reason
// is recorded as a status message on the task.
func (s *Store) Reject(ctx context.Context, taskID int64, agent, reason string) (Result, error) {
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
		if head.status != StatusReview {
			result = conflict("task #%d is %s, not in review", taskID, head.status)
			return nil
		}
		subject = head.subject

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'pending', updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			taskID); err != nil {
			return fmt.Errorf("reject task %d: %w", taskID, err)
		}
		if reason != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (from_agent, to_agent, body, msg_type, task_id)
				 VALUES (?, NULL, ?, 'status', ?)`,
				agent, reason, taskID); err != nil {
				return fmt.Errorf("record rejection reason: %w", err)
			}
		}

		result = ok()
		return logActivityTx(ctx, tx, agent, "task_rejected", "task", taskID, head.subject, `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("task_rejected", "task", taskID, agent, subject, StatusPending)
	}
	return result, nil
}

// Cancel moves a task to cancelled. Cancelling a task that is already done or
// cancelled is an idempotent success; cancellation is not ownership-gated.
func (s *Store) Cancel(ctx context.Context, taskID int64, agent string) (Result, error) {
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
		switch head.status {
		case StatusDone:
			result = alreadyDone("already done")
			return nil
		case StatusCancelled:
			result = alreadyDone("already cancelled")
			return nil
		}
		subject = head.subject

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'cancelled', updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			taskID); err != nil {
			return fmt.Errorf("cancel task %d: %w", taskID, err)
		}
		if head.owner != "" {
			if err := deriveAgentStatusTx(ctx, tx, head.owner); err != nil {
				return err
			}
		}

		result = ok()
		return logActivityTx(ctx, tx, agent, "task_cancelled", "task", taskID, head.subject, `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("task_cancelled", "task", taskID, agent, subject, StatusCancelled)
	}
	return result, nil
}

// Reset returns a terminal task to a fresh pending state, clearing owner and
// lifecycle timestamps. Non-terminal tasks need force.
func (s *Store) Reset(ctx context.Context, taskID int64, agent string, force bool) (Result, error) {
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
		if !head.status.Terminal() && !force {
			result = conflict("task #%d is %s, not finished (use force)", taskID, head.status)
			return nil
		}
		subject = head.subject

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks
			 SET status = 'pending', owner = NULL, claimed_at = NULL, completed_at = NULL, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			taskID); err != nil {
			return fmt.Errorf("reset task %d: %w", taskID, err)
		}
		if head.owner != "" {
			if err := deriveAgentStatusTx(ctx, tx, head.owner); err != nil {
				return err
			}
		}

		result = ok()
		return logActivityTx(ctx, tx, agent, "task_reset", "task", taskID, head.subject, `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("task_reset", "task", taskID, agent, subject, StatusPending)
	}
	return result, nil
}

// GetTask returns a task by id, or nil when it does not exist.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// deriveAgentStatusTx recomputes busy/idle for an agent from in_progress
// ownership and bumps last_seen. Unregistered agents are left alone.
func deriveAgentStatusTx(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE agents
		 SET status = CASE
				WHEN EXISTS (SELECT 1 FROM tasks WHERE owner = ? AND status = 'in_progress') THEN 'busy'
				ELSE 'idle'
			END,
			last_seen = CURRENT_TIMESTAMP
		 WHERE name = ?`,
		name, name)
	if err != nil {
		return fmt.Errorf("derive agent status for %s: %w", name, err)
	}
	return nil
}
