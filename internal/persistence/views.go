package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// statusRankSQL orders active work first: the board reads top-down from what
// is moving to what is waiting.
const statusRankSQL = `CASE status
	WHEN 'in_progress' THEN 0
	WHEN 'claimed' THEN 1
	WHEN 'review' THEN 2
	WHEN 'blocked' THEN 3
	WHEN 'pending' THEN 4
	WHEN 'done' THEN 5
	ELSE 6
 END`

// ListFilter narrows ListTasks. Zero value lists active (non-terminal) tasks.
type ListFilter struct {
	// Status restricts to one status.
	Status TaskStatus
	// Owner restricts to one agent's tasks.
	Owner string
	// All includes done and cancelled tasks.
	All bool
}

// ListTasks returns tasks ordered by status rank, then priority descending,
// then id. Without a filter, terminal tasks are hidden.
func (s *Store) ListTasks(ctx context.Context, filter ListFilter) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	} else if !filter.All {
		conds = append(conds, "status NOT IN ('done', 'cancelled')")
	}
	if filter.Owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, filter.Owner)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY ` + statusRankSQL + `, priority DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// NextTask picks the agent's next piece of work: a task it already has
// in_progress first, otherwise the highest-priority unowned pending task.
// Returns nil when the board has nothing actionable for the agent.
func (s *Store) NextTask(ctx context.Context, agent string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE owner = ? AND status = 'in_progress'
		 ORDER BY priority DESC, id LIMIT 1`,
		agent)
	t, err := scanTask(row)
	if err == nil {
		return t, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("next task (own): %w", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = 'pending' AND (owner IS NULL OR owner = '')
		 ORDER BY priority DESC, id LIMIT 1`)
	t, err = scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next task (pending): %w", err)
	}
	return t, nil
}

// BoardGroup is one column of the grouped board view.
type BoardGroup struct {
	Count int    `json:"count"`
	Tasks []Task `json:"tasks"`
}

// Board groups all tasks by status. Statuses with no tasks are omitted.
// StatusOrder gives the canonical column order for renderers.
func (s *Store) Board(ctx context.Context) (map[TaskStatus]BoardGroup, error) {
	tasks, err := s.ListTasks(ctx, ListFilter{All: true})
	if err != nil {
		return nil, err
	}
	board := make(map[TaskStatus]BoardGroup)
	for _, t := range tasks {
		g := board[t.Status]
		g.Count++
		g.Tasks = append(g.Tasks, t)
		board[t.Status] = g
	}
	return board, nil
}

// StatusOrder returns the canonical status display order.
func StatusOrder() []TaskStatus {
	out := make([]TaskStatus, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// SearchResults holds substring matches across tasks and messages.
type SearchResults struct {
	Tasks    []Task    `json:"tasks"`
	Messages []Message `json:"messages"`
}

// Search finds tasks by subject and messages by body containing q. An empty
// query matches nothing.
func (s *Store) Search(ctx context.Context, q string) (*SearchResults, error) {
	results := &SearchResults{Tasks: []Task{}, Messages: []Message{}}
	if q == "" {
		return results, nil
	}
	pattern := "%" + q + "%"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE subject LIKE ?
		 ORDER BY id DESC LIMIT 50`,
		pattern)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task match: %w", err)
		}
		results.Tasks = append(results.Tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE body LIKE ?
		 ORDER BY id DESC LIMIT 50`,
		pattern)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		m, err := scanMessage(mrows)
		if err != nil {
			return nil, fmt.Errorf("scan message match: %w", err)
		}
		results.Messages = append(results.Messages, *m)
	}
	return results, mrows.Err()
}

// Summary is the one-screen board overview. Open counts the tasks still in
// play: pending, claimed and in_progress.
type Summary struct {
	StatusCounts map[TaskStatus]int `json:"status_counts"`
	Open         int                `json:"open"`
	Agents       []Agent            `json:"agents"`
}

// Summarize counts tasks per status and lists the fleet.
func (s *Store) Summarize(ctx context.Context) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	agents, err := s.Fleet(ctx)
	if err != nil {
		return nil, err
	}
	open := counts[StatusPending] + counts[StatusClaimed] + counts[StatusInProgress]
	return &Summary{StatusCounts: counts, Open: open, Agents: agents}, nil
}

// BoardSnapshot is the dashboard payload: every task plus the fleet.
type BoardSnapshot struct {
	Tasks  []Task  `json:"tasks"`
	Agents []Agent `json:"agents"`
}

// Snapshot builds the full dashboard payload in one call.
func (s *Store) Snapshot(ctx context.Context) (*BoardSnapshot, error) {
	tasks, err := s.ListTasks(ctx, ListFilter{All: true})
	if err != nil {
		return nil, err
	}
	agents, err := s.Fleet(ctx)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []Task{}
	}
	if agents == nil {
		agents = []Agent{}
	}
	return &BoardSnapshot{Tasks: tasks, Agents: agents}, nil
}

// LatestTaskChange returns the newest task updated_at as an opaque marker.
// The dashboard poller compares successive values to detect board movement.
func (s *Store) LatestTaskChange(ctx context.Context) (string, error) {
	var latest string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(updated_at), '') FROM tasks`).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("latest task change: %w", err)
	}
	return latest, nil
}
