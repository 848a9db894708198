package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Schedule is a recurring task template. The scheduler creates one pending
// task each time next_run_at passes.
type Schedule struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	CronExpr  string     `json:"cron_expr"`
	Subject   string     `json:"subject"`
	Priority  int        `json:"priority"`
	CreatedBy string     `json:"created_by,omitempty"`
	Enabled   bool       `json:"enabled"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

const scheduleColumns = `id, name, cron_expr, subject, priority, created_by, enabled, next_run_at, last_run_at, created_at, updated_at`

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sc Schedule
	var enabled int
	var nextRun, lastRun sql.NullTime
	err := row.Scan(&sc.ID, &sc.Name, &sc.CronExpr, &sc.Subject, &sc.Priority,
		&sc.CreatedBy, &enabled, &nextRun, &lastRun, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sc.Enabled = enabled != 0
	if nextRun.Valid {
		sc.NextRunAt = &nextRun.Time
	}
	if lastRun.Valid {
		sc.LastRunAt = &lastRun.Time
	}
	return &sc, nil
}

// CreateSchedule inserts a recurring task template. The caller validates the
// cron expression and supplies the first run time.
func (s *Store) CreateSchedule(ctx context.Context, name, cronExpr, subject string, priority int, createdBy string, nextRun time.Time) (int64, error) {
	var id int64
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO schedules (name, cron_expr, subject, priority, created_by, next_run_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			name, cronExpr, subject, priority, createdBy, nextRun.UTC().Truncate(time.Second))
		if err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("schedule id: %w", err)
		}
		return logActivityTx(ctx, tx, createdBy, "schedule_created", "schedule", id, name,
			fmt.Sprintf(`{"cron":%q}`, cronExpr))
	})
	if err != nil {
		return 0, err
	}
	s.afterWrite("schedule_created", "schedule", id, createdBy, name, "")
	return id, nil
}

// ListSchedules returns every schedule, enabled or not.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

// DeleteSchedule removes a schedule by id.
func (s *Store) DeleteSchedule(ctx context.Context, id int64, agent string) (Result, error) {
	var result Result
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete schedule %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			result = notFound("schedule #%d not found", id)
			return nil
		}
		result = ok()
		return logActivityTx(ctx, tx, agent, "schedule_deleted", "schedule", id, "", `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// DueSchedules returns enabled schedules whose next run is at or before now.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at`,
		now.UTC().Truncate(time.Second))
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var due []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due schedule: %w", err)
		}
		due = append(due, *sc)
	}
	return due, rows.Err()
}

// MarkScheduleRun records a firing in the ledger and advances the next run
// time. taskID is the task the firing created; zero means none was made.
func (s *Store) MarkScheduleRun(ctx context.Context, id, taskID int64, ranAt, nextRun time.Time) error {
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx,
			`SELECT name FROM schedules WHERE id = ?`, id).Scan(&name)
		if err != nil {
			return fmt.Errorf("read schedule %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE schedules
			 SET last_run_at = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			ranAt.UTC().Truncate(time.Second), nextRun.UTC().Truncate(time.Second), id); err != nil {
			return fmt.Errorf("mark schedule %d run: %w", id, err)
		}
		meta := fmt.Sprintf(`{"task_id":%d}`, taskID)
		return logActivityTx(ctx, tx, "scheduler:"+name, "schedule_fired", "schedule", id, name, meta)
	})
}
