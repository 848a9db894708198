package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Activity is one append-only ledger entry. Meta is a small JSON object with
// action-specific extras; it is stored opaquely.
type Activity struct {
	ID         int64     `json:"id"`
	Agent      string    `json:"agent"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	Detail     string    `json:"detail,omitempty"`
	Meta       string    `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// logActivityTx appends a ledger entry inside the transaction of the write it
// describes, so a committed mutation always has its ledger row.
func logActivityTx(ctx context.Context, tx *sql.Tx, agent, action, entityType string, entityID int64, detail, meta string) error {
	if meta == "" {
		meta = "{}"
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO activity (agent, action, entity_type, entity_id, detail, meta)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		agent, action, entityType, entityID, detail, meta)
	if err != nil {
		return fmt.Errorf("log activity %s: %w", action, err)
	}
	return nil
}

// Feed returns ledger entries newest first, optionally filtered to one agent.
// A non-positive limit falls back to 20.
func (s *Store) Feed(ctx context.Context, limit int, agent string) ([]Activity, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, agent, action, entity_type, entity_id, detail, meta, created_at
		 FROM activity`
	args := []any{}
	if agent != "" {
		query += ` WHERE agent = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	var entries []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.Agent, &a.Action, &a.EntityType, &a.EntityID,
			&a.Detail, &a.Meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
