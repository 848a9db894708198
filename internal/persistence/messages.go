package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Message types.
const (
	MsgComment = "comment"
	MsgStatus  = "status"
	MsgAlert   = "alert"
)

func validMsgType(t string) bool {
	return t == MsgComment || t == MsgStatus || t == MsgAlert
}

// Message is one row of the mailbox. An empty ToAgent means broadcast.
type Message struct {
	ID        int64      `json:"id"`
	FromAgent string     `json:"from_agent"`
	ToAgent   string     `json:"to_agent,omitempty"`
	Body      string     `json:"body"`
	Type      string     `json:"msg_type"`
	TaskID    *int64     `json:"task_id,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var readAt sql.NullTime
	err := row.Scan(&m.ID, &m.FromAgent, &m.ToAgent, &m.Body, &m.Type,
		&m.TaskID, &readAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		m.ReadAt = &readAt.Time
	}
	return &m, nil
}

const messageColumns = `id, from_agent, COALESCE(to_agent, ''), body, msg_type, task_id, read_at, created_at`

// Send records a direct message. taskID of zero leaves the message detached
// from any task.
func (s *Store) Send(ctx context.Context, from, to, body, msgType string, taskID int64) (Result, error) {
	if body == "" {
		return invalid("message body required"), nil
	}
	if to == "" {
		return invalid("recipient required"), nil
	}
	if msgType == "" {
		msgType = MsgComment
	}
	if !validMsgType(msgType) {
		return invalid("unknown message type %q", msgType), nil
	}

	var result Result
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		var task any
		if taskID != 0 {
			head, err := readTaskHead(ctx, tx, taskID)
			if err != nil {
				return err
			}
			if head == nil {
				result = notFound("task #%d not found", taskID)
				return nil
			}
			task = taskID
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (from_agent, to_agent, body, msg_type, task_id)
			 VALUES (?, ?, ?, ?, ?)`,
			from, to, body, msgType, task)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		msgID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		result = okTask(msgID)
		meta := fmt.Sprintf(`{"to":%q,"type":%q}`, to, msgType)
		return logActivityTx(ctx, tx, from, "message_sent", "message", msgID, body, meta)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("message_sent", "message", result.TaskID, from, body, "")
	}
	return result, nil
}

// Broadcast records an alert visible to every agent's inbox.
func (s *Store) Broadcast(ctx context.Context, from, body string) (Result, error) {
	if body == "" {
		return invalid("message body required"), nil
	}

	var result Result
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (from_agent, to_agent, body, msg_type, task_id)
			 VALUES (?, NULL, ?, 'alert', NULL)`,
			from, body)
		if err != nil {
			return fmt.Errorf("insert broadcast: %w", err)
		}
		msgID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("broadcast id: %w", err)
		}
		result = okTask(msgID)
		return logActivityTx(ctx, tx, from, "broadcast_sent", "message", msgID, body, `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	if result.Code == CodeOK {
		s.afterWrite("broadcast_sent", "message", result.TaskID, from, body, "")
	}
	return result, nil
}

// Inbox returns an agent's messages, newest first: directs addressed to the
// agent plus all broadcasts. unreadOnly keeps only unread directs and all
// broadcasts (broadcasts have no per-agent read marker).
func (s *Store) Inbox(ctx context.Context, agent string, unreadOnly bool) ([]Message, error) {
	query := `SELECT ` + messageColumns + `
		 FROM messages
		 WHERE (to_agent = ? OR to_agent IS NULL)`
	if unreadOnly {
		query += ` AND (to_agent IS NULL OR read_at IS NULL)`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, agent)
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MarkRead marks the agent's unread direct messages as read and returns how
// many were marked. With ids, exactly those messages are marked; ids that are
// not the agent's unread directs are skipped. Broadcasts are never marked;
// they stay visible to everyone.
func (s *Store) MarkRead(ctx context.Context, agent string, ids ...int64) (int64, error) {
	var marked int64
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE messages SET read_at = CURRENT_TIMESTAMP
			 WHERE to_agent = ? AND read_at IS NULL`
		args := []any{agent}
		if len(ids) > 0 {
			query += ` AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
			for _, id := range ids {
				args = append(args, id)
			}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		marked, err = res.RowsAffected()
		return err
	})
	return marked, err
}

// UnreadCount counts the agent's unread direct messages. Broadcasts are
// excluded; they have no read state.
func (s *Store) UnreadCount(ctx context.Context, agent string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE to_agent = ? AND read_at IS NULL`,
		agent).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// TaskMessages returns the messages attached to a task, oldest first.
func (s *Store) TaskMessages(ctx context.Context, taskID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE task_id = ? ORDER BY id`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("query task messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
