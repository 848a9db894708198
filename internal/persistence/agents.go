package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/basket/crewctl/internal/bus"
)

// Agent is a registered crew member. Status is derived, never set directly:
// busy while owning an in_progress task, idle otherwise.
type Agent struct {
	Name     string     `json:"name"`
	Role     string     `json:"role,omitempty"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	// WorkingOn is the subject of the task the agent is driving, filled by
	// fleet queries.
	WorkingOn string `json:"working_on,omitempty"`
}

// Register upserts an agent. Re-registering updates the role and bumps
// last_seen without touching derived status.
func (s *Store) Register(ctx context.Context, name, role string) (Result, error) {
	if name == "" {
		return invalid("agent name required"), nil
	}

	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agents (name, role, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(name) DO UPDATE SET role = excluded.role, last_seen = CURRENT_TIMESTAMP`,
			name, role); err != nil {
			return fmt.Errorf("register agent %s: %w", name, err)
		}
		return logActivityTx(ctx, tx, name, "agent_registered", "agent", 0, role, `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	s.afterWrite("agent_registered", "agent", 0, name, role, "")
	return ok(), nil
}

// Checkin bumps last_seen and re-derives busy/idle. Unknown agents are
// registered on the fly with an empty role.
func (s *Store) Checkin(ctx context.Context, name string) (Result, error) {
	if name == "" {
		return invalid("agent name required"), nil
	}

	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agents (name, last_seen) VALUES (?, CURRENT_TIMESTAMP)
			 ON CONFLICT(name) DO NOTHING`,
			name); err != nil {
			return fmt.Errorf("ensure agent %s: %w", name, err)
		}
		if err := deriveAgentStatusTx(ctx, tx, name); err != nil {
			return err
		}
		return logActivityTx(ctx, tx, name, "agent_checkin", "agent", 0, "", `{}`)
	})
	if err != nil {
		return Result{}, err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicAgentChanged, nil)
	}
	return ok(), nil
}

// GetAgent returns an agent by name, or nil when not registered.
func (s *Store) GetAgent(ctx context.Context, name string) (*Agent, error) {
	var a Agent
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT name, role, status, last_seen FROM agents WHERE name = ?`, name,
	).Scan(&a.Name, &a.Role, &a.Status, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", name, err)
	}
	if lastSeen.Valid {
		a.LastSeen = &lastSeen.Time
	}
	return &a, nil
}

// Fleet lists every registered agent with the subject of its current
// in_progress task, if any.
func (s *Store) Fleet(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.name, a.role, a.status, a.last_seen,
			COALESCE((SELECT t.subject FROM tasks t
				WHERE t.owner = a.name AND t.status = 'in_progress'
				ORDER BY t.id LIMIT 1), '')
		 FROM agents a
		 ORDER BY a.name`)
	if err != nil {
		return nil, fmt.Errorf("query fleet: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var lastSeen sql.NullTime
		if err := rows.Scan(&a.Name, &a.Role, &a.Status, &lastSeen, &a.WorkingOn); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if lastSeen.Valid {
			a.LastSeen = &lastSeen.Time
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
