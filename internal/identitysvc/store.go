package identitysvc

import (
	"context"
	"database/sql"
	"errors"

	"github.com/agenteconomy/trustplane/internal/dbkit"
)

const Schema = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id     TEXT PRIMARY KEY,
	display_name TEXT NOT NULL UNIQUE,
	public_key   TEXT NOT NULL UNIQUE,
	created_at   TEXT NOT NULL
);
`

var ErrNotFound = errors.New("identitysvc: agent not found")
var ErrExists = errors.New("identitysvc: agent already exists")

type Store struct {
	db *dbkit.DB
}

func NewStore(db *dbkit.DB) *Store {
	return &Store{db: db}
}

// Insert creates a new agent row. Returns ErrExists on a UNIQUE constraint
// violation of display_name or public_key (spec.md §4.1 AGENT_EXISTS).
func (s *Store) Insert(ctx context.Context, a Agent) error {
	return s.db.Mutate(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO agents (agent_id, display_name, public_key, created_at) VALUES (?, ?, ?, ?)`,
			a.AgentID, a.DisplayName, a.PublicKey, a.CreatedAt)
		if err != nil {
			if dbkit.IsUniqueViolation(err) {
				return ErrExists
			}
			return err
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, agentID string) (*Agent, error) {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT agent_id, display_name, public_key, created_at FROM agents WHERE agent_id = ?`, agentID)
	var a Agent
	if err := row.Scan(&a.AgentID, &a.DisplayName, &a.PublicKey, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *Store) List(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT agent_id, display_name, public_key, created_at FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.AgentID, &a.DisplayName, &a.PublicKey, &a.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
