package reputation

import (
	"context"
	"database/sql"

	"github.com/agenteconomy/trustplane/internal/dbkit"
)

// Schema creates the feedback ledger. Each ruling produces a fresh row per
// party; SPEC_FULL.md §7 notes the spec is silent on idempotency here, so no
// uniqueness constraint is imposed.
const Schema = `
CREATE TABLE IF NOT EXISTS feedback (
	feedback_id TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	category    TEXT NOT NULL,
	rating      TEXT NOT NULL,
	comment     TEXT NOT NULL,
	signer_id   TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_agent ON feedback(agent_id);
`

type Store struct {
	db *dbkit.DB
}

func NewStore(db *dbkit.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertFeedback(ctx context.Context, conn *sql.Conn, f Feedback) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO feedback (feedback_id, agent_id, category, rating, comment, signer_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.FeedbackID, f.AgentID, f.Category, f.Rating, f.Comment, f.SignerID, f.CreatedAt)
	return err
}

func (s *Store) ListForAgent(ctx context.Context, agentID string) ([]Feedback, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT feedback_id, agent_id, category, rating, comment, signer_id, created_at
		 FROM feedback WHERE agent_id = ? ORDER BY created_at`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var f Feedback
		if err := rows.Scan(&f.FeedbackID, &f.AgentID, &f.Category, &f.Rating, &f.Comment, &f.SignerID, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
