package court

import (
	"context"
	"database/sql"
	"errors"

	"github.com/agenteconomy/trustplane/internal/dbkit"
)

// Schema creates the disputes/votes tables. A dispute is unique per task_id
// (spec.md §3 invariant); a vote is unique per (dispute, judge).
const Schema = `
CREATE TABLE IF NOT EXISTS disputes (
	dispute_id        TEXT PRIMARY KEY,
	task_id           TEXT NOT NULL UNIQUE,
	claimant_id       TEXT NOT NULL,
	respondent_id     TEXT NOT NULL,
	poster_id         TEXT NOT NULL,
	worker_id         TEXT NOT NULL,
	claim             TEXT NOT NULL,
	rebuttal          TEXT,
	escrow_id         TEXT NOT NULL,
	status            TEXT NOT NULL,
	filed_at          TEXT NOT NULL,
	rebuttal_deadline TEXT NOT NULL,
	ruled_at          TEXT,
	worker_pct        INTEGER,
	ruling_summary    TEXT
);

CREATE TABLE IF NOT EXISTS votes (
	vote_id    TEXT PRIMARY KEY,
	dispute_id TEXT NOT NULL REFERENCES disputes(dispute_id),
	judge_id   TEXT NOT NULL,
	worker_pct INTEGER NOT NULL,
	reasoning  TEXT NOT NULL,
	voted_at   TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_vote_dispute_judge ON votes(dispute_id, judge_id);
`

var ErrNotFound = errors.New("court: not found")
var ErrExists = errors.New("court: already exists")

type Store struct {
	db *dbkit.DB
}

func NewStore(db *dbkit.DB) *Store {
	return &Store{db: db}
}

const disputeColumns = `dispute_id, task_id, claimant_id, respondent_id, poster_id, worker_id, claim, rebuttal, escrow_id,
	status, filed_at, rebuttal_deadline, ruled_at, worker_pct, ruling_summary`

func scanDispute(row interface {
	Scan(dest ...any) error
}) (*Dispute, error) {
	var d Dispute
	if err := row.Scan(&d.DisputeID, &d.TaskID, &d.ClaimantID, &d.RespondentID, &d.PosterID, &d.WorkerID,
		&d.Claim, &d.Rebuttal, &d.EscrowID, &d.Status, &d.FiledAt, &d.RebuttalDeadline, &d.RuledAt,
		&d.WorkerPct, &d.RulingSummary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) InsertDispute(ctx context.Context, conn *sql.Conn, d Dispute) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO disputes (`+disputeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.DisputeID, d.TaskID, d.ClaimantID, d.RespondentID, d.PosterID, d.WorkerID, d.Claim, d.Rebuttal, d.EscrowID,
		d.Status, d.FiledAt, d.RebuttalDeadline, d.RuledAt, d.WorkerPct, d.RulingSummary)
	if err != nil {
		if dbkit.IsUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *Store) GetDispute(ctx context.Context, disputeID string) (*Dispute, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE dispute_id = ?`, disputeID)
	return scanDispute(row)
}

func (s *Store) GetDisputeByTask(ctx context.Context, taskID string) (*Dispute, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE task_id = ?`, taskID)
	return scanDispute(row)
}

func (s *Store) GetDisputeTx(ctx context.Context, conn *sql.Conn, disputeID string) (*Dispute, error) {
	row := conn.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE dispute_id = ?`, disputeID)
	return scanDispute(row)
}

func (s *Store) UpdateDispute(ctx context.Context, conn *sql.Conn, d Dispute) error {
	_, err := conn.ExecContext(ctx,
		`UPDATE disputes SET claimant_id=?, respondent_id=?, claim=?, rebuttal=?, escrow_id=?, status=?,
		 filed_at=?, rebuttal_deadline=?, ruled_at=?, worker_pct=?, ruling_summary=? WHERE dispute_id=?`,
		d.ClaimantID, d.RespondentID, d.Claim, d.Rebuttal, d.EscrowID, d.Status, d.FiledAt,
		d.RebuttalDeadline, d.RuledAt, d.WorkerPct, d.RulingSummary, d.DisputeID)
	return err
}

// ErrNotReadyForRuling mirrors bank.ErrAlreadyResolved's guarded-UPDATE
// pattern: the caller's compare-then-write window is closed inside a single
// statement so two concurrent execute_ruling calls can't both observe
// rebuttal_pending and both proceed.
var ErrNotReadyForRuling = errors.New("court: dispute not in rebuttal_pending")

// BeginJudging guards the rebuttal_pending -> judging transition with
// `WHERE status='rebuttal_pending'`, returning ErrNotReadyForRuling if the
// guard matched nothing (already judging, already ruled, or disputed by a
// concurrent caller that won the race).
func (s *Store) BeginJudging(ctx context.Context, conn *sql.Conn, disputeID string) error {
	res, err := conn.ExecContext(ctx,
		`UPDATE disputes SET status = ? WHERE dispute_id = ? AND status = ?`,
		StatusJudging, disputeID, StatusRebuttalPending)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotReadyForRuling
	}
	return nil
}

func (s *Store) InsertVote(ctx context.Context, conn *sql.Conn, v Vote) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO votes (vote_id, dispute_id, judge_id, worker_pct, reasoning, voted_at) VALUES (?, ?, ?, ?, ?, ?)`,
		v.VoteID, v.DisputeID, v.JudgeID, v.WorkerPct, v.Reasoning, v.VotedAt)
	return err
}

func (s *Store) ListVotes(ctx context.Context, disputeID string) ([]Vote, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT vote_id, dispute_id, judge_id, worker_pct, reasoning, voted_at FROM votes WHERE dispute_id = ? ORDER BY voted_at`, disputeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vote
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.VoteID, &v.DisputeID, &v.JudgeID, &v.WorkerPct, &v.Reasoning, &v.VotedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) DeleteVotes(ctx context.Context, conn *sql.Conn, disputeID string) error {
	_, err := conn.ExecContext(ctx, `DELETE FROM votes WHERE dispute_id = ?`, disputeID)
	return err
}
