package taskboard

import (
	"context"
	"database/sql"
	"errors"

	"github.com/agenteconomy/trustplane/internal/dbkit"
)

// Schema creates the Task Board's tables plus the uniqueness indices from
// spec.md §6.3: one bid per (task, bidder).
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id                 TEXT PRIMARY KEY,
	poster_id               TEXT NOT NULL,
	title                   TEXT NOT NULL,
	spec                    TEXT NOT NULL,
	reward                  INTEGER NOT NULL CHECK (reward > 0),
	bidding_deadline_sec    INTEGER NOT NULL,
	execution_deadline_sec  INTEGER NOT NULL,
	review_deadline_sec     INTEGER NOT NULL,
	escrow_id               TEXT NOT NULL,
	worker_id               TEXT,
	accepted_bid_id         TEXT,
	status                  TEXT NOT NULL,
	created_at              TEXT NOT NULL,
	accepted_at             TEXT,
	submitted_at            TEXT,
	approved_at             TEXT,
	cancelled_at            TEXT,
	expired_at              TEXT,
	disputed_at             TEXT,
	ruled_at                TEXT,
	dispute_reason          TEXT,
	ruling_id               TEXT,
	worker_pct              INTEGER,
	ruling_summary          TEXT
);

CREATE TABLE IF NOT EXISTS bids (
	bid_id       TEXT PRIMARY KEY,
	task_id      TEXT NOT NULL REFERENCES tasks(task_id),
	bidder_id    TEXT NOT NULL,
	amount       INTEGER NOT NULL CHECK (amount > 0),
	submitted_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bid_task_bidder ON bids(task_id, bidder_id);

CREATE TABLE IF NOT EXISTS assets (
	asset_id     TEXT PRIMARY KEY,
	task_id      TEXT NOT NULL REFERENCES tasks(task_id),
	uploader_id  TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         INTEGER NOT NULL,
	sha256       TEXT NOT NULL,
	uploaded_at  TEXT NOT NULL,
	storage_path TEXT NOT NULL
);
`

var ErrNotFound = errors.New("taskboard: not found")
var ErrExists = errors.New("taskboard: already exists")

type Store struct {
	db *dbkit.DB
}

func NewStore(db *dbkit.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *dbkit.DB { return s.db }

const taskColumns = `task_id, poster_id, title, spec, reward, bidding_deadline_sec, execution_deadline_sec,
	review_deadline_sec, escrow_id, worker_id, accepted_bid_id, status, created_at, accepted_at,
	submitted_at, approved_at, cancelled_at, expired_at, disputed_at, ruled_at, dispute_reason,
	ruling_id, worker_pct, ruling_summary`

func scanTask(row interface {
	Scan(dest ...any) error
}) (*Task, error) {
	var t Task
	if err := row.Scan(
		&t.TaskID, &t.PosterID, &t.Title, &t.Spec, &t.Reward, &t.BiddingDeadlineSec, &t.ExecutionDeadlineSec,
		&t.ReviewDeadlineSec, &t.EscrowID, &t.WorkerID, &t.AcceptedBidID, &t.Status, &t.CreatedAt, &t.AcceptedAt,
		&t.SubmittedAt, &t.ApprovedAt, &t.CancelledAt, &t.ExpiredAt, &t.DisputedAt, &t.RuledAt, &t.DisputeReason,
		&t.RulingID, &t.WorkerPct, &t.RulingSummary,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) InsertTask(ctx context.Context, conn *sql.Conn, t Task) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.TaskID, t.PosterID, t.Title, t.Spec, t.Reward, t.BiddingDeadlineSec, t.ExecutionDeadlineSec,
		t.ReviewDeadlineSec, t.EscrowID, t.WorkerID, t.AcceptedBidID, t.Status, t.CreatedAt, t.AcceptedAt,
		t.SubmittedAt, t.ApprovedAt, t.CancelledAt, t.ExpiredAt, t.DisputedAt, t.RuledAt, t.DisputeReason,
		t.RulingID, t.WorkerPct, t.RulingSummary)
	if err != nil {
		if dbkit.IsUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

func (s *Store) GetTaskTx(ctx context.Context, conn *sql.Conn, taskID string) (*Task, error) {
	row := conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.SQL.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTask replaces the full mutable row. Called only from within a
// dbkit.Mutate block on the connection that holds the writer lock.
func (s *Store) UpdateTask(ctx context.Context, conn *sql.Conn, t Task) error {
	_, err := conn.ExecContext(ctx,
		`UPDATE tasks SET poster_id=?, title=?, spec=?, reward=?, bidding_deadline_sec=?, execution_deadline_sec=?,
		 review_deadline_sec=?, escrow_id=?, worker_id=?, accepted_bid_id=?, status=?, created_at=?, accepted_at=?,
		 submitted_at=?, approved_at=?, cancelled_at=?, expired_at=?, disputed_at=?, ruled_at=?, dispute_reason=?,
		 ruling_id=?, worker_pct=?, ruling_summary=? WHERE task_id=?`,
		t.PosterID, t.Title, t.Spec, t.Reward, t.BiddingDeadlineSec, t.ExecutionDeadlineSec,
		t.ReviewDeadlineSec, t.EscrowID, t.WorkerID, t.AcceptedBidID, t.Status, t.CreatedAt, t.AcceptedAt,
		t.SubmittedAt, t.ApprovedAt, t.CancelledAt, t.ExpiredAt, t.DisputedAt, t.RuledAt, t.DisputeReason,
		t.RulingID, t.WorkerPct, t.RulingSummary, t.TaskID)
	return err
}

func (s *Store) DeleteTask(ctx context.Context, conn *sql.Conn, taskID string) error {
	_, err := conn.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	return err
}

func (s *Store) InsertBid(ctx context.Context, conn *sql.Conn, b Bid) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO bids (bid_id, task_id, bidder_id, amount, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		b.BidID, b.TaskID, b.BidderID, b.Amount, b.SubmittedAt)
	if err != nil {
		if dbkit.IsUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *Store) GetBid(ctx context.Context, bidID string) (*Bid, error) {
	return s.scanBid(s.db.SQL.QueryRowContext(ctx, `SELECT bid_id, task_id, bidder_id, amount, submitted_at FROM bids WHERE bid_id = ?`, bidID))
}

func (s *Store) GetBidTx(ctx context.Context, conn *sql.Conn, bidID string) (*Bid, error) {
	return s.scanBid(conn.QueryRowContext(ctx, `SELECT bid_id, task_id, bidder_id, amount, submitted_at FROM bids WHERE bid_id = ?`, bidID))
}

func (s *Store) scanBid(row *sql.Row) (*Bid, error) {
	var b Bid
	if err := row.Scan(&b.BidID, &b.TaskID, &b.BidderID, &b.Amount, &b.SubmittedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBids(ctx context.Context, taskID string) ([]Bid, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT bid_id, task_id, bidder_id, amount, submitted_at FROM bids WHERE task_id = ? ORDER BY submitted_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bid
	for rows.Next() {
		var b Bid
		if err := rows.Scan(&b.BidID, &b.TaskID, &b.BidderID, &b.Amount, &b.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) InsertAsset(ctx context.Context, conn *sql.Conn, a Asset) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO assets (asset_id, task_id, uploader_id, filename, content_type, size, sha256, uploaded_at, storage_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AssetID, a.TaskID, a.UploaderID, a.Filename, a.ContentType, a.Size, a.SHA256, a.UploadedAt, a.StoragePath)
	return err
}

func (s *Store) ListAssets(ctx context.Context, taskID string) ([]Asset, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT asset_id, task_id, uploader_id, filename, content_type, size, sha256, uploaded_at, storage_path
		 FROM assets WHERE task_id = ? ORDER BY uploaded_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.AssetID, &a.TaskID, &a.UploaderID, &a.Filename, &a.ContentType, &a.Size, &a.SHA256, &a.UploadedAt, &a.StoragePath); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CountAssets(ctx context.Context, conn *sql.Conn, taskID string) (int, error) {
	var n int
	err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE task_id = ?`, taskID).Scan(&n)
	return n, err
}
