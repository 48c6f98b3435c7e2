package bank

import (
	"context"
	"database/sql"
	"errors"

	"github.com/agenteconomy/trustplane/internal/dbkit"
)

// Schema creates the Central Bank's tables plus the idempotency and
// single-locked-escrow partial indices from spec.md §6.3.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL CHECK (balance >= 0),
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	tx_id         TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL REFERENCES accounts(account_id),
	kind          TEXT NOT NULL,
	amount        INTEGER NOT NULL CHECK (amount > 0),
	balance_after INTEGER NOT NULL,
	reference     TEXT NOT NULL DEFAULT '',
	timestamp     TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_credit_reference
	ON transactions(account_id, reference) WHERE kind = 'credit';

CREATE TABLE IF NOT EXISTS escrows (
	escrow_id         TEXT PRIMARY KEY,
	payer_account_id  TEXT NOT NULL REFERENCES accounts(account_id),
	amount            INTEGER NOT NULL CHECK (amount > 0),
	task_id           TEXT NOT NULL,
	status            TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	resolved_at       TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_escrow_locked_payer_task
	ON escrows(payer_account_id, task_id) WHERE status = 'locked';
`

var ErrNotFound = errors.New("bank: not found")
var ErrExists = errors.New("bank: already exists")

type Store struct {
	db *dbkit.DB
}

func NewStore(db *dbkit.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *dbkit.DB { return s.db }

func (s *Store) InsertAccount(ctx context.Context, conn *sql.Conn, a Account) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO accounts (account_id, balance, created_at) VALUES (?, ?, ?)`,
		a.AccountID, a.Balance, a.CreatedAt)
	if err != nil {
		if dbkit.IsUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT account_id, balance, created_at FROM accounts WHERE account_id = ?`, accountID)
	var a Account
	if err := row.Scan(&a.AccountID, &a.Balance, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// GetAccountForUpdate reads the account within the caller's transaction, on
// the same connection, so the subsequent conditional UPDATE sees a
// consistent snapshot under the writer mutex.
func (s *Store) GetAccountForUpdate(ctx context.Context, conn *sql.Conn, accountID string) (*Account, error) {
	row := conn.QueryRowContext(ctx,
		`SELECT account_id, balance, created_at FROM accounts WHERE account_id = ?`, accountID)
	var a Account
	if err := row.Scan(&a.AccountID, &a.Balance, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// CreditBalance adds delta (may be negative) to an account's balance,
// unconditionally. Callers needing a guarded debit use DebitIfSufficient.
func (s *Store) CreditBalance(ctx context.Context, conn *sql.Conn, accountID string, delta int64) (int64, error) {
	res, err := conn.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ? WHERE account_id = ?`, delta, accountID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var balance int64
	if err := conn.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE account_id = ?`, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// ErrInsufficientFunds signals the guarded debit's WHERE balance>=amount
// predicate matched zero rows (spec.md §4.2).
var ErrInsufficientFunds = errors.New("bank: insufficient funds")

// DebitIfSufficient performs `UPDATE accounts SET balance = balance - ?
// WHERE account_id = ? AND balance >= ?` — the predicated debit spec.md §4.2
// requires for escrow lock, and returns the resulting balance.
func (s *Store) DebitIfSufficient(ctx context.Context, conn *sql.Conn, accountID string, amount int64) (int64, error) {
	res, err := conn.ExecContext(ctx,
		`UPDATE accounts SET balance = balance - ? WHERE account_id = ? AND balance >= ?`,
		amount, accountID, amount)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, gerr := s.GetAccountForUpdate(ctx, conn, accountID); gerr != nil {
			return 0, gerr
		}
		return 0, ErrInsufficientFunds
	}
	var balance int64
	if err := conn.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE account_id = ?`, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) InsertTransaction(ctx context.Context, conn *sql.Conn, t Transaction) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO transactions (tx_id, account_id, kind, amount, balance_after, reference, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TxID, t.AccountID, t.Kind, t.Amount, t.BalanceAfter, t.Reference, t.Timestamp)
	return err
}

// FindCreditByReference looks up a prior credit transaction by its
// idempotency key, for the PAYLOAD_MISMATCH/replay check in spec.md §4.2.
func (s *Store) FindCreditByReference(ctx context.Context, conn *sql.Conn, accountID, reference string) (*Transaction, error) {
	row := conn.QueryRowContext(ctx,
		`SELECT tx_id, account_id, kind, amount, balance_after, reference, timestamp
		 FROM transactions WHERE account_id = ? AND reference = ? AND kind = 'credit'`,
		accountID, reference)
	var t Transaction
	if err := row.Scan(&t.TxID, &t.AccountID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.Reference, &t.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT tx_id, account_id, kind, amount, balance_after, reference, timestamp
		 FROM transactions WHERE account_id = ? ORDER BY timestamp`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.TxID, &t.AccountID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.Reference, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) InsertEscrow(ctx context.Context, conn *sql.Conn, e Escrow) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO escrows (escrow_id, payer_account_id, amount, task_id, status, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EscrowID, e.PayerAccountID, e.Amount, e.TaskID, e.Status, e.CreatedAt, e.ResolvedAt)
	if err != nil {
		if dbkit.IsUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *Store) GetEscrow(ctx context.Context, escrowID string) (*Escrow, error) {
	return s.getEscrow(ctx, s.db.SQL, escrowID)
}

func (s *Store) GetEscrowTx(ctx context.Context, conn *sql.Conn, escrowID string) (*Escrow, error) {
	return s.getEscrow(ctx, conn, escrowID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getEscrow(ctx context.Context, q querier, escrowID string) (*Escrow, error) {
	row := q.QueryRowContext(ctx,
		`SELECT escrow_id, payer_account_id, amount, task_id, status, created_at, resolved_at
		 FROM escrows WHERE escrow_id = ?`, escrowID)
	var e Escrow
	if err := row.Scan(&e.EscrowID, &e.PayerAccountID, &e.Amount, &e.TaskID, &e.Status, &e.CreatedAt, &e.ResolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// FindLockedEscrowByPayerTask supports the escrow_lock idempotency check
// (spec.md §4.2: same (payer, task_id), identical amount returns the
// original).
func (s *Store) FindLockedEscrowByPayerTask(ctx context.Context, conn *sql.Conn, payerAccountID, taskID string) (*Escrow, error) {
	row := conn.QueryRowContext(ctx,
		`SELECT escrow_id, payer_account_id, amount, task_id, status, created_at, resolved_at
		 FROM escrows WHERE payer_account_id = ? AND task_id = ? AND status = 'locked'`,
		payerAccountID, taskID)
	var e Escrow
	if err := row.Scan(&e.EscrowID, &e.PayerAccountID, &e.Amount, &e.TaskID, &e.Status, &e.CreatedAt, &e.ResolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ResolveEscrow flips an escrow's status guarded by `WHERE status='locked'`
// (spec.md §4.2), returning ErrAlreadyResolved if the guard matched nothing.
var ErrAlreadyResolved = errors.New("bank: escrow already resolved")

func (s *Store) ResolveEscrow(ctx context.Context, conn *sql.Conn, escrowID string, newStatus EscrowStatus, resolvedAt string) error {
	res, err := conn.ExecContext(ctx,
		`UPDATE escrows SET status = ?, resolved_at = ? WHERE escrow_id = ? AND status = 'locked'`,
		newStatus, resolvedAt, escrowID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}
