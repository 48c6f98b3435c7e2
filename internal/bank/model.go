// Package bank implements the Central Bank service: account balances, an
// append-only transaction ledger, and escrow lock/release/split (spec.md
// §4.2). Every mutation runs inside one dbkit.Mutate BEGIN IMMEDIATE block.
package bank

// Account is a ledger account keyed by the owning agent's id.
type Account struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"created_at"`
}

// TransactionKind enumerates the append-only ledger entry kinds (spec.md §3).
type TransactionKind string

const (
	KindCredit        TransactionKind = "credit"
	KindEscrowLock    TransactionKind = "escrow_lock"
	KindEscrowRelease TransactionKind = "escrow_release"
)

// Transaction is one append-only ledger row.
type Transaction struct {
	TxID        string          `json:"tx_id"`
	AccountID   string          `json:"account_id"`
	Kind        TransactionKind `json:"kind"`
	Amount      int64           `json:"amount"`
	BalanceAfter int64          `json:"balance_after"`
	Reference   string          `json:"reference"`
	Timestamp   string          `json:"timestamp"`
}

// EscrowStatus enumerates an escrow's lifecycle (spec.md §3).
type EscrowStatus string

const (
	EscrowLocked   EscrowStatus = "locked"
	EscrowReleased EscrowStatus = "released"
	EscrowSplit    EscrowStatus = "split"
)

// Escrow is a reserved portion of a payer's funds earmarked to a task.
type Escrow struct {
	EscrowID        string       `json:"escrow_id"`
	PayerAccountID  string       `json:"payer_account_id"`
	Amount          int64        `json:"amount"`
	TaskID          string       `json:"task_id"`
	Status          EscrowStatus `json:"status"`
	CreatedAt       string       `json:"created_at"`
	ResolvedAt      *string      `json:"resolved_at,omitempty"`
}

// CreateAccountPayload is the envelope payload for action "create_account".
type CreateAccountPayload struct {
	Action         string `json:"action"`
	AccountID      string `json:"account_id"`
	InitialBalance int64  `json:"initial_balance"`
}

// CreditPayload is the envelope payload for action "credit".
type CreditPayload struct {
	Action    string `json:"action"`
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// EscrowLockPayload is the envelope payload for action "escrow_lock".
type EscrowLockPayload struct {
	Action    string `json:"action"`
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	TaskID    string `json:"task_id"`
}

// EscrowReleasePayload is the envelope payload for action "escrow_release".
type EscrowReleasePayload struct {
	Action      string `json:"action"`
	EscrowID    string `json:"escrow_id"`
	RecipientID string `json:"recipient_id"`
}

// EscrowSplitPayload is the envelope payload for action "escrow_split".
type EscrowSplitPayload struct {
	Action         string `json:"action"`
	EscrowID       string `json:"escrow_id"`
	WorkerAccount  string `json:"worker_account_id"`
	PosterAccount  string `json:"poster_account_id"`
	WorkerPct      int    `json:"worker_pct"`
}
