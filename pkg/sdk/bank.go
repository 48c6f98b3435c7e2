package sdk

import (
	"context"
	"net/http"
)

// Account mirrors bank.Account.
type Account struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"created_at"`
}

// Transaction mirrors bank.Transaction.
type Transaction struct {
	TxID         string `json:"tx_id"`
	AccountID    string `json:"account_id"`
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	Reference    string `json:"reference"`
	Timestamp    string `json:"timestamp"`
}

// Escrow mirrors bank.Escrow.
type Escrow struct {
	EscrowID       string  `json:"escrow_id"`
	PayerAccountID string  `json:"payer_account_id"`
	Amount         int64   `json:"amount"`
	TaskID         string  `json:"task_id"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	ResolvedAt     *string `json:"resolved_at,omitempty"`
}

// CreateAccount self-serves an account with a zero initial balance,
// signing as the agent the account belongs to (spec.md §4.2).
func (c *Client) CreateAccount(ctx context.Context) (*Account, error) {
	var acc Account
	payload := map[string]any{"action": "create_account", "account_id": c.agentID, "initial_balance": 0}
	if err := c.postToken(ctx, c.cfg.CentralBankURL, "/accounts", payload, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetAccount reads a balance; the caller must be the owner or the platform
// agent (spec.md §4.2), verified server-side from the bearer envelope.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var acc Account
	if err := c.bearerGet(ctx, c.cfg.CentralBankURL, "/accounts/"+accountID, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// ListTransactions reads an account's append-only ledger.
func (c *Client) ListTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.bearerGet(ctx, c.cfg.CentralBankURL, "/accounts/"+accountID+"/transactions", &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Credit adds amount to accountID under reference; replaying the same
// (accountID, reference, amount) is safe and returns the original
// transaction (spec.md §4.2 idempotency).
func (c *Client) Credit(ctx context.Context, accountID string, amount int64, reference string) (*Transaction, error) {
	var tx Transaction
	payload := map[string]any{"action": "credit", "account_id": accountID, "amount": amount, "reference": reference}
	if err := c.postToken(ctx, c.cfg.CentralBankURL, "/credit", payload, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// EscrowLock reserves amount from the caller's own account against taskID.
// Signed by the payer, per spec.md §4.2.
func (c *Client) EscrowLock(ctx context.Context, taskID string, amount int64) (*Escrow, error) {
	var escrow Escrow
	payload := map[string]any{"action": "escrow_lock", "account_id": c.agentID, "amount": amount, "task_id": taskID}
	if err := c.postToken(ctx, c.cfg.CentralBankURL, "/escrow/lock", payload, &escrow); err != nil {
		return nil, err
	}
	return &escrow, nil
}

// EscrowLockToken signs and returns only the escrow_lock envelope without
// posting it, for callers (e.g. create_task) that must pair it with a
// second envelope on a different endpoint.
func (c *Client) EscrowLockToken(taskID string, amount int64) (string, error) {
	return c.Sign(map[string]any{"action": "escrow_lock", "account_id": c.agentID, "amount": amount, "task_id": taskID})
}

// GetEscrow reads an escrow's current status. Public per the Task Board's
// own downstream usage; no bearer is required server-side.
func (c *Client) GetEscrow(ctx context.Context, escrowID string) (*Escrow, error) {
	var escrow Escrow
	if err := c.do(ctx, http.MethodGet, c.cfg.CentralBankURL+"/escrow/"+escrowID, nil, &escrow); err != nil {
		return nil, err
	}
	return &escrow, nil
}

// bearerGet performs an unsigned-body GET authenticated by an envelope in
// the Authorization header, the transport spec.md §4.2 and §4.3's asset
// routes both use for read endpoints gated on caller identity.
func (c *Client) bearerGet(ctx context.Context, baseURL, path string, out any) error {
	token, err := c.Sign(map[string]any{"action": "read"})
	if err != nil {
		return err
	}
	req, err := newBearerRequest(ctx, baseURL+path, token)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}
