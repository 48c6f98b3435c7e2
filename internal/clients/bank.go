package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/circuitbreaker"
)

// BankClient forwards already-signed envelopes to Central Bank. It never
// constructs payloads itself for agent-signed actions (escrow_lock) — only
// Task Board/Court's own platform-signed envelopes for escrow_release and
// escrow_split are built by their callers before reaching this client.
type BankClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewBankClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *BankClient {
	return &BankClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}, breaker: breaker}
}

// EscrowResult mirrors bank.Escrow's client-visible fields.
type EscrowResult struct {
	EscrowID       string `json:"escrow_id"`
	PayerAccountID string `json:"payer_account_id"`
	Amount         int64  `json:"amount"`
	TaskID         string `json:"task_id"`
	Status         string `json:"status"`
}

// downstreamResponse carries either a decoded success body or a decoded
// application error, distinguishing the two from a transport/5xx failure.
// Only the latter counts as a circuit breaker failure — a 4xx means the
// downstream is healthy and simply rejected the request.
type downstreamResponse struct {
	result *EscrowResult
	appErr *apperror.Error
}

func (c *BankClient) post(ctx context.Context, path string, token string) (*EscrowResult, *apperror.Error) {
	raw, err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		body, _ := json.Marshal(map[string]string{"token": token})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("central bank: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			var errBody apperror.Error
			json.NewDecoder(resp.Body).Decode(&errBody)
			return &downstreamResponse{appErr: &errBody}, nil
		}

		var out EscrowResult
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return &downstreamResponse{result: &out}, nil
	})
	if err != nil {
		return nil, apperror.Code("CENTRAL_BANK_UNAVAILABLE", "central bank service unavailable")
	}
	dr := raw.(*downstreamResponse)
	if dr.appErr != nil {
		return nil, apperror.Code(dr.appErr.Code, dr.appErr.Message)
	}
	return dr.result, nil
}

// EscrowLock forwards a poster-signed escrow_lock envelope.
func (c *BankClient) EscrowLock(ctx context.Context, token string) (*EscrowResult, *apperror.Error) {
	return c.post(ctx, "/escrow/lock", token)
}

// EscrowRelease forwards a platform-signed escrow_release envelope.
func (c *BankClient) EscrowRelease(ctx context.Context, token string) (*EscrowResult, *apperror.Error) {
	return c.post(ctx, "/escrow/release", token)
}

// EscrowSplit forwards a platform-signed escrow_split envelope.
func (c *BankClient) EscrowSplit(ctx context.Context, token string) (*EscrowResult, *apperror.Error) {
	return c.post(ctx, "/escrow/split", token)
}
