// Package clients provides typed HTTP clients for the inter-service calls
// spec.md §2 describes (Task Board -> Identity/Central Bank, Court ->
// Identity/Central Bank/Task Board/Reputation/judges), each wrapped in a
// circuit breaker so a downstream outage surfaces as the matching
// "<service>_UNAVAILABLE" apperror code rather than a raw timeout or a hang.
//
// Grounded on the teacher's internal/ledger/client.go HTTP-client-plus-
// breaker shape.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/circuitbreaker"
)

// IdentityClient verifies signed envelopes against the Identity service.
type IdentityClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewIdentityClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *IdentityClient {
	return &IdentityClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// VerifyResult mirrors identitysvc.VerifyResponse without importing that
// package (clients must stay decoupled from the services that use them).
type VerifyResult struct {
	Valid   bool           `json:"valid"`
	AgentID string         `json:"agent_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Verify calls POST /verify on Identity. A circuit-open or transport failure
// returns IDENTITY_SERVICE_UNAVAILABLE; a structurally invalid envelope is
// reported by Identity itself as Valid=false, not an error here.
func (c *IdentityClient) Verify(ctx context.Context, token string) (*VerifyResult, *apperror.Error) {
	result, err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		body, _ := json.Marshal(map[string]string{"token": token})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("identity: unexpected status %d", resp.StatusCode)
		}

		var out VerifyResult
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, apperror.Code("IDENTITY_SERVICE_UNAVAILABLE", "identity service unavailable")
	}
	return result.(*VerifyResult), nil
}

// GetAgent calls GET /agents/{agent_id} on Identity to confirm an agent_id
// is actually registered. A 404 is a normal, non-breaker-tripping outcome
// (ok=false, apiErr=nil); only a transport failure or circuit-open returns
// IDENTITY_SERVICE_UNAVAILABLE.
func (c *IdentityClient) GetAgent(ctx context.Context, agentID string) (ok bool, apiErr *apperror.Error) {
	type agentLookup struct {
		found bool
	}
	result, err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agents/"+agentID, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		if resp.StatusCode == http.StatusNotFound {
			return &agentLookup{found: false}, nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("identity: unexpected status %d", resp.StatusCode)
		}
		return &agentLookup{found: true}, nil
	})
	if err != nil {
		return false, apperror.Code("IDENTITY_SERVICE_UNAVAILABLE", "identity service unavailable")
	}
	return result.(*agentLookup).found, nil
}

// drain discards and closes a response body, used by callers that only
// care about the status code.
func drain(resp *http.Response) {
	if resp == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
