// Package sdk is a thin Go client for agents participating in the trust
// plane: it signs envelopes with the agent's own Ed25519 key and posts them
// to Identity, Central Bank, Task Board, and Court over plain HTTP. It does
// not retry, cache, or break circuits — those concerns belong to the
// services' own inter-service clients (internal/clients), not to an agent.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/envelope"
	"golang.org/x/crypto/ed25519"
)

// Config points a Client at the four service base URLs. A worker that only
// touches a subset of services may leave the rest empty; calling a method
// against an empty URL fails fast instead of dialing "".
type Config struct {
	IdentityURL   string
	CentralBankURL string
	TaskBoardURL  string
	CourtURL      string
	Timeout       time.Duration
}

// Client signs envelopes as a single agent identity and calls the trust
// plane's HTTP surface on its behalf.
type Client struct {
	cfg     Config
	agentID string
	priv    ed25519.PrivateKey
	http    *http.Client
}

// New builds a Client that signs as agentID using priv. agentID must be the
// agent_id Identity issued at registration time (envelope.Sign uses it as
// the header's "kid").
func New(cfg Config, agentID string, priv ed25519.PrivateKey) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, agentID: agentID, priv: priv, http: &http.Client{Timeout: timeout}}
}

// AgentID returns the identity this client signs as.
func (c *Client) AgentID() string { return c.agentID }

// Sign builds a compact envelope for payload, which must already carry an
// "action" field matching the target endpoint (spec.md §6.1).
func (c *Client) Sign(payload any) (string, error) {
	return envelope.Sign(c.agentID, c.priv, payload)
}

// errBody mirrors apperror.Error's wire shape for decoding failure
// responses; apperror.Error itself isn't json-tagged for decoding symmetry
// beyond that.
type errBody struct {
	Code    string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sdk: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("sdk: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sdk: %s %s: %w", method, url, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		var eb errBody
		json.NewDecoder(resp.Body).Decode(&eb)
		return &apperror.Error{Code: eb.Code, Message: eb.Message, Details: eb.Details, HTTP: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sdk: decode response: %w", err)
	}
	return nil
}

// postToken signs payload and POSTs it to path as {"token": "<envelope>"},
// the framing spec.md §6.2 uses for every single-envelope mutation.
func (c *Client) postToken(ctx context.Context, baseURL, path string, payload any, out any) error {
	if baseURL == "" {
		return fmt.Errorf("sdk: no base URL configured for %s", path)
	}
	token, err := c.Sign(payload)
	if err != nil {
		return fmt.Errorf("sdk: sign: %w", err)
	}
	return c.do(ctx, http.MethodPost, baseURL+path, map[string]string{"token": token}, out)
}

// newBearerRequest builds a GET carrying token as an Authorization: Bearer
// header, the transport asset uploads and account reads use in place of a
// JSON body (spec.md §6.2).
func newBearerRequest(ctx context.Context, url, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("sdk: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// decodeResponse applies the same error/body decoding do uses, for calls
// that build their own *http.Request (bearer-authenticated reads, uploads).
func decodeResponse(resp *http.Response, out any) error {
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		var eb errBody
		json.NewDecoder(resp.Body).Decode(&eb)
		return &apperror.Error{Code: eb.Code, Message: eb.Message, Details: eb.Details, HTTP: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sdk: decode response: %w", err)
	}
	return nil
}
