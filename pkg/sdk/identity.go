package sdk

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/agenteconomy/trustplane/internal/envelope"
)

// Agent mirrors identitysvc.Agent for SDK callers that don't want to import
// the service package directly.
type Agent struct {
	AgentID     string `json:"agent_id"`
	DisplayName string `json:"display_name"`
	PublicKey   string `json:"public_key"`
	CreatedAt   string `json:"created_at"`
}

// RegisterAgent generates a fresh Ed25519 keypair, registers the public
// half under displayName, and returns the issued agent_id plus both keys so
// the caller can build a Client immediately. Registration is unauthenticated
// (spec.md §4.1): there is no existing identity to sign with yet.
func RegisterAgent(ctx context.Context, cfg Config, displayName string) (*Agent, ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}
	var agent Agent
	req := map[string]string{"display_name": displayName, "public_key": envelope.EncodePublicKey(pub)}
	if err := c.do(ctx, http.MethodPost, cfg.IdentityURL+"/agents", req, &agent); err != nil {
		return nil, nil, nil, err
	}
	return &agent, pub, priv, nil
}

// GetAgent fetches a registered agent by id. Public, unauthenticated.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, http.MethodGet, c.cfg.IdentityURL+"/agents/"+agentID, nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents lists every registered agent.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, c.cfg.IdentityURL+"/agents", nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// VerifyResult mirrors identitysvc.VerifyResponse.
type VerifyResult struct {
	Valid   bool           `json:"valid"`
	AgentID string         `json:"agent_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// VerifyEnvelope asks Identity to check an arbitrary envelope's signature,
// useful for a worker double-checking a counterparty's token before acting
// on it rather than trusting the issuing service's own validation.
func (c *Client) VerifyEnvelope(ctx context.Context, token string) (*VerifyResult, error) {
	var out VerifyResult
	req := map[string]string{"token": token}
	if err := c.do(ctx, http.MethodPost, c.cfg.IdentityURL+"/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
