// Package identitysvc implements the Identity service: agent registration
// and signed-envelope verification (spec.md §4.1).
package identitysvc

// Agent is the persisted row for a registered agent (spec.md §3).
type Agent struct {
	AgentID     string `json:"agent_id"`
	DisplayName string `json:"display_name"`
	PublicKey   string `json:"public_key"`
	CreatedAt   string `json:"created_at"`
}

// RegisterRequest is the body of POST /agents.
type RegisterRequest struct {
	DisplayName string `json:"display_name"`
	PublicKey   string `json:"public_key"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Token string `json:"token"`
}

// VerifyResponse reports whether an envelope is valid; payload is only
// populated when valid is true (spec.md §4.1: "Unknown kid, malformed
// structure, or bad signature all yield valid=false with no payload
// disclosed").
type VerifyResponse struct {
	Valid   bool            `json:"valid"`
	AgentID string          `json:"agent_id,omitempty"`
	Payload map[string]any  `json:"payload,omitempty"`
}
