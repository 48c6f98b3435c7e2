package court

import (
	"context"
	"encoding/json"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/clients"
)

// Authenticator verifies signed envelopes through Identity, the same
// authenticate-then-authorize split used across the other three services
// (internal/bank/authz.go, internal/taskboard/authz.go).
type Authenticator struct {
	identity *clients.IdentityClient
}

func NewAuthenticator(identity *clients.IdentityClient) *Authenticator {
	return &Authenticator{identity: identity}
}

// Authenticate verifies token, checks its action is one of expectedActions,
// and decodes the payload into dst. Returns the signer's agent_id.
func (a *Authenticator) Authenticate(ctx context.Context, token string, dst any, expectedActions ...string) (string, *apperror.Error) {
	result, apiErr := a.identity.Verify(ctx, token)
	if apiErr != nil {
		return "", apiErr
	}
	if !result.Valid {
		return "", apperror.Code("INVALID_JWS", "envelope signature is invalid or unknown")
	}

	raw, err := json.Marshal(result.Payload)
	if err != nil {
		return "", apperror.Internal(err)
	}

	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", apperror.Code("INVALID_PAYLOAD", "envelope payload malformed")
	}

	matched := false
	for _, exp := range expectedActions {
		if probe.Action == exp {
			matched = true
			break
		}
	}
	if !matched {
		return "", apperror.Code("INVALID_PAYLOAD", "envelope action does not match endpoint")
	}

	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			return "", apperror.Code("INVALID_PAYLOAD", "envelope payload does not match expected shape")
		}
	}

	return result.AgentID, nil
}

// AuthorizePlatformOnly rejects any signer other than the platform agent
// (execute_ruling is never agent-initiated, spec.md §4.4).
func AuthorizePlatformOnly(signerID, platformAgentID string) *apperror.Error {
	if signerID != platformAgentID {
		return apperror.Code("FORBIDDEN", "only the platform agent may perform this action")
	}
	return nil
}
