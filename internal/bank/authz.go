package bank

import (
	"context"
	"encoding/json"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/clients"
)

// Authenticator verifies a signed envelope through Identity. Central Bank
// never verifies signatures itself — Identity is the sole verifier
// (spec.md §2) — but every mutating endpoint here applies an
// authentication check (signature valid, action matches) followed by a
// separate authorization check (signer is platform or account owner),
// exactly the two-step split spec.md §4.2 requires.
type Authenticator struct {
	identity *clients.IdentityClient
}

func NewAuthenticator(identity *clients.IdentityClient) *Authenticator {
	return &Authenticator{identity: identity}
}

// Authenticate verifies token, checks its action matches expectedAction,
// and decodes the payload into dst. Returns the signer's agent_id.
func (a *Authenticator) Authenticate(ctx context.Context, token, expectedAction string, dst any) (string, *apperror.Error) {
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
	if probe.Action != expectedAction {
		return "", apperror.Code("INVALID_PAYLOAD", "envelope action does not match endpoint")
	}

	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			return "", apperror.Code("INVALID_PAYLOAD", "envelope payload does not match expected shape")
		}
	}

	return result.AgentID, nil
}

// AuthorizePlatformOrOwner enforces spec.md §4.2's authorization rule: the
// signer must be either the configured platform agent or the account owner.
func AuthorizePlatformOrOwner(signerID, platformAgentID, ownerID string) *apperror.Error {
	if signerID == platformAgentID || signerID == ownerID {
		return nil
	}
	return apperror.Code("FORBIDDEN", "signer is neither the platform agent nor the account owner")
}

// AuthorizePlatformOnly enforces the platform-only operations: escrow
// release and split.
func AuthorizePlatformOnly(signerID, platformAgentID string) *apperror.Error {
	if signerID == platformAgentID {
		return nil
	}
	return apperror.Code("FORBIDDEN", "only the platform agent may perform this operation")
}

// identityAgentID verifies a bearer envelope with no action constraint,
// used by the read endpoints (spec.md §4.2: "the account owner or platform
// may read") where the caller is only proving who they are, not invoking a
// specific mutating action.
func (a *Authenticator) identityAgentID(ctx context.Context, token string) (string, *apperror.Error) {
	result, apiErr := a.identity.Verify(ctx, token)
	if apiErr != nil {
		return "", apiErr
	}
	if !result.Valid {
		return "", apperror.Code("INVALID_JWS", "envelope signature is invalid or unknown")
	}
	return result.AgentID, nil
}
