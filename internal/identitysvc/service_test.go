package identitysvc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenteconomy/trustplane/internal/dbkit"
	"github.com/agenteconomy/trustplane/internal/envelope"

	"golang.org/x/crypto/ed25519"
)

func newIdentityFixture(t *testing.T) *Service {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "identity.db")
	db, err := dbkit.Open(dbPath, Schema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(NewStore(db))
}

func TestRegisterRejectsMalformedPublicKey(t *testing.T) {
	svc := newIdentityFixture(t)
	_, apiErr := svc.Register(context.Background(), RegisterRequest{DisplayName: "agent-a", PublicKey: "not-a-key"})
	require.NotNil(t, apiErr)
	assert.Equal(t, "INVALID_PAYLOAD", apiErr.Code)
}

func TestRegisterRejectsMissingDisplayName(t *testing.T) {
	svc := newIdentityFixture(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, apiErr := svc.Register(context.Background(), RegisterRequest{PublicKey: envelope.EncodePublicKey(pub)})
	require.NotNil(t, apiErr)
	assert.Equal(t, "MISSING_FIELD", apiErr.Code)
}

func TestRegisterThenGetRoundTrip(t *testing.T) {
	svc := newIdentityFixture(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	agent, apiErr := svc.Register(context.Background(), RegisterRequest{DisplayName: "agent-a", PublicKey: envelope.EncodePublicKey(pub)})
	require.Nil(t, apiErr)
	assert.NotEmpty(t, agent.AgentID)

	fetched, apiErr := svc.Get(context.Background(), agent.AgentID)
	require.Nil(t, apiErr)
	assert.Equal(t, agent.DisplayName, fetched.DisplayName)
}

func TestGetUnknownAgentReturnsNotFound(t *testing.T) {
	svc := newIdentityFixture(t)
	_, apiErr := svc.Get(context.Background(), "a-does-not-exist")
	require.NotNil(t, apiErr)
	assert.Equal(t, "AGENT_NOT_FOUND", apiErr.Code)
}

func TestListReturnsAllRegisteredAgents(t *testing.T) {
	svc := newIdentityFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		pub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		_, apiErr := svc.Register(ctx, RegisterRequest{DisplayName: "agent", PublicKey: envelope.EncodePublicKey(pub)})
		require.Nil(t, apiErr)
	}
	agents, apiErr := svc.List(ctx)
	require.Nil(t, apiErr)
	assert.Len(t, agents, 3)
}

func TestVerifyRoundTripsASignedEnvelope(t *testing.T) {
	svc := newIdentityFixture(t)
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	agent, apiErr := svc.Register(ctx, RegisterRequest{DisplayName: "agent-a", PublicKey: envelope.EncodePublicKey(pub)})
	require.Nil(t, apiErr)

	token, err := envelope.Sign(agent.AgentID, priv, map[string]any{"action": "create_task", "task_id": "t1"})
	require.NoError(t, err)

	result, apiErr := svc.Verify(ctx, token)
	require.Nil(t, apiErr)
	assert.True(t, result.Valid)
	assert.Equal(t, agent.AgentID, result.AgentID)
	assert.Equal(t, "create_task", result.Payload["action"])
}

func TestVerifyRejectsUnknownKid(t *testing.T) {
	svc := newIdentityFixture(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	token, err := envelope.Sign("a-never-registered", priv, map[string]any{"action": "credit"})
	require.NoError(t, err)

	result, apiErr := svc.Verify(context.Background(), token)
	require.Nil(t, apiErr)
	assert.False(t, result.Valid)
	assert.Empty(t, result.AgentID)
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	svc := newIdentityFixture(t)
	ctx := context.Background()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	agent, apiErr := svc.Register(ctx, RegisterRequest{DisplayName: "agent-a", PublicKey: envelope.EncodePublicKey(pub)})
	require.Nil(t, apiErr)

	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	token, err := envelope.Sign(agent.AgentID, otherPriv, map[string]any{"action": "credit"})
	require.NoError(t, err)

	result, apiErr := svc.Verify(ctx, token)
	require.Nil(t, apiErr)
	assert.False(t, result.Valid)
}

func TestRegisterRejectsDuplicatePublicKey(t *testing.T) {
	svc := newIdentityFixture(t)
	ctx := context.Background()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, apiErr := svc.Register(ctx, RegisterRequest{DisplayName: "agent-a", PublicKey: envelope.EncodePublicKey(pub)})
	require.Nil(t, apiErr)

	_, apiErr = svc.Register(ctx, RegisterRequest{DisplayName: "agent-b", PublicKey: envelope.EncodePublicKey(pub)})
	require.NotNil(t, apiErr)
	assert.Equal(t, "AGENT_EXISTS", apiErr.Code)
}
