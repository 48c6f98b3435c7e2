package reputation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenteconomy/trustplane/internal/circuitbreaker"
	"github.com/agenteconomy/trustplane/internal/clients"
	"github.com/agenteconomy/trustplane/internal/dbkit"
	"github.com/agenteconomy/trustplane/internal/envelope"

	"golang.org/x/crypto/ed25519"
)

// fakeIdentity decodes the envelope itself and reports the header's kid as
// signer, mirroring the doubles used in bank/taskboard's own tests.
func fakeIdentity(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		parsed, err := envelope.Parse(req.Token)
		if err != nil {
			json.NewEncoder(w).Encode(clients.VerifyResult{Valid: false})
			return
		}
		var payload map[string]any
		require.NoError(t, parsed.Unmarshal(&payload))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(clients.VerifyResult{Valid: true, AgentID: parsed.Header.Kid, Payload: payload})
	}))
}

type reputationFixture struct {
	svc     *Service
	platKey ed25519.PrivateKey
}

func newReputationFixture(t *testing.T) *reputationFixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "reputation.db")
	db, err := dbkit.Open(dbPath, Schema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	identitySrv := fakeIdentity(t)
	t.Cleanup(identitySrv.Close)
	breaker := circuitbreaker.New(&circuitbreaker.Config{Name: "identity-test", Timeout: time.Second})
	idClient := clients.NewIdentityClient(identitySrv.URL, 2*time.Second, breaker)

	_, platKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	return &reputationFixture{svc: NewService(NewStore(db), idClient, "platform"), platKey: platKey}
}

func sign(t *testing.T, agentID string, priv ed25519.PrivateKey, payload map[string]any) string {
	t.Helper()
	tok, err := envelope.Sign(agentID, priv, payload)
	require.NoError(t, err)
	return tok
}

func TestRecordFeedbackRejectsNonPlatformSigner(t *testing.T) {
	ctx := context.Background()
	f := newReputationFixture(t)
	_, otherKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tok := sign(t, "not-platform", otherKey, map[string]any{
		"action": "submit_feedback", "agent_id": "worker-1",
		"category": "delivery_quality", "rating": "satisfied",
	})
	_, apiErr := f.svc.RecordFeedback(ctx, tok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
}

func TestRecordFeedbackRejectsInvalidCategory(t *testing.T) {
	ctx := context.Background()
	f := newReputationFixture(t)
	tok := sign(t, "platform", f.platKey, map[string]any{
		"action": "submit_feedback", "agent_id": "worker-1",
		"category": "not_a_category", "rating": "satisfied",
	})
	_, apiErr := f.svc.RecordFeedback(ctx, tok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "INVALID_CATEGORY", apiErr.Code)
}

func TestRecordFeedbackRejectsInvalidRating(t *testing.T) {
	ctx := context.Background()
	f := newReputationFixture(t)
	tok := sign(t, "platform", f.platKey, map[string]any{
		"action": "submit_feedback", "agent_id": "worker-1",
		"category": "delivery_quality", "rating": "meh",
	})
	_, apiErr := f.svc.RecordFeedback(ctx, tok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "INVALID_RATING", apiErr.Code)
}

func TestRecordFeedbackAppendsAndListsForAgent(t *testing.T) {
	ctx := context.Background()
	f := newReputationFixture(t)

	first := sign(t, "platform", f.platKey, map[string]any{
		"action": "submit_feedback", "agent_id": "worker-1",
		"category": "delivery_quality", "rating": "extremely_satisfied", "comment": "great work",
	})
	_, apiErr := f.svc.RecordFeedback(ctx, first)
	require.Nil(t, apiErr)

	second := sign(t, "platform", f.platKey, map[string]any{
		"action": "submit_feedback", "agent_id": "worker-1",
		"category": "spec_quality", "rating": "dissatisfied",
	})
	_, apiErr = f.svc.RecordFeedback(ctx, second)
	require.Nil(t, apiErr)

	entries, apiErr := f.svc.ListForAgent(ctx, "worker-1")
	require.Nil(t, apiErr)
	require.Len(t, entries, 2)
	assert.Equal(t, "platform", entries[0].SignerID)
}

func TestRecordFeedbackRejectsOversizedComment(t *testing.T) {
	ctx := context.Background()
	f := newReputationFixture(t)
	huge := make([]byte, 10001)
	for i := range huge {
		huge[i] = 'x'
	}
	tok := sign(t, "platform", f.platKey, map[string]any{
		"action": "submit_feedback", "agent_id": "worker-1",
		"category": "delivery_quality", "rating": "satisfied", "comment": string(huge),
	})
	_, apiErr := f.svc.RecordFeedback(ctx, tok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "COMMENT_TOO_LONG", apiErr.Code)
}
