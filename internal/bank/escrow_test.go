package bank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
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

// unregisteredAgentID is the one agent_id fakeIdentity's /agents/{id} lookup
// reports as not found; every other id is treated as registered.
const unregisteredAgentID = "unregistered-agent"

// fakeIdentity stands in for the Identity service: every envelope is
// considered validly signed by whatever kid its header carries, with no
// actual signature check, and GET /agents/{id} reports every id registered
// except unregisteredAgentID, so tests can focus on Central Bank's own rules.
func fakeIdentity(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
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
		json.NewEncoder(w).Encode(clients.VerifyResult{
			Valid:   true,
			AgentID: parsed.Header.Kid,
			Payload: payload,
		})
	})
	mux.HandleFunc("/agents/", func(w http.ResponseWriter, r *http.Request) {
		agentID := strings.TrimPrefix(r.URL.Path, "/agents/")
		if agentID == unregisteredAgentID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"agent_id": agentID})
	})
	return httptest.NewServer(mux)
}

type bankFixture struct {
	svc       *Service
	identity  *httptest.Server
	payerKey  ed25519.PrivateKey
	workerKey ed25519.PrivateKey
	platKey   ed25519.PrivateKey
}

func newBankFixture(t *testing.T) *bankFixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bank.db")
	db, err := dbkit.Open(dbPath, Schema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	identitySrv := fakeIdentity(t)
	t.Cleanup(identitySrv.Close)

	breaker := circuitbreaker.New(&circuitbreaker.Config{Name: "identity-test", Timeout: time.Second})
	idClient := clients.NewIdentityClient(identitySrv.URL, 2*time.Second, breaker)
	auth := NewAuthenticator(idClient)

	store := NewStore(db)
	svc := NewService(store, auth, idClient, "platform")

	_, payerKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, workerKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, platKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	return &bankFixture{svc: svc, identity: identitySrv, payerKey: payerKey, workerKey: workerKey, platKey: platKey}
}

func sign(t *testing.T, agentID string, priv ed25519.PrivateKey, payload map[string]any) string {
	t.Helper()
	tok, err := envelope.Sign(agentID, priv, payload)
	require.NoError(t, err)
	return tok
}

func createAccountWithBalance(t *testing.T, f *bankFixture, ctx context.Context, accountID string, balance int64) {
	t.Helper()
	tok := sign(t, "platform", f.platKey, map[string]any{
		"action": "create_account", "account_id": accountID, "initial_balance": balance,
	})
	_, apiErr := f.svc.CreateAccount(ctx, tok)
	require.Nil(t, apiErr)
}

func TestSplitFloorDivision(t *testing.T) {
	cases := []struct {
		name              string
		amount, workerPct int64
		wantWorker        int64
		wantPoster        int64
	}{
		{"even split", 100, 50, 50, 50},
		{"all to worker", 100, 100, 100, 0},
		{"all to poster", 100, 0, 0, 100},
		{"floors the remainder", 99, 33, 32, 67},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			f := newBankFixture(t)
			createAccountWithBalance(t, f, ctx, "payer-1", c.amount)
			createAccountWithBalance(t, f, ctx, "worker-1", 0)

			lockTok := sign(t, "payer-1", f.payerKey, map[string]any{
				"action": "escrow_lock", "account_id": "payer-1", "amount": c.amount, "task_id": "task-1",
			})
			escrow, apiErr := f.svc.Lock(ctx, lockTok)
			require.Nil(t, apiErr)

			splitTok := sign(t, "platform", f.platKey, map[string]any{
				"action": "escrow_split", "escrow_id": escrow.EscrowID,
				"worker_account_id": "worker-1", "poster_account_id": "payer-1", "worker_pct": c.workerPct,
			})
			_, apiErr = f.svc.Split(ctx, splitTok)
			require.Nil(t, apiErr)

			worker, apiErr := f.svc.GetAccount(ctx, "worker-1", "platform")
			require.Nil(t, apiErr)
			poster, apiErr := f.svc.GetAccount(ctx, "payer-1", "platform")
			require.Nil(t, apiErr)

			assert.Equal(t, c.wantWorker, worker.Balance)
			assert.Equal(t, c.wantPoster, poster.Balance)
		})
	}
}

func TestLockIsIdempotentOnIdenticalAmount(t *testing.T) {
	ctx := context.Background()
	f := newBankFixture(t)
	createAccountWithBalance(t, f, ctx, "payer-1", 100)

	tok := func() string {
		return sign(t, "payer-1", f.payerKey, map[string]any{
			"action": "escrow_lock", "account_id": "payer-1", "amount": int64(100), "task_id": "task-1",
		})
	}

	first, apiErr := f.svc.Lock(ctx, tok())
	require.Nil(t, apiErr)

	second, apiErr := f.svc.Lock(ctx, tok())
	require.Nil(t, apiErr)
	assert.Equal(t, first.EscrowID, second.EscrowID)

	payer, apiErr := f.svc.GetAccount(ctx, "payer-1", "platform")
	require.Nil(t, apiErr)
	assert.Equal(t, int64(0), payer.Balance, "balance must only be debited once")
}

func TestLockRejectsDifferingAmountForSamePayerTask(t *testing.T) {
	ctx := context.Background()
	f := newBankFixture(t)
	createAccountWithBalance(t, f, ctx, "payer-1", 200)

	first := sign(t, "payer-1", f.payerKey, map[string]any{
		"action": "escrow_lock", "account_id": "payer-1", "amount": int64(100), "task_id": "task-1",
	})
	_, apiErr := f.svc.Lock(ctx, first)
	require.Nil(t, apiErr)

	second := sign(t, "payer-1", f.payerKey, map[string]any{
		"action": "escrow_lock", "account_id": "payer-1", "amount": int64(50), "task_id": "task-1",
	})
	_, apiErr = f.svc.Lock(ctx, second)
	require.NotNil(t, apiErr)
	assert.Equal(t, "ESCROW_ALREADY_LOCKED", apiErr.Code)
}

func TestReleaseRejectsAlreadyResolvedEscrow(t *testing.T) {
	ctx := context.Background()
	f := newBankFixture(t)
	createAccountWithBalance(t, f, ctx, "payer-1", 100)
	createAccountWithBalance(t, f, ctx, "worker-1", 0)

	lockTok := sign(t, "payer-1", f.payerKey, map[string]any{
		"action": "escrow_lock", "account_id": "payer-1", "amount": int64(100), "task_id": "task-1",
	})
	escrow, apiErr := f.svc.Lock(ctx, lockTok)
	require.Nil(t, apiErr)

	releaseTok := func() string {
		return sign(t, "platform", f.platKey, map[string]any{
			"action": "escrow_release", "escrow_id": escrow.EscrowID, "recipient_id": "worker-1",
		})
	}

	_, apiErr = f.svc.Release(ctx, releaseTok())
	require.Nil(t, apiErr)

	_, apiErr = f.svc.Release(ctx, releaseTok())
	require.NotNil(t, apiErr)
	assert.Equal(t, "ESCROW_ALREADY_RESOLVED", apiErr.Code)
}

func TestSplitRejectsPosterAccountMismatch(t *testing.T) {
	ctx := context.Background()
	f := newBankFixture(t)
	createAccountWithBalance(t, f, ctx, "payer-1", 100)
	createAccountWithBalance(t, f, ctx, "worker-1", 0)
	createAccountWithBalance(t, f, ctx, "someone-else", 0)

	lockTok := sign(t, "payer-1", f.payerKey, map[string]any{
		"action": "escrow_lock", "account_id": "payer-1", "amount": int64(100), "task_id": "task-1",
	})
	escrow, apiErr := f.svc.Lock(ctx, lockTok)
	require.Nil(t, apiErr)

	splitTok := sign(t, "platform", f.platKey, map[string]any{
		"action": "escrow_split", "escrow_id": escrow.EscrowID,
		"worker_account_id": "worker-1", "poster_account_id": "someone-else", "worker_pct": 50,
	})
	_, apiErr = f.svc.Split(ctx, splitTok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "PAYLOAD_MISMATCH", apiErr.Code)
}

func TestLockRejectsInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newBankFixture(t)
	createAccountWithBalance(t, f, ctx, "payer-1", 10)

	tok := sign(t, "payer-1", f.payerKey, map[string]any{
		"action": "escrow_lock", "account_id": "payer-1", "amount": int64(100), "task_id": "task-1",
	})
	_, apiErr := f.svc.Lock(ctx, tok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "INSUFFICIENT_FUNDS", apiErr.Code)
}

func TestCreateAccountRejectsUnregisteredAgent(t *testing.T) {
	ctx := context.Background()
	f := newBankFixture(t)

	tok := sign(t, "platform", f.platKey, map[string]any{
		"action": "create_account", "account_id": unregisteredAgentID, "initial_balance": int64(0),
	})
	_, apiErr := f.svc.CreateAccount(ctx, tok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "AGENT_NOT_FOUND", apiErr.Code)
}

func TestLockRejectsWrongSigner(t *testing.T) {
	ctx := context.Background()
	f := newBankFixture(t)
	createAccountWithBalance(t, f, ctx, "payer-1", 100)

	// Signed by worker-1's key but claiming to lock payer-1's funds: the
	// fake Identity server reports the signer as the envelope's own kid,
	// so this is signed as "worker-1" while account_id is "payer-1".
	tok := sign(t, "worker-1", f.workerKey, map[string]any{
		"action": "escrow_lock", "account_id": "payer-1", "amount": int64(100), "task_id": "task-1",
	})
	_, apiErr := f.svc.Lock(ctx, tok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
}
