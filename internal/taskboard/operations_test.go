package taskboard

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

// fakeIdentity stands in for Identity's /verify: it decodes the envelope
// itself and reports the header's kid as the signer, with no real
// signature check, so these tests exercise Task Board's own state machine
// rather than Identity's.
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

// fakeBank stands in for Central Bank's escrow endpoints: every lock and
// release is granted unconditionally with a deterministic escrow id, since
// these tests exercise Task Board's lifecycle, not Central Bank's ledger.
func fakeBank(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	respond := func(w http.ResponseWriter, taskID string) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(clients.EscrowResult{
			EscrowID: "esc-" + taskID, PayerAccountID: "poster-1", Amount: 100, TaskID: taskID, Status: "locked",
		})
	}
	mux.HandleFunc("/escrow/lock", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Token string `json:"token"` }
		json.NewDecoder(r.Body).Decode(&req)
		parsed, err := envelope.Parse(req.Token)
		require.NoError(t, err)
		var p struct {
			TaskID string `json:"task_id"`
		}
		require.NoError(t, parsed.Unmarshal(&p))
		respond(w, p.TaskID)
	})
	mux.HandleFunc("/escrow/release", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(clients.EscrowResult{EscrowID: "esc-released", Status: "released"})
	})
	return httptest.NewServer(mux)
}

type taskFixture struct {
	svc      *Service
	posterID string
	posterK  ed25519.PrivateKey
	workerK  ed25519.PrivateKey
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "taskboard.db")
	db, err := dbkit.Open(dbPath, Schema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	identitySrv := fakeIdentity(t)
	t.Cleanup(identitySrv.Close)
	bankSrv := fakeBank(t)
	t.Cleanup(bankSrv.Close)

	breaker := circuitbreaker.New(&circuitbreaker.Config{Name: "identity-test", Timeout: time.Second})
	idClient := clients.NewIdentityClient(identitySrv.URL, 2*time.Second, breaker)
	bankBreaker := circuitbreaker.New(&circuitbreaker.Config{Name: "bank-test", Timeout: time.Second})
	bankClient := clients.NewBankClient(bankSrv.URL, 2*time.Second, bankBreaker)

	auth := NewAuthenticator(idClient)
	store := NewStore(db)

	_, platKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, posterKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, workerKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	deadlines := Deadlines{MaxBiddingSec: 604800, MaxExecutionSec: 2592000, MaxReviewSec: 1209600}
	svc := NewService(store, auth, bankClient, nil, "platform", platKey, deadlines, 10, 1<<20, t.TempDir(), nil)

	return &taskFixture{svc: svc, posterID: "poster-1", posterK: posterKey, workerK: workerKey}
}

func sign(t *testing.T, agentID string, priv ed25519.PrivateKey, payload map[string]any) string {
	t.Helper()
	tok, err := envelope.Sign(agentID, priv, payload)
	require.NoError(t, err)
	return tok
}

func createOpenTask(t *testing.T, f *taskFixture, ctx context.Context, taskID string) *Task {
	t.Helper()
	taskTok := sign(t, f.posterID, f.posterK, map[string]any{
		"action": "create_task", "task_id": taskID, "title": "do a thing", "spec": "details",
		"reward": int64(100), "bidding_deadline_sec": 3600, "execution_deadline_sec": 3600, "review_deadline_sec": 3600,
	})
	escrowTok := sign(t, f.posterID, f.posterK, map[string]any{
		"action": "escrow_lock", "account_id": f.posterID, "amount": int64(100), "task_id": taskID,
	})
	task, apiErr := f.svc.CreateTask(ctx, taskTok, escrowTok)
	require.Nil(t, apiErr)
	return task
}

func TestCreateTaskThenCancelReleasesEscrow(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)

	task := createOpenTask(t, f, ctx, "task-1")
	assert.Equal(t, StatusOpen, task.Status)

	cancelTok := sign(t, f.posterID, f.posterK, map[string]any{"action": "cancel_task", "task_id": "task-1"})
	cancelled, apiErr := f.svc.CancelTask(ctx, cancelTok)
	require.Nil(t, apiErr)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestCreateTaskRejectsDuplicateTaskID(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	createOpenTask(t, f, ctx, "task-1")

	taskTok := sign(t, f.posterID, f.posterK, map[string]any{
		"action": "create_task", "task_id": "task-1", "title": "dup", "spec": "x",
		"reward": int64(100), "bidding_deadline_sec": 3600, "execution_deadline_sec": 3600, "review_deadline_sec": 3600,
	})
	escrowTok := sign(t, f.posterID, f.posterK, map[string]any{
		"action": "escrow_lock", "account_id": f.posterID, "amount": int64(100), "task_id": "task-1",
	})
	_, apiErr := f.svc.CreateTask(ctx, taskTok, escrowTok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "TASK_ALREADY_EXISTS", apiErr.Code)
}

func TestCreateTaskRejectsMismatchedEscrowAmount(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)

	taskTok := sign(t, f.posterID, f.posterK, map[string]any{
		"action": "create_task", "task_id": "task-1", "title": "x", "spec": "y",
		"reward": int64(100), "bidding_deadline_sec": 3600, "execution_deadline_sec": 3600, "review_deadline_sec": 3600,
	})
	escrowTok := sign(t, f.posterID, f.posterK, map[string]any{
		"action": "escrow_lock", "account_id": f.posterID, "amount": int64(50), "task_id": "task-1",
	})
	_, apiErr := f.svc.CreateTask(ctx, taskTok, escrowTok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "TOKEN_MISMATCH", apiErr.Code)
}

func TestSelfBidRejected(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	createOpenTask(t, f, ctx, "task-1")

	bidTok := sign(t, f.posterID, f.posterK, map[string]any{"action": "submit_bid", "task_id": "task-1", "amount": int64(80)})
	_, apiErr := f.svc.SubmitBid(ctx, bidTok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "SELF_BID", apiErr.Code)
}

func TestBidsAreSealedWhileTaskOpen(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	createOpenTask(t, f, ctx, "task-1")

	bidTok := sign(t, "worker-1", f.workerK, map[string]any{"action": "submit_bid", "task_id": "task-1", "amount": int64(80)})
	_, apiErr := f.svc.SubmitBid(ctx, bidTok)
	require.Nil(t, apiErr)

	_, apiErr = f.svc.ListBids(ctx, "task-1", "")
	require.NotNil(t, apiErr)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)

	posterBearer := sign(t, f.posterID, f.posterK, map[string]any{"action": "read"})
	bids, apiErr := f.svc.ListBids(ctx, "task-1", posterBearer)
	require.Nil(t, apiErr)
	require.Len(t, bids, 1)
}

func TestAcceptBidMovesTaskToAccepted(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	createOpenTask(t, f, ctx, "task-1")

	bidTok := sign(t, "worker-1", f.workerK, map[string]any{"action": "submit_bid", "task_id": "task-1", "amount": int64(80)})
	bid, apiErr := f.svc.SubmitBid(ctx, bidTok)
	require.Nil(t, apiErr)

	acceptTok := sign(t, f.posterID, f.posterK, map[string]any{"action": "accept_bid", "task_id": "task-1", "bid_id": bid.BidID})
	task, apiErr := f.svc.AcceptBid(ctx, acceptTok)
	require.Nil(t, apiErr)
	assert.Equal(t, StatusAccepted, task.Status)
	require.NotNil(t, task.WorkerID)
	assert.Equal(t, "worker-1", *task.WorkerID)
}

func TestSubmitDeliverableRequiresAnAsset(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	createOpenTask(t, f, ctx, "task-1")

	bidTok := sign(t, "worker-1", f.workerK, map[string]any{"action": "submit_bid", "task_id": "task-1", "amount": int64(80)})
	bid, apiErr := f.svc.SubmitBid(ctx, bidTok)
	require.Nil(t, apiErr)
	acceptTok := sign(t, f.posterID, f.posterK, map[string]any{"action": "accept_bid", "task_id": "task-1", "bid_id": bid.BidID})
	_, apiErr = f.svc.AcceptBid(ctx, acceptTok)
	require.Nil(t, apiErr)

	submitTok := sign(t, "worker-1", f.workerK, map[string]any{"action": "submit_deliverable", "task_id": "task-1"})
	_, apiErr = f.svc.SubmitDeliverable(ctx, submitTok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "NO_ASSETS", apiErr.Code)
}

func TestTerminalTaskRejectsFurtherMutation(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	createOpenTask(t, f, ctx, "task-1")

	cancelTok := sign(t, f.posterID, f.posterK, map[string]any{"action": "cancel_task", "task_id": "task-1"})
	_, apiErr := f.svc.CancelTask(ctx, cancelTok)
	require.Nil(t, apiErr)

	again := sign(t, f.posterID, f.posterK, map[string]any{"action": "cancel_task", "task_id": "task-1"})
	_, apiErr = f.svc.CancelTask(ctx, again)
	require.NotNil(t, apiErr)
	assert.Equal(t, "INVALID_STATUS", apiErr.Code)
}

func TestOpenTaskExpiresPastBiddingDeadline(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)

	taskTok := sign(t, f.posterID, f.posterK, map[string]any{
		"action": "create_task", "task_id": "task-1", "title": "x", "spec": "y",
		"reward": int64(100), "bidding_deadline_sec": 1, "execution_deadline_sec": 3600, "review_deadline_sec": 3600,
	})
	escrowTok := sign(t, f.posterID, f.posterK, map[string]any{
		"action": "escrow_lock", "account_id": f.posterID, "amount": int64(100), "task_id": "task-1",
	})
	_, apiErr := f.svc.CreateTask(ctx, taskTok, escrowTok)
	require.Nil(t, apiErr)

	time.Sleep(1100 * time.Millisecond)

	task, apiErr := f.svc.GetTask(ctx, "task-1")
	require.Nil(t, apiErr)
	assert.Equal(t, StatusExpired, task.Status)
}
