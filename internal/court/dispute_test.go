package court

import (
	"context"
	"database/sql"
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
	"github.com/agenteconomy/trustplane/internal/events"

	"golang.org/x/crypto/ed25519"
)

// fakeIdentity decodes the envelope itself and reports the header's kid as
// signer, the same double used across this repo's other service tests.
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

// fakeTaskBoard serves a single fixed task, its assets, and accepts
// record_ruling unconditionally.
func fakeTaskBoard(t *testing.T, task clients.TaskSummary) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/"+task.TaskID+"/assets", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"assets": []map[string]string{{"filename": "deliverable.zip"}}})
	})
	mux.HandleFunc("/tasks/"+task.TaskID, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(task)
	})
	mux.HandleFunc("/tasks/record_ruling", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func fakeBank(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/escrow/split", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(clients.EscrowResult{EscrowID: "esc-1", Status: "split"})
	})
	return httptest.NewServer(mux)
}

func fakeReputation(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/feedback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"feedback_id": "feedback-1"})
	})
	return httptest.NewServer(mux)
}

type disputeFixture struct {
	svc      *Service
	posterK  ed25519.PrivateKey
	workerK  ed25519.PrivateKey
	platKey  ed25519.PrivateKey
	task     clients.TaskSummary
}

func newDisputeFixture(t *testing.T, judges []JudgeClient) *disputeFixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "court.db")
	db, err := dbkit.Open(dbPath, Schema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	workerID := "worker-1"
	task := clients.TaskSummary{
		TaskID: "task-1", PosterID: "poster-1", WorkerID: &workerID,
		Spec: "build a thing", EscrowID: "esc-1", Status: "submitted",
	}

	identitySrv := fakeIdentity(t)
	t.Cleanup(identitySrv.Close)
	taskBoardSrv := fakeTaskBoard(t, task)
	t.Cleanup(taskBoardSrv.Close)
	bankSrv := fakeBank(t)
	t.Cleanup(bankSrv.Close)
	repSrv := fakeReputation(t)
	t.Cleanup(repSrv.Close)

	newBreaker := func(name string) *circuitbreaker.CircuitBreaker {
		return circuitbreaker.New(&circuitbreaker.Config{Name: name, Timeout: time.Second})
	}
	idClient := clients.NewIdentityClient(identitySrv.URL, 2*time.Second, newBreaker("identity"))
	taskBoardClient := clients.NewTaskBoardClient(taskBoardSrv.URL, 2*time.Second, newBreaker("taskboard"))
	bankClient := clients.NewBankClient(bankSrv.URL, 2*time.Second, newBreaker("bank"))
	repClient := clients.NewReputationClient(repSrv.URL, 2*time.Second, newBreaker("reputation"))

	auth := NewAuthenticator(idClient)
	store := NewStore(db)

	_, posterKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, workerKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, platKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	svc := NewService(store, db, auth, taskBoardClient, bankClient, repClient, judges, events.NewEventBus(),
		"platform", platKey, 259200)

	return &disputeFixture{svc: svc, posterK: posterKey, workerK: workerKey, platKey: platKey, task: task}
}

func sign(t *testing.T, agentID string, priv ed25519.PrivateKey, payload map[string]any) string {
	t.Helper()
	tok, err := envelope.Sign(agentID, priv, payload)
	require.NoError(t, err)
	return tok
}

func TestFileDisputeByPosterSetsRespondentToWorker(t *testing.T) {
	ctx := context.Background()
	f := newDisputeFixture(t, nil)

	tok := sign(t, "poster-1", f.posterK, map[string]any{"action": "file_dispute", "task_id": "task-1", "claim": "work is incomplete"})
	d, apiErr := f.svc.FileDispute(ctx, tok)
	require.Nil(t, apiErr)
	assert.Equal(t, "poster-1", d.ClaimantID)
	assert.Equal(t, "worker-1", d.RespondentID)
	assert.Equal(t, StatusRebuttalPending, d.Status)
}

func TestFileDisputeRejectsUninvolvedSigner(t *testing.T) {
	ctx := context.Background()
	f := newDisputeFixture(t, nil)
	_, randomKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tok := sign(t, "bystander", randomKey, map[string]any{"action": "file_dispute", "task_id": "task-1", "claim": "x"})
	_, apiErr := f.svc.FileDispute(ctx, tok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
}

func TestSubmitRebuttalThenExecuteRulingSettlesInOrder(t *testing.T) {
	ctx := context.Background()
	f := newDisputeFixture(t, []JudgeClient{
		NewMockJudgeClient("judge-a", 70, "mostly delivered"),
		NewMockJudgeClient("judge-b", 90, "fully delivered"),
	})

	fileTok := sign(t, "poster-1", f.posterK, map[string]any{"action": "file_dispute", "task_id": "task-1", "claim": "incomplete"})
	d, apiErr := f.svc.FileDispute(ctx, fileTok)
	require.Nil(t, apiErr)

	rebuttalTok := sign(t, "worker-1", f.workerK, map[string]any{"action": "submit_rebuttal", "dispute_id": d.DisputeID, "rebuttal": "it was complete"})
	d, apiErr = f.svc.SubmitRebuttal(ctx, rebuttalTok)
	require.Nil(t, apiErr)
	require.NotNil(t, d.Rebuttal)

	execTok := sign(t, "platform", f.platKey, map[string]any{"action": "execute_ruling", "dispute_id": d.DisputeID})
	ruled, apiErr := f.svc.ExecuteRuling(ctx, execTok)
	require.Nil(t, apiErr)
	assert.Equal(t, StatusRuled, ruled.Status)
	require.NotNil(t, ruled.WorkerPct)
	assert.Equal(t, 90, *ruled.WorkerPct) // upper median of [70, 90]
}

func TestBeginJudgingGuardRejectsSecondConcurrentCaller(t *testing.T) {
	ctx := context.Background()
	f := newDisputeFixture(t, nil)

	fileTok := sign(t, "poster-1", f.posterK, map[string]any{"action": "file_dispute", "task_id": "task-1", "claim": "incomplete"})
	d, apiErr := f.svc.FileDispute(ctx, fileTok)
	require.Nil(t, apiErr)

	// Simulate two concurrent execute_ruling calls both having observed
	// rebuttal_pending: only the first guarded UPDATE may win.
	require.NoError(t, f.svc.db.Mutate(ctx, func(conn *sql.Conn) error {
		return f.svc.store.BeginJudging(ctx, conn, d.DisputeID)
	}))

	err := f.svc.db.Mutate(ctx, func(conn *sql.Conn) error {
		return f.svc.store.BeginJudging(ctx, conn, d.DisputeID)
	})
	require.ErrorIs(t, err, ErrNotReadyForRuling)
}

func TestExecuteRulingRevertsOnJudgeFailure(t *testing.T) {
	ctx := context.Background()
	f := newDisputeFixture(t, nil) // no judges configured -> JUDGE_UNAVAILABLE

	fileTok := sign(t, "poster-1", f.posterK, map[string]any{"action": "file_dispute", "task_id": "task-1", "claim": "incomplete"})
	d, apiErr := f.svc.FileDispute(ctx, fileTok)
	require.Nil(t, apiErr)

	execTok := sign(t, "platform", f.platKey, map[string]any{"action": "execute_ruling", "dispute_id": d.DisputeID})
	_, apiErr = f.svc.ExecuteRuling(ctx, execTok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "JUDGE_UNAVAILABLE", apiErr.Code)

	reverted, apiErr := f.svc.Get(ctx, d.DisputeID)
	require.Nil(t, apiErr)
	assert.Equal(t, StatusRebuttalPending, reverted.Status)
}

func TestSubmitRebuttalRejectsNonRespondent(t *testing.T) {
	ctx := context.Background()
	f := newDisputeFixture(t, nil)

	fileTok := sign(t, "poster-1", f.posterK, map[string]any{"action": "file_dispute", "task_id": "task-1", "claim": "incomplete"})
	d, apiErr := f.svc.FileDispute(ctx, fileTok)
	require.Nil(t, apiErr)

	tok := sign(t, "poster-1", f.posterK, map[string]any{"action": "submit_rebuttal", "dispute_id": d.DisputeID, "rebuttal": "..."})
	_, apiErr = f.svc.SubmitRebuttal(ctx, tok)
	require.NotNil(t, apiErr)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
}

func TestSubmitRebuttalRejectsSecondAttempt(t *testing.T) {
	ctx := context.Background()
	f := newDisputeFixture(t, nil)

	fileTok := sign(t, "poster-1", f.posterK, map[string]any{"action": "file_dispute", "task_id": "task-1", "claim": "incomplete"})
	d, apiErr := f.svc.FileDispute(ctx, fileTok)
	require.Nil(t, apiErr)

	first := sign(t, "worker-1", f.workerK, map[string]any{"action": "submit_rebuttal", "dispute_id": d.DisputeID, "rebuttal": "first"})
	_, apiErr = f.svc.SubmitRebuttal(ctx, first)
	require.Nil(t, apiErr)

	second := sign(t, "worker-1", f.workerK, map[string]any{"action": "submit_rebuttal", "dispute_id": d.DisputeID, "rebuttal": "second"})
	_, apiErr = f.svc.SubmitRebuttal(ctx, second)
	require.NotNil(t, apiErr)
	assert.Equal(t, "REBUTTAL_ALREADY_SUBMITTED", apiErr.Code)
}
