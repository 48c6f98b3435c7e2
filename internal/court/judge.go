package court

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/circuitbreaker"
)

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// JudgeClient is the pluggable evaluator contract (spec.md §4.4/GLOSSARY):
// given a dispute's context, return a normalized vote or a judge-specific
// error. Grounded on the teacher's jury-client interface shape (one
// `Vote(ctx, input) (*Vote, error)` method per juror, called independently
// and isolated from sibling failures by the caller).
type JudgeClient interface {
	ID() string
	Vote(ctx context.Context, jctx JudgeContext) (*JudgeVote, error)
}

// HTTPJudgeClient calls an externally configured judge endpoint. Wrapped in
// its own circuit breaker slot so one unreachable judge does not affect
// calls to the others (spec.md §4.4, "Judge exceptions are caught
// per-judge").
type HTTPJudgeClient struct {
	id      string
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewHTTPJudgeClient(id, baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *HTTPJudgeClient {
	return &HTTPJudgeClient{id: id, baseURL: baseURL, http: &http.Client{Timeout: timeout}, breaker: breaker}
}

func (c *HTTPJudgeClient) ID() string { return c.id }

func (c *HTTPJudgeClient) Vote(ctx context.Context, jctx JudgeContext) (*JudgeVote, error) {
	raw, err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		body, _ := json.Marshal(jctx)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/vote", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		if resp.StatusCode >= 300 {
			return nil, apperror.Code("JUDGE_UNAVAILABLE", "judge returned a non-success status")
		}
		var vote JudgeVote
		if err := json.NewDecoder(resp.Body).Decode(&vote); err != nil {
			return nil, err
		}
		return &vote, nil
	})
	if err != nil {
		return nil, err
	}
	return raw.(*JudgeVote), nil
}

// MockJudgeClient is an in-process judge used for demo wiring and tests
// (spec.md doesn't mandate real judge infrastructure; SPEC_FULL §1 keeps
// model-runtime-backed judges out of scope). It always votes the
// configured worker_pct. Grounded on the teacher's MockJuryClient — same
// role, deterministic canned response standing in for a live evaluator.
type MockJudgeClient struct {
	id        string
	workerPct int
	reasoning string
}

func NewMockJudgeClient(id string, workerPct int, reasoning string) *MockJudgeClient {
	return &MockJudgeClient{id: id, workerPct: workerPct, reasoning: reasoning}
}

func (m *MockJudgeClient) ID() string { return m.id }

func (m *MockJudgeClient) Vote(ctx context.Context, jctx JudgeContext) (*JudgeVote, error) {
	return &JudgeVote{JudgeID: m.id, WorkerPct: m.workerPct, Reasoning: m.reasoning, VotedAt: now()}, nil
}
