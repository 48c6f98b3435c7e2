package court

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingJudge struct{ id string }

func (f *failingJudge) ID() string { return f.id }
func (f *failingJudge) Vote(ctx context.Context, jctx JudgeContext) (*JudgeVote, error) {
	return nil, errors.New("judge offline")
}

// badJudge returns a vote without failing, letting tests drive
// collectVotes's own normalization/validation rather than its error path.
type badJudge struct {
	id        string
	workerPct int
	reasoning string
}

func (b *badJudge) ID() string { return b.id }
func (b *badJudge) Vote(ctx context.Context, jctx JudgeContext) (*JudgeVote, error) {
	return &JudgeVote{WorkerPct: b.workerPct, Reasoning: b.reasoning}, nil
}

func TestCollectVotesRequiresAllJudges(t *testing.T) {
	svc := &Service{judges: []JudgeClient{
		NewMockJudgeClient("judge-a", 80, "looks complete"),
		&failingJudge{id: "judge-b"},
	}}

	votes, apiErr := svc.collectVotes(context.Background(), JudgeContext{})
	require.Nil(t, votes)
	require.NotNil(t, apiErr)
	assert.Equal(t, "JUDGE_UNAVAILABLE", apiErr.Code)
}

func TestCollectVotesNoJudgesConfigured(t *testing.T) {
	svc := &Service{judges: nil}
	votes, apiErr := svc.collectVotes(context.Background(), JudgeContext{})
	require.Nil(t, votes)
	require.NotNil(t, apiErr)
	assert.Equal(t, "JUDGE_UNAVAILABLE", apiErr.Code)
}

func TestCollectVotesRejectsOutOfRangeWorkerPct(t *testing.T) {
	svc := &Service{judges: []JudgeClient{&badJudge{id: "judge-a", workerPct: -20, reasoning: "bad"}}}

	votes, apiErr := svc.collectVotes(context.Background(), JudgeContext{})
	require.Nil(t, votes)
	require.NotNil(t, apiErr)
	assert.Equal(t, "JUDGE_UNAVAILABLE", apiErr.Code)
}

func TestCollectVotesRejectsWorkerPctAboveHundred(t *testing.T) {
	svc := &Service{judges: []JudgeClient{&badJudge{id: "judge-a", workerPct: 150, reasoning: "bad"}}}

	votes, apiErr := svc.collectVotes(context.Background(), JudgeContext{})
	require.Nil(t, votes)
	require.NotNil(t, apiErr)
	assert.Equal(t, "JUDGE_UNAVAILABLE", apiErr.Code)
}

func TestCollectVotesRejectsEmptyReasoning(t *testing.T) {
	svc := &Service{judges: []JudgeClient{&badJudge{id: "judge-a", workerPct: 50, reasoning: ""}}}

	votes, apiErr := svc.collectVotes(context.Background(), JudgeContext{})
	require.Nil(t, votes)
	require.NotNil(t, apiErr)
	assert.Equal(t, "JUDGE_UNAVAILABLE", apiErr.Code)
}

func TestCollectVotesSucceedsWhenEveryJudgeAnswers(t *testing.T) {
	svc := &Service{judges: []JudgeClient{
		NewMockJudgeClient("judge-a", 80, "complete"),
		NewMockJudgeClient("judge-b", 60, "mostly complete"),
	}}

	votes, apiErr := svc.collectVotes(context.Background(), JudgeContext{Claim: "didn't deliver"})
	require.Nil(t, apiErr)
	require.Len(t, votes, 2)
	assert.Equal(t, "judge-a", votes[0].JudgeID)
	assert.Equal(t, 80, votes[0].WorkerPct)
	assert.NotEmpty(t, votes[0].VotedAt)
}
