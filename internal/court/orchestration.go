package court

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/clients"
	"github.com/agenteconomy/trustplane/internal/envelope"
	"golang.org/x/crypto/ed25519"
)

// median computes the upper-median worker_pct of a vote set (spec.md §4.4:
// "tie-breaking: on an even-count list, the upper median, i.e. index n/2 of
// the sorted vector").
func median(votes []JudgeVote) int {
	pcts := make([]int, len(votes))
	for i, v := range votes {
		pcts[i] = v.WorkerPct
	}
	sort.Ints(pcts)
	return pcts[len(pcts)/2]
}

// summarize concatenates each judge's reasoning, blank-line separated, in
// the order votes were collected.
func summarize(votes []JudgeVote) string {
	parts := make([]string, len(votes))
	for i, v := range votes {
		parts[i] = fmt.Sprintf("[%s] %s", v.JudgeID, v.Reasoning)
	}
	return strings.Join(parts, "\n\n")
}

// workerRating and posterRating map a ruling's worker_pct to each party's feedback
// rating (spec.md §4.4 / SPEC_FULL §7 supplement). Worker rating is keyed
// on delivery_quality, poster on spec_quality — the two categories read the
// same percentage in opposite directions.
func workerRating(pct int) string {
	switch {
	case pct >= 80:
		return "extremely_satisfied"
	case pct >= 40:
		return "satisfied"
	default:
		return "dissatisfied"
	}
}

func posterRating(pct int) string {
	switch {
	case pct >= 80:
		return "dissatisfied"
	case pct >= 40:
		return "satisfied"
	default:
		return "extremely_satisfied"
	}
}

// ranSteps tracks which of execute_ruling's external effects completed, so
// a failure partway through reports precisely what happened without
// attempting to undo a downstream call that has no natural inverse
// (spec.md §9: "an orchestration object that records which downstream
// steps ran").
type ranSteps struct {
	escrowSplit      bool
	workerFeedback   bool
	posterFeedback   bool
	recordRuling     bool
}

// orchestrator drives execute_ruling's three external effects in the fixed
// order spec.md §4.4 requires: escrow_split, then feedback for both
// parties, then Task Board's record_ruling. Any failure is reported with
// the steps that already ran; the caller (Service.ExecuteRuling) is
// responsible for reverting the dispute itself to rebuttal_pending and
// deleting votes, since none of these three calls can be compensated in
// place (escrow_split and record_ruling are idempotent-guarded downstream,
// spec.md §5, so a subsequent retry of the whole ruling is safe).
type orchestrator struct {
	bank            *clients.BankClient
	reputation      *clients.ReputationClient
	taskBoard       *clients.TaskBoardClient
	platformAgentID string
	platformKey     ed25519.PrivateKey
}

func newOrchestrator(bank *clients.BankClient, reputation *clients.ReputationClient, taskBoard *clients.TaskBoardClient,
	platformAgentID string, platformKey ed25519.PrivateKey) *orchestrator {
	return &orchestrator{bank: bank, reputation: reputation, taskBoard: taskBoard, platformAgentID: platformAgentID, platformKey: platformKey}
}

func (o *orchestrator) sign(payload any) (string, error) {
	return envelope.Sign(o.platformAgentID, o.platformKey, payload)
}

// settle runs the three effects in order. On the first failure it stops and
// returns the error alongside the steps completed so far; the caller never
// retries a partially-run settle, it reverts dispute state and lets a fresh
// execute_ruling call start over.
func (o *orchestrator) settle(ctx context.Context, d Dispute, workerPct int, rulingSummary string) (ranSteps, *apperror.Error) {
	var steps ranSteps

	splitToken, err := o.sign(map[string]any{
		"action":            "escrow_split",
		"escrow_id":         d.EscrowID,
		"worker_account_id": d.WorkerID,
		"poster_account_id": d.PosterID,
		"worker_pct":        workerPct,
	})
	if err != nil {
		return steps, apperror.Internal(err)
	}
	if _, apiErr := o.bank.EscrowSplit(ctx, splitToken); apiErr != nil {
		return steps, apiErr
	}
	steps.escrowSplit = true

	workerToken, err := o.sign(map[string]any{
		"action":   "submit_feedback",
		"agent_id": d.WorkerID,
		"category": "delivery_quality",
		"rating":   workerRating(workerPct),
		"comment":  rulingSummary,
	})
	if err != nil {
		return steps, apperror.Internal(err)
	}
	if _, apiErr := o.reputation.RecordFeedback(ctx, workerToken); apiErr != nil {
		return steps, apiErr
	}
	steps.workerFeedback = true

	posterToken, err := o.sign(map[string]any{
		"action":   "submit_feedback",
		"agent_id": d.PosterID,
		"category": "spec_quality",
		"rating":   posterRating(workerPct),
		"comment":  rulingSummary,
	})
	if err != nil {
		return steps, apperror.Internal(err)
	}
	if _, apiErr := o.reputation.RecordFeedback(ctx, posterToken); apiErr != nil {
		return steps, apiErr
	}
	steps.posterFeedback = true

	rulingToken, err := o.sign(map[string]any{
		"action":         "record_ruling",
		"task_id":        d.TaskID,
		"ruling_id":      d.DisputeID,
		"worker_pct":     workerPct,
		"ruling_summary": rulingSummary,
	})
	if err != nil {
		return steps, apperror.Internal(err)
	}
	if apiErr := o.taskBoard.RecordRuling(ctx, rulingToken); apiErr != nil {
		return steps, apiErr
	}
	steps.recordRuling = true

	return steps, nil
}
