package court

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ed25519"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/clients"
	"github.com/agenteconomy/trustplane/internal/dbkit"
	"github.com/agenteconomy/trustplane/internal/events"
)

const maxClaimLen = 10000

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// Service implements the dispute orchestrator (spec.md §4.4).
type Service struct {
	store           *Store
	db              *dbkit.DB
	auth            *Authenticator
	taskBoard       *clients.TaskBoardClient
	judges          []JudgeClient
	orch            *orchestrator
	bus             *events.EventBus
	platformAgentID string
	rebuttalSec     int
}

func NewService(store *Store, db *dbkit.DB, auth *Authenticator, taskBoard *clients.TaskBoardClient,
	bank *clients.BankClient, reputation *clients.ReputationClient, judges []JudgeClient, bus *events.EventBus,
	platformAgentID string, platformKey ed25519.PrivateKey, rebuttalSec int) *Service {
	return &Service{
		store: store, db: db, auth: auth, taskBoard: taskBoard, judges: judges, bus: bus,
		orch:            newOrchestrator(bank, reputation, taskBoard, platformAgentID, platformKey),
		platformAgentID: platformAgentID,
		rebuttalSec:     rebuttalSec,
	}
}

// Get fetches a dispute by ID.
func (s *Service) Get(ctx context.Context, disputeID string) (*Dispute, *apperror.Error) {
	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.Code("DISPUTE_NOT_FOUND", "no such dispute")
		}
		return nil, apperror.Internal(err)
	}
	return d, nil
}

// FileDispute handles "file_dispute": either the poster or the worker of a
// task may open a dispute (spec.md §4.4). Court fetches the task from Task
// Board to resolve poster/worker/escrow, since the envelope itself only
// names the task and a claim.
func (s *Service) FileDispute(ctx context.Context, token string) (*Dispute, *apperror.Error) {
	var payload FileDisputePayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, &payload, "file_dispute")
	if apiErr != nil {
		return nil, apiErr
	}
	if payload.TaskID == "" {
		return nil, apperror.Code("MISSING_FIELD", "task_id is required")
	}
	if payload.Claim == "" || len(payload.Claim) > maxClaimLen {
		return nil, apperror.Code("INVALID_REASON", "claim must be 1-10000 characters")
	}

	task, apiErr := s.taskBoard.GetTask(ctx, payload.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}
	if task.WorkerID == nil {
		return nil, apperror.Code("INVALID_STATUS", "task has no assigned worker to dispute")
	}
	if signerID != task.PosterID && signerID != *task.WorkerID {
		return nil, apperror.Code("FORBIDDEN", "only the task's poster or worker may file a dispute")
	}

	respondent := task.PosterID
	if signerID == task.PosterID {
		respondent = *task.WorkerID
	}

	filedAt := now()
	deadline := time.Now().UTC().Add(time.Duration(s.rebuttalSec) * time.Second).Format(time.RFC3339)

	d := Dispute{
		DisputeID:        "dispute-" + uuid.New().String(),
		TaskID:           payload.TaskID,
		ClaimantID:       signerID,
		RespondentID:     respondent,
		PosterID:         task.PosterID,
		WorkerID:         *task.WorkerID,
		Claim:            payload.Claim,
		EscrowID:         task.EscrowID,
		Status:           StatusRebuttalPending,
		FiledAt:          filedAt,
		RebuttalDeadline: deadline,
	}

	err := s.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.InsertDispute(ctx, conn, d)
	})
	if err != nil {
		if errors.Is(err, ErrExists) {
			return nil, apperror.Code("DISPUTE_ALREADY_EXISTS", "a dispute already exists for this task")
		}
		return nil, apperror.Internal(err)
	}

	if s.bus != nil {
		s.bus.Emit("dispute.filed", "court", d.DisputeID, map[string]any{"task_id": d.TaskID})
	}
	return &d, nil
}

// SubmitRebuttal handles "submit_rebuttal": the respondent's one-shot
// response, accepted only while the dispute is rebuttal_pending.
func (s *Service) SubmitRebuttal(ctx context.Context, token string) (*Dispute, *apperror.Error) {
	var payload SubmitRebuttalPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, &payload, "submit_rebuttal")
	if apiErr != nil {
		return nil, apiErr
	}
	if payload.DisputeID == "" {
		return nil, apperror.Code("MISSING_FIELD", "dispute_id is required")
	}
	if payload.Rebuttal == "" || len(payload.Rebuttal) > maxClaimLen {
		return nil, apperror.Code("INVALID_REASON", "rebuttal must be 1-10000 characters")
	}

	var result Dispute
	var apiErrOut *apperror.Error
	err := s.db.Mutate(ctx, func(conn *sql.Conn) error {
		d, err := s.store.GetDisputeTx(ctx, conn, payload.DisputeID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				apiErrOut = apperror.Code("DISPUTE_NOT_FOUND", "no such dispute")
				return apiErrOut
			}
			return err
		}
		if signerID != d.RespondentID {
			apiErrOut = apperror.Code("FORBIDDEN", "only the respondent may submit a rebuttal")
			return apiErrOut
		}
		if d.Status != StatusRebuttalPending {
			apiErrOut = apperror.Code("INVALID_DISPUTE_STATUS", "dispute is not awaiting a rebuttal")
			return apiErrOut
		}
		if d.Rebuttal != nil {
			apiErrOut = apperror.Code("REBUTTAL_ALREADY_SUBMITTED", "a rebuttal was already submitted")
			return apiErrOut
		}

		rebuttal := payload.Rebuttal
		d.Rebuttal = &rebuttal
		if err := s.store.UpdateDispute(ctx, conn, *d); err != nil {
			return err
		}
		result = *d
		return nil
	})
	if err != nil {
		if apiErrOut != nil {
			return nil, apiErrOut
		}
		return nil, apperror.Internal(err)
	}
	return &result, nil
}

// ExecuteRuling handles "execute_ruling": platform-signed, invokes every
// configured judge, computes the ruling, and runs the three-effect
// settlement in order. Any failure — a judge that does not answer, or a
// downstream rejection during settlement — reverts the dispute to
// rebuttal_pending and deletes any votes recorded this attempt, so the
// ruling is never partially visible (spec.md §4.4).
func (s *Service) ExecuteRuling(ctx context.Context, token string) (*Dispute, *apperror.Error) {
	var payload ExecuteRulingPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, &payload, "execute_ruling")
	if apiErr != nil {
		return nil, apiErr
	}
	if apiErr := AuthorizePlatformOnly(signerID, s.platformAgentID); apiErr != nil {
		return nil, apiErr
	}
	if payload.DisputeID == "" {
		return nil, apperror.Code("MISSING_FIELD", "dispute_id is required")
	}

	d, err := s.store.GetDispute(ctx, payload.DisputeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.Code("DISPUTE_NOT_FOUND", "no such dispute")
		}
		return nil, apperror.Internal(err)
	}
	if d.Status == StatusRuled {
		return nil, apperror.Code("DISPUTE_ALREADY_RULED", "dispute has already been ruled")
	}
	if d.Status != StatusRebuttalPending {
		return nil, apperror.Code("INVALID_DISPUTE_STATUS", "dispute is not ready for ruling")
	}

	task, apiErr := s.taskBoard.GetTask(ctx, d.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}
	deliverables, apiErr := s.taskBoard.ListAssetFilenames(ctx, d.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}

	rebuttal := ""
	if d.Rebuttal != nil {
		rebuttal = *d.Rebuttal
	}
	jctx := JudgeContext{TaskSpec: task.Spec, Deliverables: deliverables, Claim: d.Claim, Rebuttal: rebuttal}

	// Guarded rebuttal_pending -> judging transition: two concurrent
	// execute_ruling calls on the same dispute can only have one win this
	// race, closing the compare-then-write window the prior blind UPDATE left
	// open.
	if err := s.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.BeginJudging(ctx, conn, d.DisputeID)
	}); err != nil {
		if errors.Is(err, ErrNotReadyForRuling) {
			return nil, apperror.Code("INVALID_DISPUTE_STATUS", "dispute is not ready for ruling")
		}
		return nil, apperror.Internal(err)
	}
	d.Status = StatusJudging

	votes, judgeErr := s.collectVotes(ctx, jctx)
	if judgeErr != nil {
		s.revertToRebuttal(ctx, d)
		return nil, judgeErr
	}

	workerPct := median(votes)
	rulingSummary := summarize(votes)

	steps, apiErr := s.orch.settle(ctx, *d, workerPct, rulingSummary)
	if apiErr != nil {
		s.revertToRebuttal(ctx, d)
		if s.bus != nil {
			s.bus.Emit("dispute.ruling_failed", "court", d.DisputeID, map[string]any{
				"escrow_split":    steps.escrowSplit,
				"worker_feedback": steps.workerFeedback,
				"poster_feedback": steps.posterFeedback,
				"record_ruling":   steps.recordRuling,
				"error":           apiErr.Code,
			})
		}
		return nil, apiErr
	}

	ruledAt := now()
	d.Status = StatusRuled
	d.RuledAt = &ruledAt
	d.WorkerPct = &workerPct
	d.RulingSummary = &rulingSummary

	if err := s.db.Mutate(ctx, func(conn *sql.Conn) error {
		if err := s.store.UpdateDispute(ctx, conn, *d); err != nil {
			return err
		}
		for _, v := range votes {
			if err := s.store.InsertVote(ctx, conn, Vote{
				VoteID: "vote-" + uuid.New().String(), DisputeID: d.DisputeID,
				JudgeID: v.JudgeID, WorkerPct: v.WorkerPct, Reasoning: v.Reasoning, VotedAt: v.VotedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, apperror.Internal(err)
	}

	if s.bus != nil {
		s.bus.Emit("dispute.ruled", "court", d.DisputeID, map[string]any{"worker_pct": workerPct})
	}
	return d, nil
}

// collectVotes invokes every configured judge. A single judge's failure is
// isolated from the others (spec.md §4.4, "Judge exceptions are caught
// per-judge") but since a ruling needs every configured judge's input to be
// comparable and fair (SPEC_FULL §8), any judge failure still fails the
// whole ruling — callers see JUDGE_UNAVAILABLE rather than a
// silently-smaller quorum. Each vote is normalized and validated the same
// way: worker_pct must be in [0,100] and reasoning must be non-empty, or the
// judge is treated as unavailable.
func (s *Service) collectVotes(ctx context.Context, jctx JudgeContext) ([]JudgeVote, *apperror.Error) {
	if len(s.judges) == 0 {
		return nil, apperror.Code("JUDGE_UNAVAILABLE", "no judges are configured")
	}

	votes := make([]JudgeVote, 0, len(s.judges))
	for _, j := range s.judges {
		v, err := j.Vote(ctx, jctx)
		if err != nil {
			return nil, apperror.Code("JUDGE_UNAVAILABLE", "judge "+j.ID()+" did not return a vote")
		}
		if v.WorkerPct < 0 || v.WorkerPct > 100 {
			return nil, apperror.Code("JUDGE_UNAVAILABLE", "judge "+j.ID()+" returned an out-of-range worker_pct")
		}
		if v.Reasoning == "" {
			return nil, apperror.Code("JUDGE_UNAVAILABLE", "judge "+j.ID()+" returned empty reasoning")
		}
		v.JudgeID = j.ID()
		if v.VotedAt == "" {
			v.VotedAt = now()
		}
		votes = append(votes, *v)
	}
	return votes, nil
}

func (s *Service) revertToRebuttal(ctx context.Context, d *Dispute) {
	reverted := *d
	reverted.Status = StatusRebuttalPending
	s.db.Mutate(ctx, func(conn *sql.Conn) error {
		if err := s.store.DeleteVotes(ctx, conn, reverted.DisputeID); err != nil {
			return err
		}
		return s.store.UpdateDispute(ctx, conn, reverted)
	})
}
