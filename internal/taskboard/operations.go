package taskboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/agenteconomy/trustplane/internal/apperror"
)

// listBidsCacheTTL covers the sealed poster-only bid listing (SPEC_FULL §2).
const listBidsCacheTTL = taskCacheTTL

// CreateTask handles "create_task": validates the task payload, cross-
// validates the paired escrow_lock envelope, locks funds at Central Bank,
// then inserts the task row. A task-row insertion failure after a
// successful lock triggers a compensating escrow_release (spec.md §4.3).
func (s *Service) CreateTask(ctx context.Context, taskToken, escrowToken string) (*Task, *apperror.Error) {
	var taskPayload CreateTaskPayload
	posterID, apiErr := s.auth.Authenticate(ctx, taskToken, &taskPayload, "create_task")
	if apiErr != nil {
		return nil, apiErr
	}

	escrowSignerID, escrowPayload, apiErr := s.auth.VerifyOnly(ctx, escrowToken)
	if apiErr != nil {
		return nil, apiErr
	}
	raw, err := json.Marshal(escrowPayload)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	var lockPayload EscrowLockPayload
	if err := json.Unmarshal(raw, &lockPayload); err != nil {
		return nil, apperror.Code("INVALID_PAYLOAD", "escrow_token payload malformed")
	}
	if lockPayload.Action != "escrow_lock" {
		return nil, apperror.Code("INVALID_PAYLOAD", "escrow_token must carry action escrow_lock")
	}

	if escrowSignerID != posterID {
		return nil, apperror.Code("TOKEN_MISMATCH", "task_token and escrow_token must be signed by the same agent")
	}
	if lockPayload.TaskID != taskPayload.TaskID {
		return nil, apperror.Code("TOKEN_MISMATCH", "task_token and escrow_token must carry the same task_id")
	}
	if lockPayload.Amount != taskPayload.Reward {
		return nil, apperror.Code("TOKEN_MISMATCH", "escrow_token amount must equal reward")
	}

	if taskPayload.Reward <= 0 {
		return nil, apperror.Code("INVALID_REWARD", "reward must be positive")
	}
	if len(taskPayload.Title) > maxTitleLen {
		return nil, apperror.Code("TITLE_TOO_LONG", "title exceeds 200 characters")
	}
	if len(taskPayload.Spec) > maxSpecLen {
		return nil, apperror.Code("INVALID_PAYLOAD", "spec exceeds 10000 characters")
	}
	if taskPayload.BiddingDeadlineSec <= 0 || taskPayload.ExecutionDeadlineSec <= 0 || taskPayload.ReviewDeadlineSec <= 0 {
		return nil, apperror.Code("INVALID_DEADLINE", "all three deadlines must be positive")
	}
	if s.deadlines.MaxBiddingSec > 0 && taskPayload.BiddingDeadlineSec > s.deadlines.MaxBiddingSec {
		return nil, apperror.Code("INVALID_DEADLINE", "bidding_deadline_sec exceeds the configured ceiling")
	}
	if s.deadlines.MaxExecutionSec > 0 && taskPayload.ExecutionDeadlineSec > s.deadlines.MaxExecutionSec {
		return nil, apperror.Code("INVALID_DEADLINE", "execution_deadline_sec exceeds the configured ceiling")
	}
	if s.deadlines.MaxReviewSec > 0 && taskPayload.ReviewDeadlineSec > s.deadlines.MaxReviewSec {
		return nil, apperror.Code("INVALID_DEADLINE", "review_deadline_sec exceeds the configured ceiling")
	}

	if taskPayload.TaskID == "" {
		return nil, apperror.Code("INVALID_TASK_ID", "task_id is required")
	}

	if _, err := s.store.GetTask(ctx, taskPayload.TaskID); err == nil {
		return nil, apperror.Code("TASK_ALREADY_EXISTS", "a task with this task_id already exists")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, apperror.Internal(err)
	}

	escrow, apiErr := s.bank.EscrowLock(ctx, escrowToken)
	if apiErr != nil {
		return nil, apiErr
	}

	task := Task{
		TaskID: taskPayload.TaskID, PosterID: posterID, Title: taskPayload.Title, Spec: taskPayload.Spec,
		Reward: taskPayload.Reward, BiddingDeadlineSec: taskPayload.BiddingDeadlineSec,
		ExecutionDeadlineSec: taskPayload.ExecutionDeadlineSec, ReviewDeadlineSec: taskPayload.ReviewDeadlineSec,
		EscrowID: escrow.EscrowID, Status: StatusOpen, CreatedAt: now(),
	}

	insertErr := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.InsertTask(ctx, conn, task)
	})
	if insertErr != nil {
		err := insertErr
		// Compensate: the lock succeeded but the task row didn't land.
		if relErr := s.releaseEscrow(ctx, escrow.EscrowID, posterID); relErr != nil {
			return nil, apperror.Internal(errors.New("task insert failed and escrow compensation failed: " + relErr.Message))
		}
		if errors.Is(err, ErrExists) {
			return nil, apperror.Code("TASK_ALREADY_EXISTS", "a task with this task_id already exists")
		}
		return nil, apperror.Internal(err)
	}

	if s.bus != nil {
		s.bus.Emit("task_created", "task-board", task.TaskID, map[string]any{"poster_id": posterID})
	}
	return &task, nil
}

// CancelTask handles "cancel_task": poster-only, only while open; releases
// escrow back to the poster.
func (s *Service) CancelTask(ctx context.Context, token string) (*Task, *apperror.Error) {
	var payload CancelTaskPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, &payload, "cancel_task")
	if apiErr != nil {
		return nil, apiErr
	}

	t, apiErr := s.GetTask(ctx, payload.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}
	if signerID != t.PosterID {
		return nil, apperror.Code("FORBIDDEN", "only the poster may cancel this task")
	}
	if t.Status != StatusOpen {
		return nil, apperror.Code("INVALID_STATUS", "task must be open to cancel")
	}

	if apiErr := s.releaseEscrow(ctx, t.EscrowID, t.PosterID); apiErr != nil {
		return nil, apiErr
	}

	ts := now()
	t.Status = StatusCancelled
	t.CancelledAt = &ts
	if err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.UpdateTask(ctx, conn, *t)
	}); err != nil {
		return nil, apperror.Internal(err)
	}
	s.invalidateTask(ctx, t.TaskID)
	if s.bus != nil {
		s.bus.Emit("task_cancelled", "task-board", t.TaskID, nil)
	}
	return t, nil
}

// SubmitBid handles "submit_bid": bidder ≠ poster, task open, bidding
// deadline not passed, unique (task, bidder).
func (s *Service) SubmitBid(ctx context.Context, token string) (*Bid, *apperror.Error) {
	var payload SubmitBidPayload
	bidderID, apiErr := s.auth.Authenticate(ctx, token, &payload, "submit_bid")
	if apiErr != nil {
		return nil, apiErr
	}

	t, apiErr := s.GetTask(ctx, payload.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}
	if bidderID == t.PosterID {
		return nil, apperror.Code("SELF_BID", "poster may not bid on their own task")
	}
	if t.Status != StatusOpen {
		return nil, apperror.Code("INVALID_STATUS", "task is not accepting bids")
	}
	if payload.Amount <= 0 {
		return nil, apperror.Code("INVALID_AMOUNT", "amount must be positive")
	}

	bid := Bid{BidID: "bid-" + uuid.New().String(), TaskID: payload.TaskID, BidderID: bidderID, Amount: payload.Amount, SubmittedAt: now()}
	err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.InsertBid(ctx, conn, bid)
	})
	if err != nil {
		if errors.Is(err, ErrExists) {
			return nil, apperror.Code("BID_ALREADY_EXISTS", "this bidder has already bid on this task")
		}
		return nil, apperror.Internal(err)
	}
	s.invalidateTask(ctx, t.TaskID)
	if s.bus != nil {
		s.bus.Emit("bid_submitted", "task-board", t.TaskID, map[string]any{"bid_id": bid.BidID})
	}
	return &bid, nil
}

// ListBids lists bids on a task. Sealed during `open` — only the poster
// (identified via bearer envelope) may see them; public once bidding
// closes (spec.md §4.3). The sealed poster-only view is cached per
// SPEC_FULL §2; the public post-close view is cheap enough to always read
// straight from SQLite.
func (s *Service) ListBids(ctx context.Context, taskID string, bearerToken string) ([]Bid, *apperror.Error) {
	t, apiErr := s.GetTask(ctx, taskID)
	if apiErr != nil {
		return nil, apiErr
	}

	sealed := t.Status == StatusOpen
	if sealed {
		if bearerToken == "" {
			return nil, apperror.Code("FORBIDDEN", "bids are sealed while the task is open")
		}
		requesterID, _, apiErr := s.auth.VerifyOnly(ctx, bearerToken)
		if apiErr != nil {
			return nil, apiErr
		}
		if requesterID != t.PosterID {
			return nil, apperror.Code("FORBIDDEN", "bids are sealed while the task is open")
		}

		if s.cache != nil {
			if raw, err := s.cache.Get(ctx, "bids:"+taskID); err == nil && raw != nil {
				var cached []Bid
				if json.Unmarshal(raw, &cached) == nil {
					return cached, nil
				}
			}
		}
	}

	bids, err := s.store.ListBids(ctx, taskID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if sealed && s.cache != nil {
		if raw, err := json.Marshal(bids); err == nil {
			s.cache.Set(ctx, "bids:"+taskID, raw, listBidsCacheTTL)
		}
	}
	return bids, nil
}

// AcceptBid handles "accept_bid": poster-only, task open, bid must exist
// for the task.
func (s *Service) AcceptBid(ctx context.Context, token string) (*Task, *apperror.Error) {
	var payload AcceptBidPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, &payload, "accept_bid")
	if apiErr != nil {
		return nil, apiErr
	}

	t, apiErr := s.GetTask(ctx, payload.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}
	if signerID != t.PosterID {
		return nil, apperror.Code("FORBIDDEN", "only the poster may accept a bid")
	}
	if t.Status != StatusOpen {
		return nil, apperror.Code("INVALID_STATUS", "task is not open")
	}

	bid, err := s.store.GetBid(ctx, payload.BidID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.Code("BID_NOT_FOUND", "no such bid")
		}
		return nil, apperror.Internal(err)
	}
	if bid.TaskID != t.TaskID {
		return nil, apperror.Code("INVALID_PAYLOAD", "bid does not belong to this task")
	}

	ts := now()
	t.Status = StatusAccepted
	t.WorkerID = &bid.BidderID
	t.AcceptedBidID = &bid.BidID
	t.AcceptedAt = &ts
	if err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.UpdateTask(ctx, conn, *t)
	}); err != nil {
		return nil, apperror.Internal(err)
	}
	s.invalidateTask(ctx, t.TaskID)
	if s.bus != nil {
		s.bus.Emit("bid_accepted", "task-board", t.TaskID, map[string]any{"worker_id": bid.BidderID})
	}
	return t, nil
}

// SubmitDeliverable handles "submit_deliverable": worker-only, task
// accepted, at least one asset uploaded.
func (s *Service) SubmitDeliverable(ctx context.Context, token string) (*Task, *apperror.Error) {
	var payload SubmitDeliverablePayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, &payload, "submit_deliverable")
	if apiErr != nil {
		return nil, apiErr
	}

	t, apiErr := s.GetTask(ctx, payload.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}
	if t.WorkerID == nil || signerID != *t.WorkerID {
		return nil, apperror.Code("FORBIDDEN", "only the assigned worker may submit the deliverable")
	}
	if t.Status != StatusAccepted {
		return nil, apperror.Code("INVALID_STATUS", "task is not in the accepted state")
	}

	assets, err := s.store.ListAssets(ctx, t.TaskID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if len(assets) == 0 {
		return nil, apperror.Code("NO_ASSETS", "at least one asset must be uploaded before submission")
	}

	ts := now()
	t.Status = StatusSubmitted
	t.SubmittedAt = &ts
	if err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.UpdateTask(ctx, conn, *t)
	}); err != nil {
		return nil, apperror.Internal(err)
	}
	s.invalidateTask(ctx, t.TaskID)
	if s.bus != nil {
		s.bus.Emit("deliverable_submitted", "task-board", t.TaskID, nil)
	}
	return t, nil
}

// ApproveTask handles "approve_task": poster-only, task submitted; releases
// escrow to the worker.
func (s *Service) ApproveTask(ctx context.Context, token string) (*Task, *apperror.Error) {
	var payload ApproveTaskPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, &payload, "approve_task")
	if apiErr != nil {
		return nil, apiErr
	}

	t, apiErr := s.GetTask(ctx, payload.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}
	if signerID != t.PosterID {
		return nil, apperror.Code("FORBIDDEN", "only the poster may approve this task")
	}
	if t.Status != StatusSubmitted {
		return nil, apperror.Code("INVALID_STATUS", "task is not in the submitted state")
	}

	if apiErr := s.releaseEscrow(ctx, t.EscrowID, *t.WorkerID); apiErr != nil {
		return nil, apiErr
	}

	ts := now()
	t.Status = StatusApproved
	t.ApprovedAt = &ts
	if err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.UpdateTask(ctx, conn, *t)
	}); err != nil {
		return nil, apperror.Internal(err)
	}
	s.invalidateTask(ctx, t.TaskID)
	if s.bus != nil {
		s.bus.Emit("task_approved", "task-board", t.TaskID, nil)
	}
	return t, nil
}

// DisputeTask handles "dispute_task": poster-only, task submitted, reason
// 1..10000 chars.
func (s *Service) DisputeTask(ctx context.Context, token string) (*Task, *apperror.Error) {
	var payload DisputeTaskPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, &payload, "dispute_task")
	if apiErr != nil {
		return nil, apiErr
	}

	t, apiErr := s.GetTask(ctx, payload.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}
	if signerID != t.PosterID {
		return nil, apperror.Code("FORBIDDEN", "only the poster may dispute this task")
	}
	if t.Status != StatusSubmitted {
		return nil, apperror.Code("INVALID_STATUS", "task is not in the submitted state")
	}
	if len(payload.Reason) == 0 || len(payload.Reason) > maxReasonLen {
		return nil, apperror.Code("INVALID_REASON", "reason must be 1..10000 characters")
	}

	ts := now()
	t.Status = StatusDisputed
	t.DisputedAt = &ts
	t.DisputeReason = &payload.Reason
	if err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.UpdateTask(ctx, conn, *t)
	}); err != nil {
		return nil, apperror.Internal(err)
	}
	s.invalidateTask(ctx, t.TaskID)
	if s.bus != nil {
		s.bus.Emit("task_disputed", "task-board", t.TaskID, nil)
	}
	return t, nil
}

// RecordRuling handles "record_ruling" (also accepted as the legacy
// "submit_ruling" alias, spec.md §9). Platform-signed; escrow has already
// been split by Court before this call — this only commits the ruling
// fields and status on the task row.
func (s *Service) RecordRuling(ctx context.Context, token string) (*Task, *apperror.Error) {
	var payload RecordRulingPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, &payload, "record_ruling", "submit_ruling")
	if apiErr != nil {
		return nil, apiErr
	}
	if signerID != s.platformAgentID {
		return nil, apperror.Code("FORBIDDEN", "only the platform agent may record a ruling")
	}

	t, apiErr := s.GetTask(ctx, payload.TaskID)
	if apiErr != nil {
		return nil, apiErr
	}
	if t.Status != StatusDisputed {
		return nil, apperror.Code("INVALID_STATUS", "task is not in the disputed state")
	}
	if payload.WorkerPct < 0 || payload.WorkerPct > 100 {
		return nil, apperror.Code("INVALID_WORKER_PCT", "worker_pct must be between 0 and 100")
	}

	ts := now()
	t.Status = StatusRuled
	t.RuledAt = &ts
	t.RulingID = &payload.RulingID
	t.WorkerPct = &payload.WorkerPct
	t.RulingSummary = &payload.RulingSummary
	if err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.UpdateTask(ctx, conn, *t)
	}); err != nil {
		return nil, apperror.Internal(err)
	}
	s.invalidateTask(ctx, t.TaskID)
	if s.bus != nil {
		s.bus.Emit("task_ruled", "task-board", t.TaskID, map[string]any{"worker_pct": payload.WorkerPct})
	}
	return t, nil
}
