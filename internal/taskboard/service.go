package taskboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/cache"
	"github.com/agenteconomy/trustplane/internal/clients"
	"github.com/agenteconomy/trustplane/internal/envelope"
	"github.com/agenteconomy/trustplane/internal/events"
	"golang.org/x/crypto/ed25519"
)

// taskCacheTTL is deliberately short: the cache only needs to absorb a burst
// of get_task/list_bids reads, never to stay authoritative across a
// mutation. Every mutating operation invalidates its task's entry directly.
const taskCacheTTL = 5 * time.Second

const (
	maxTitleLen = 200
	maxSpecLen  = 10000
	maxReasonLen = 10000
)

// Deadlines caps the per-task deadline durations a poster may request;
// spec.md §6.4 describes these as per-service configured ceilings, not
// silent substitutions for an omitted value (the poster must always supply
// all three).
type Deadlines struct {
	MaxBiddingSec   int
	MaxExecutionSec int
	MaxReviewSec    int
}

// Service implements the Task Board state machine (spec.md §4.3).
type Service struct {
	store           *Store
	auth            *Authenticator
	bank            *clients.BankClient
	bus             *events.EventBus
	platformAgentID string
	platformKey     ed25519.PrivateKey
	deadlines       Deadlines
	maxAssets       int
	maxAssetBytes   int64
	storageRoot     string
	cache           *cache.Client
}

func NewService(store *Store, auth *Authenticator, bank *clients.BankClient, bus *events.EventBus,
	platformAgentID string, platformKey ed25519.PrivateKey, deadlines Deadlines, maxAssets int, maxAssetBytes int64,
	storageRoot string, redisCache *cache.Client) *Service {
	return &Service{
		store: store, auth: auth, bank: bank, bus: bus,
		platformAgentID: platformAgentID, platformKey: platformKey,
		deadlines: deadlines, maxAssets: maxAssets, maxAssetBytes: maxAssetBytes,
		storageRoot: storageRoot, cache: redisCache,
	}
}

// invalidateTask drops a task's cached read and its bid listing cache
// (accept_bid/submit_bid change what list_bids returns). Best-effort: a
// cache delete failure just means the next read serves a stale entry until
// TTL expiry, never a correctness problem.
func (s *Service) invalidateTask(ctx context.Context, taskID string) {
	if s.cache == nil {
		return
	}
	s.cache.Del(ctx, "task:"+taskID, "bids:"+taskID)
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func ptr[T any](v T) *T { return &v }

// signPlatform builds and signs a Central Bank envelope as the platform
// agent, used for the compensating and lazy-deadline escrow releases that
// Task Board — not the original poster — must authorize.
func (s *Service) signPlatform(payload any) (string, error) {
	return envelope.Sign(s.platformAgentID, s.platformKey, payload)
}

func (s *Service) releaseEscrow(ctx context.Context, escrowID, recipientID string) *apperror.Error {
	token, err := s.signPlatform(map[string]any{
		"action":       "escrow_release",
		"escrow_id":    escrowID,
		"recipient_id": recipientID,
	})
	if err != nil {
		return apperror.Internal(err)
	}
	if _, apiErr := s.bank.EscrowRelease(ctx, token); apiErr != nil {
		return apiErr
	}
	return nil
}

// evaluateDeadline applies spec.md §4.3's lazy deadline evaluation to t,
// performing any due side-effect (escrow release) inline within its own
// transaction, and returns the possibly-updated task. Terminal tasks pass
// through unchanged.
func (s *Service) evaluateDeadline(ctx context.Context, t *Task) (*Task, *apperror.Error) {
	if t.Status.Terminal() {
		return t, nil
	}

	nowT := time.Now().UTC()
	var dueStatus Status
	var recipient string

	switch t.Status {
	case StatusOpen:
		deadline := parseTime(t.CreatedAt).Add(time.Duration(t.BiddingDeadlineSec) * time.Second)
		if nowT.After(deadline) {
			dueStatus, recipient = StatusExpired, t.PosterID
		}
	case StatusAccepted:
		deadline := parseTime(*t.AcceptedAt).Add(time.Duration(t.ExecutionDeadlineSec) * time.Second)
		if nowT.After(deadline) {
			dueStatus, recipient = StatusExpired, t.PosterID
		}
	case StatusSubmitted:
		deadline := parseTime(*t.SubmittedAt).Add(time.Duration(t.ReviewDeadlineSec) * time.Second)
		if nowT.After(deadline) {
			dueStatus, recipient = StatusApproved, *t.WorkerID
		}
	}

	if dueStatus == "" {
		return t, nil
	}

	if apiErr := s.releaseEscrow(ctx, t.EscrowID, recipient); apiErr != nil {
		return nil, apiErr
	}

	ts := now()
	updated := *t
	updated.Status = dueStatus
	switch dueStatus {
	case StatusExpired:
		updated.ExpiredAt = &ts
	case StatusApproved:
		updated.ApprovedAt = &ts
	}

	err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.UpdateTask(ctx, conn, updated)
	})
	if err != nil {
		return nil, apperror.Internal(err)
	}
	s.invalidateTask(ctx, updated.TaskID)
	if s.bus != nil {
		s.bus.Emit(string(dueStatus), "task-board", updated.TaskID, map[string]any{"reason": "deadline"})
	}
	return &updated, nil
}

// fetchTask reads a task, consulting the Redis read cache first when
// configured (SPEC_FULL §2: "Task Board uses Redis ... for list_bids/
// get_task read load"). A cache hit is still subject to evaluateDeadline,
// so a stale cached status never outlives its deadline unnoticed.
func (s *Service) fetchTask(ctx context.Context, taskID string) (*Task, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, "task:"+taskID); err == nil && raw != nil {
			var t Task
			if json.Unmarshal(raw, &t) == nil {
				return &t, nil
			}
		}
	}
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(t); err == nil {
			s.cache.Set(ctx, "task:"+taskID, raw, taskCacheTTL)
		}
	}
	return t, nil
}

// GetTask fetches a task and applies lazy deadline evaluation.
func (s *Service) GetTask(ctx context.Context, taskID string) (*Task, *apperror.Error) {
	t, err := s.fetchTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.Code("TASK_NOT_FOUND", "no such task")
		}
		return nil, apperror.Internal(err)
	}
	return s.evaluateDeadline(ctx, t)
}

// ListAssets returns a task's uploaded deliverables (public read, used by
// Court to build judge context as well as by task participants).
func (s *Service) ListAssets(ctx context.Context, taskID string) ([]Asset, *apperror.Error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.Code("TASK_NOT_FOUND", "no such task")
		}
		return nil, apperror.Internal(err)
	}
	assets, err := s.store.ListAssets(ctx, taskID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return assets, nil
}

// ListTasks fetches all tasks, applying lazy deadline evaluation to each.
func (s *Service) ListTasks(ctx context.Context) ([]Task, *apperror.Error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	out := make([]Task, 0, len(tasks))
	for i := range tasks {
		t, apiErr := s.evaluateDeadline(ctx, &tasks[i])
		if apiErr != nil {
			return nil, apiErr
		}
		out = append(out, *t)
	}
	return out, nil
}
