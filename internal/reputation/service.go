package reputation

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/clients"
)

func decodePayload(payload map[string]any, dst any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// Service implements the feedback recorder. Only the platform agent signs
// submit_feedback envelopes (Court signs on the claimant's/worker's behalf,
// per spec.md §4.4: "Both records carry ... the platform as the signer").
type Service struct {
	store           *Store
	identity        *clients.IdentityClient
	platformAgentID string
}

func NewService(store *Store, identity *clients.IdentityClient, platformAgentID string) *Service {
	return &Service{store: store, identity: identity, platformAgentID: platformAgentID}
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// RecordFeedback handles "submit_feedback": verifies the envelope, checks
// the signer is the platform agent, validates category/rating/comment, and
// appends the ledger entry.
func (s *Service) RecordFeedback(ctx context.Context, token string) (*Feedback, *apperror.Error) {
	result, apiErr := s.identity.Verify(ctx, token)
	if apiErr != nil {
		return nil, apiErr
	}
	if !result.Valid {
		return nil, apperror.Code("INVALID_JWS", "envelope signature is invalid or unknown")
	}
	if result.AgentID != s.platformAgentID {
		return nil, apperror.Code("FORBIDDEN", "only the platform agent may record feedback")
	}

	var payload SubmitFeedbackPayload
	if err := decodePayload(result.Payload, &payload); err != nil {
		return nil, apperror.Code("INVALID_PAYLOAD", "envelope payload malformed")
	}
	if payload.Action != "submit_feedback" {
		return nil, apperror.Code("INVALID_PAYLOAD", "envelope action does not match endpoint")
	}
	if payload.AgentID == "" {
		return nil, apperror.Code("MISSING_FIELD", "agent_id is required")
	}
	switch payload.Category {
	case CategoryDeliveryQuality, CategorySpecQuality:
	default:
		return nil, apperror.Code("INVALID_CATEGORY", "category must be delivery_quality or spec_quality")
	}
	switch payload.Rating {
	case RatingExtremelySatisfied, RatingSatisfied, RatingDissatisfied:
	default:
		return nil, apperror.Code("INVALID_RATING", "rating must be a recognized categorical value")
	}
	if len(payload.Comment) > 10000 {
		return nil, apperror.Code("COMMENT_TOO_LONG", "comment exceeds 10000 characters")
	}

	f := Feedback{
		FeedbackID: "feedback-" + uuid.New().String(), AgentID: payload.AgentID, Category: payload.Category,
		Rating: payload.Rating, Comment: payload.Comment, SignerID: result.AgentID, CreatedAt: now(),
	}

	insertErr := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		return s.store.InsertFeedback(ctx, conn, f)
	})
	if insertErr != nil {
		return nil, apperror.Internal(insertErr)
	}
	return &f, nil
}

// ListForAgent returns an agent's feedback history (used by the read-only
// observatory aggregator and by operators inspecting a dispute's outcome).
func (s *Service) ListForAgent(ctx context.Context, agentID string) ([]Feedback, *apperror.Error) {
	entries, err := s.store.ListForAgent(ctx, agentID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return entries, nil
}
