package identitysvc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/envelope"
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Register creates a new agent. The public key format is validated up
// front ("ed25519:<base64-raw-32-bytes>", spec.md §4.1) so a malformed key
// never lands in the registry.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Agent, *apperror.Error) {
	if req.DisplayName == "" {
		return nil, apperror.Code("MISSING_FIELD", "display_name is required")
	}
	if _, err := envelope.DecodePublicKey(req.PublicKey); err != nil {
		return nil, apperror.Code("INVALID_PAYLOAD", "public_key must be ed25519:<base64 32 bytes>")
	}

	agent := Agent{
		AgentID:     "a-" + uuid.New().String(),
		DisplayName: req.DisplayName,
		PublicKey:   req.PublicKey,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.store.Insert(ctx, agent); err != nil {
		if errors.Is(err, ErrExists) {
			return nil, apperror.Code("AGENT_EXISTS", "an agent with this display_name or public_key is already registered")
		}
		return nil, apperror.Internal(err)
	}
	return &agent, nil
}

func (s *Service) Get(ctx context.Context, agentID string) (*Agent, *apperror.Error) {
	a, err := s.store.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.Code("AGENT_NOT_FOUND", "no agent with that id")
		}
		return nil, apperror.Internal(err)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context) ([]Agent, *apperror.Error) {
	agents, err := s.store.List(ctx)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return agents, nil
}

// Verify checks a compact signed envelope's structure and signature,
// looking the signing key up by the header's kid (spec.md §4.1/§6.1).
// Never returns an error for an invalid envelope — invalidity is reported
// in the response itself via Valid=false, per spec.md's "all yield
// valid=false with no payload disclosed."
func (s *Service) Verify(ctx context.Context, token string) (*VerifyResponse, *apperror.Error) {
	parsed, err := envelope.Parse(token)
	if err != nil {
		return &VerifyResponse{Valid: false}, nil
	}

	agent, lookupErr := s.store.Get(ctx, parsed.Header.Kid)
	if lookupErr != nil {
		return &VerifyResponse{Valid: false}, nil
	}

	pub, err := envelope.DecodePublicKey(agent.PublicKey)
	if err != nil {
		return &VerifyResponse{Valid: false}, nil
	}

	if err := parsed.Verify(pub); err != nil {
		return &VerifyResponse{Valid: false}, nil
	}

	var payload map[string]any
	if err := parsed.Unmarshal(&payload); err != nil {
		return &VerifyResponse{Valid: false}, nil
	}

	return &VerifyResponse{Valid: true, AgentID: agent.AgentID, Payload: payload}, nil
}
