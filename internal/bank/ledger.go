package bank

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/clients"
)

// Service implements the Central Bank operations (spec.md §4.2).
type Service struct {
	store           *Store
	auth            *Authenticator
	identity        *clients.IdentityClient
	platformAgentID string
}

func NewService(store *Store, auth *Authenticator, identity *clients.IdentityClient, platformAgentID string) *Service {
	return &Service{store: store, auth: auth, identity: identity, platformAgentID: platformAgentID}
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// CreateAccount handles "create_account": platform may set an arbitrary
// non-negative initial balance; a self-serve agent always starts at 0.
func (s *Service) CreateAccount(ctx context.Context, token string) (*Account, *apperror.Error) {
	var payload CreateAccountPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, "create_account", &payload)
	if apiErr != nil {
		return nil, apiErr
	}

	accountID := payload.AccountID
	if accountID == "" {
		accountID = signerID
	}

	initialBalance := int64(0)
	if signerID == s.platformAgentID {
		if payload.InitialBalance < 0 {
			return nil, apperror.Code("INVALID_AMOUNT", "initial_balance must be non-negative")
		}
		found, apiErr := s.identity.GetAgent(ctx, accountID)
		if apiErr != nil {
			return nil, apiErr
		}
		if !found {
			return nil, apperror.Code("AGENT_NOT_FOUND", "no agent with that id")
		}
		initialBalance = payload.InitialBalance
	} else if accountID != signerID {
		return nil, apperror.Code("FORBIDDEN", "self-serve account creation may only create your own account")
	}

	var created Account
	err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		created = Account{AccountID: accountID, Balance: initialBalance, CreatedAt: now()}
		return s.store.InsertAccount(ctx, conn, created)
	})
	if err != nil {
		if errors.Is(err, ErrExists) {
			return nil, apperror.Code("ACCOUNT_EXISTS", "account already exists")
		}
		return nil, apperror.Internal(err)
	}
	return &created, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID, requesterID string) (*Account, *apperror.Error) {
	if requesterID != s.platformAgentID && requesterID != accountID {
		return nil, apperror.Code("FORBIDDEN", "only the account owner or platform may read this account")
	}
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.Code("ACCOUNT_NOT_FOUND", "no such account")
		}
		return nil, apperror.Internal(err)
	}
	return acc, nil
}

func (s *Service) ListTransactions(ctx context.Context, accountID, requesterID string) ([]Transaction, *apperror.Error) {
	if requesterID != s.platformAgentID && requesterID != accountID {
		return nil, apperror.Code("FORBIDDEN", "only the account owner or platform may read this account")
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.Code("ACCOUNT_NOT_FOUND", "no such account")
		}
		return nil, apperror.Internal(err)
	}
	txs, err := s.store.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return txs, nil
}

// Credit handles "credit": idempotent on (account_id, reference).
func (s *Service) Credit(ctx context.Context, token string) (*Transaction, *apperror.Error) {
	var payload CreditPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, "credit", &payload)
	if apiErr != nil {
		return nil, apiErr
	}
	if apiErr := AuthorizePlatformOnly(signerID, s.platformAgentID); apiErr != nil {
		return nil, apiErr
	}
	if payload.Amount <= 0 {
		return nil, apperror.Code("INVALID_AMOUNT", "amount must be positive")
	}

	var result Transaction
	var apiErrOut *apperror.Error
	err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		if existing, err := s.store.FindCreditByReference(ctx, conn, payload.AccountID, payload.Reference); err == nil {
			if existing.Amount != payload.Amount {
				apiErrOut = apperror.Code("PAYLOAD_MISMATCH", "reference already used with a different amount")
				return apiErrOut
			}
			result = *existing
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if _, err := s.store.GetAccountForUpdate(ctx, conn, payload.AccountID); err != nil {
			if errors.Is(err, ErrNotFound) {
				apiErrOut = apperror.Code("ACCOUNT_NOT_FOUND", "no such account")
				return apiErrOut
			}
			return err
		}

		balance, err := s.store.CreditBalance(ctx, conn, payload.AccountID, payload.Amount)
		if err != nil {
			return err
		}

		result = Transaction{
			TxID:         "tx-" + uuid.New().String(),
			AccountID:    payload.AccountID,
			Kind:         KindCredit,
			Amount:       payload.Amount,
			BalanceAfter: balance,
			Reference:    payload.Reference,
			Timestamp:    now(),
		}
		return s.store.InsertTransaction(ctx, conn, result)
	})
	if apiErrOut != nil {
		return nil, apiErrOut
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return &result, nil
}
