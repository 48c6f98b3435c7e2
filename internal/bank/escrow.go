package bank

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/agenteconomy/trustplane/internal/apperror"
)

// Lock handles "escrow_lock": debits the payer and inserts the escrow row
// and an escrow_lock transaction in one database transaction. Idempotent on
// (payer, task_id) with an identical amount (spec.md §4.2).
func (s *Service) Lock(ctx context.Context, token string) (*Escrow, *apperror.Error) {
	var payload EscrowLockPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, "escrow_lock", &payload)
	if apiErr != nil {
		return nil, apiErr
	}
	if payload.AccountID != signerID {
		return nil, apperror.Code("FORBIDDEN", "escrow_lock must be signed by the payer")
	}
	if payload.Amount <= 0 {
		return nil, apperror.Code("INVALID_AMOUNT", "amount must be positive")
	}

	var result Escrow
	var apiErrOut *apperror.Error
	err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		if existing, err := s.store.FindLockedEscrowByPayerTask(ctx, conn, payload.AccountID, payload.TaskID); err == nil {
			if existing.Amount != payload.Amount {
				apiErrOut = apperror.Code("ESCROW_ALREADY_LOCKED", "a locked escrow for this payer/task already exists with a different amount")
				return apiErrOut
			}
			result = *existing
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		balance, err := s.store.DebitIfSufficient(ctx, conn, payload.AccountID, payload.Amount)
		if err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				apiErrOut = apperror.Code("INSUFFICIENT_FUNDS", "payer account balance is insufficient")
				return apiErrOut
			}
			if errors.Is(err, ErrNotFound) {
				apiErrOut = apperror.Code("ACCOUNT_NOT_FOUND", "no such account")
				return apiErrOut
			}
			return err
		}

		result = Escrow{
			EscrowID:       "esc-" + uuid.New().String(),
			PayerAccountID: payload.AccountID,
			Amount:         payload.Amount,
			TaskID:         payload.TaskID,
			Status:         EscrowLocked,
			CreatedAt:      now(),
		}
		if err := s.store.InsertEscrow(ctx, conn, result); err != nil {
			return err
		}

		tx := Transaction{
			TxID:         "tx-" + uuid.New().String(),
			AccountID:    payload.AccountID,
			Kind:         KindEscrowLock,
			Amount:       payload.Amount,
			BalanceAfter: balance,
			Reference:    result.EscrowID,
			Timestamp:    now(),
		}
		return s.store.InsertTransaction(ctx, conn, tx)
	})
	if apiErrOut != nil {
		return nil, apiErrOut
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return &result, nil
}

// Release handles "escrow_release": platform-only, credits the recipient
// the full escrow amount, flips the escrow to released guarded on
// status='locked' (spec.md §4.2).
func (s *Service) Release(ctx context.Context, token string) (*Escrow, *apperror.Error) {
	var payload EscrowReleasePayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, "escrow_release", &payload)
	if apiErr != nil {
		return nil, apiErr
	}
	if apiErr := AuthorizePlatformOnly(signerID, s.platformAgentID); apiErr != nil {
		return nil, apiErr
	}

	var result Escrow
	var apiErrOut *apperror.Error
	err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		escrow, err := s.store.GetEscrowTx(ctx, conn, payload.EscrowID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				apiErrOut = apperror.Code("ESCROW_NOT_FOUND", "no such escrow")
				return apiErrOut
			}
			return err
		}

		if err := s.store.ResolveEscrow(ctx, conn, payload.EscrowID, EscrowReleased, now()); err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				apiErrOut = apperror.Code("ESCROW_ALREADY_RESOLVED", "escrow was already released or split")
				return apiErrOut
			}
			return err
		}

		balance, err := s.store.CreditBalance(ctx, conn, payload.RecipientID, escrow.Amount)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				apiErrOut = apperror.Code("ACCOUNT_NOT_FOUND", "no such recipient account")
				return apiErrOut
			}
			return err
		}

		tx := Transaction{
			TxID:         "tx-" + uuid.New().String(),
			AccountID:    payload.RecipientID,
			Kind:         KindEscrowRelease,
			Amount:       escrow.Amount,
			BalanceAfter: balance,
			Reference:    escrow.EscrowID,
			Timestamp:    now(),
		}
		if err := s.store.InsertTransaction(ctx, conn, tx); err != nil {
			return err
		}

		escrow.Status = EscrowReleased
		result = *escrow
		return nil
	})
	if apiErrOut != nil {
		return nil, apiErrOut
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return &result, nil
}

// Split handles "escrow_split": platform-only, worker receives
// floor(amount * worker_pct / 100), poster receives the remainder, both
// credits and the status flip to split happen in one transaction guarded
// on status='locked' (spec.md §4.2).
func (s *Service) Split(ctx context.Context, token string) (*Escrow, *apperror.Error) {
	var payload EscrowSplitPayload
	signerID, apiErr := s.auth.Authenticate(ctx, token, "escrow_split", &payload)
	if apiErr != nil {
		return nil, apiErr
	}
	if apiErr := AuthorizePlatformOnly(signerID, s.platformAgentID); apiErr != nil {
		return nil, apiErr
	}
	if payload.WorkerPct < 0 || payload.WorkerPct > 100 {
		return nil, apperror.Code("INVALID_WORKER_PCT", "worker_pct must be between 0 and 100")
	}

	var result Escrow
	var apiErrOut *apperror.Error
	err := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		escrow, err := s.store.GetEscrowTx(ctx, conn, payload.EscrowID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				apiErrOut = apperror.Code("ESCROW_NOT_FOUND", "no such escrow")
				return apiErrOut
			}
			return err
		}
		if payload.PosterAccount != escrow.PayerAccountID {
			apiErrOut = apperror.Code("PAYLOAD_MISMATCH", "poster_account_id must match the original payer")
			return apiErrOut
		}

		if err := s.store.ResolveEscrow(ctx, conn, payload.EscrowID, EscrowSplit, now()); err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				apiErrOut = apperror.Code("ESCROW_ALREADY_RESOLVED", "escrow was already released or split")
				return apiErrOut
			}
			return err
		}

		workerShare := escrow.Amount * int64(payload.WorkerPct) / 100
		posterShare := escrow.Amount - workerShare

		if workerShare > 0 {
			balance, err := s.store.CreditBalance(ctx, conn, payload.WorkerAccount, workerShare)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					apiErrOut = apperror.Code("ACCOUNT_NOT_FOUND", "no such worker account")
					return apiErrOut
				}
				return err
			}
			if err := s.store.InsertTransaction(ctx, conn, Transaction{
				TxID: "tx-" + uuid.New().String(), AccountID: payload.WorkerAccount,
				Kind: KindEscrowRelease, Amount: workerShare, BalanceAfter: balance,
				Reference: escrow.EscrowID, Timestamp: now(),
			}); err != nil {
				return err
			}
		}

		if posterShare > 0 {
			balance, err := s.store.CreditBalance(ctx, conn, payload.PosterAccount, posterShare)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					apiErrOut = apperror.Code("ACCOUNT_NOT_FOUND", "no such poster account")
					return apiErrOut
				}
				return err
			}
			if err := s.store.InsertTransaction(ctx, conn, Transaction{
				TxID: "tx-" + uuid.New().String(), AccountID: payload.PosterAccount,
				Kind: KindEscrowRelease, Amount: posterShare, BalanceAfter: balance,
				Reference: escrow.EscrowID, Timestamp: now(),
			}); err != nil {
				return err
			}
		}

		escrow.Status = EscrowSplit
		result = *escrow
		return nil
	})
	if apiErrOut != nil {
		return nil, apiErrOut
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return &result, nil
}

func (s *Service) GetEscrow(ctx context.Context, escrowID string) (*Escrow, *apperror.Error) {
	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.Code("ESCROW_NOT_FOUND", "no such escrow")
		}
		return nil, apperror.Internal(err)
	}
	return e, nil
}
