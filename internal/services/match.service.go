package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/internal/repository"
	"github.com/fakturo/payment-engine/pkg/logger"
)

var (
	// ErrAmountExceedsOutstanding - the requested amount would over-pay the invoice.
	ErrAmountExceedsOutstanding = errors.New("amount exceeds invoice outstanding")
	// ErrAmountExceedsTransaction - the requested amount would over-spend the transaction.
	ErrAmountExceedsTransaction = errors.New("amount exceeds transaction remaining")
	// ErrCurrencyMismatch - transaction and invoice carry different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// MatchService owns the operator side of the ledger: manual matches,
// unmatching and the reconciliation summary. Conservation is enforced on
// both sides of every write: a transaction never applies more than its
// amount across all its matches, an invoice never receives more than its
// outstanding.
type MatchService struct {
	txnRepo   TransactionRepository
	invoices  InvoiceDirectory
	matchRepo MatchRepository
	tx        Transactor
}

func NewMatchService(txnRepo TransactionRepository, invoices InvoiceDirectory, matchRepo MatchRepository, tx Transactor) *MatchService {
	return &MatchService{
		txnRepo:   txnRepo,
		invoices:  invoices,
		matchRepo: matchRepo,
		tx:        tx,
	}
}

// ManualMatch records an operator decision. When no amount is given the
// service applies the most both sides allow: the lesser of the
// transaction's unapplied remainder and the invoice's outstanding.
func (s *MatchService) ManualMatch(ctx context.Context, req model.ManualMatchRequest) (*model.Match, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	txn, err := s.txnRepo.Get(ctx, req.TransactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	inv, err := s.invoices.Get(ctx, req.InvoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if txn.Currency != inv.Currency {
		return nil, ErrCurrencyMismatch
	}

	applied, err := s.matchRepo.SumAppliedForTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	remaining := txn.Amount.Sub(applied)
	if !remaining.IsPositive() {
		return nil, ErrAmountExceedsTransaction
	}

	var amount decimal.Decimal
	if req.Amount != nil {
		amount = *req.Amount
		if amount.GreaterThan(remaining) {
			return nil, ErrAmountExceedsTransaction
		}
		if amount.GreaterThan(inv.Outstanding) {
			return nil, ErrAmountExceedsOutstanding
		}
	} else {
		amount = decimal.Min(remaining, inv.Outstanding)
		if !amount.IsPositive() {
			return nil, ErrAmountExceedsOutstanding
		}
	}

	var created *model.Match
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.invoices.ApplyPayment(ctx, inv.ID, amount); err != nil {
			if errors.Is(err, repository.ErrInsufficientOutstanding) {
				return ErrAmountExceedsOutstanding
			}
			return fmt.Errorf("apply payment: %w", err)
		}

		details, _ := json.Marshal(map[string]any{
			"invoice_number": inv.InvoiceNumber,
		})
		m, err := s.matchRepo.Create(ctx, &model.Match{
			TransactionID: txn.ID,
			InvoiceID:     inv.ID,
			Applied:       amount,
			Confidence:    1.0,
			Source:        model.DecisionManual,
			CreatedBy:     req.CreatedBy,
			Details:       details,
		})
		if err != nil {
			return fmt.Errorf("create match: %w", err)
		}
		created = m

		// The operator resolved this transaction; stale engine suggestions
		// only confuse the review queue.
		if err := s.matchRepo.DeleteSuggestionsForTransaction(ctx, txn.ID); err != nil {
			return err
		}

		status := model.MatchStatusMatched
		if amount.LessThan(remaining) {
			status = model.MatchStatusPartial
		}
		return s.txnRepo.UpdateStatus(ctx, txn.ID, status)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("manual match", "transaction_id", txn.ID, "invoice_id", inv.ID, "applied", amount.String(), "created_by", req.CreatedBy)
	return created, nil
}

// Unmatch deletes a match and releases its applied amount back to the
// invoice's outstanding. Retrying an already-deleted id is a no-op so
// clients can safely repeat the call.
func (s *MatchService) Unmatch(ctx context.Context, matchID int64) error {
	m, err := s.matchRepo.Get(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrMatchNotFound) {
			return nil
		}
		return err
	}

	if m.Suggestion {
		// Suggestions never applied anything; just drop the row.
		err := s.matchRepo.Delete(ctx, m.ID)
		if errors.Is(err, repository.ErrMatchNotFound) {
			return nil
		}
		return err
	}

	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.matchRepo.Delete(ctx, m.ID); err != nil {
			if errors.Is(err, repository.ErrMatchNotFound) {
				return nil
			}
			return err
		}

		if err := s.invoices.ReleasePayment(ctx, m.InvoiceID, m.Applied); err != nil {
			return fmt.Errorf("release payment: %w", err)
		}

		applied, err := s.matchRepo.SumAppliedForTransaction(ctx, m.TransactionID)
		if err != nil {
			return err
		}
		txn, err := s.txnRepo.Get(ctx, m.TransactionID)
		if err != nil {
			return err
		}

		status := model.MatchStatusUnmatched
		switch {
		case applied.GreaterThanOrEqual(txn.Amount) && applied.IsPositive():
			status = model.MatchStatusMatched
		case applied.IsPositive():
			status = model.MatchStatusPartial
		}
		return s.txnRepo.UpdateStatus(ctx, txn.ID, status)
	})
}

func (s *MatchService) Get(ctx context.Context, id int64) (*model.Match, error) {
	m, err := s.matchRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrMatchNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *MatchService) List(ctx context.Context, f model.MatchFilter) ([]*model.Match, int64, error) {
	return s.matchRepo.List(ctx, f)
}

// Suggestions lists the review queue: engine candidates below the
// auto-accept threshold waiting for an operator.
func (s *MatchService) Suggestions(ctx context.Context, f model.MatchFilter) ([]*model.Match, int64, error) {
	suggestion := true
	f.Suggestion = &suggestion
	return s.matchRepo.List(ctx, f)
}

// Stats assembles the reconciliation summary from the transaction statuses
// and the ledger aggregates.
func (s *MatchService) Stats(ctx context.Context) (*model.Stats, error) {
	byStatus, err := s.txnRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := s.matchRepo.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.Stats{
		Matched:          byStatus[model.MatchStatusMatched],
		PartiallyMatched: byStatus[model.MatchStatusPartial],
		Unmatched:        byStatus[model.MatchStatusUnmatched],
		AutoMatches:      ledger.AutoMatches,
		ManualMatches:    ledger.ManualMatches,
		Suggestions:      ledger.Suggestions,
		AppliedTotal:     ledger.AppliedTotal,
	}
	stats.Transactions = stats.Matched + stats.PartiallyMatched + stats.Unmatched
	if stats.Transactions > 0 {
		stats.MatchRate = float64(stats.Matched+stats.PartiallyMatched) / float64(stats.Transactions)
	}
	return stats, nil
}
