package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/extractor"
	"github.com/fakturo/payment-engine/internal/matching"
	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/internal/repository"
	"github.com/fakturo/payment-engine/pkg/logger"
	"github.com/fakturo/payment-engine/pkg/prom"
)

var (
	ErrUnknownAccount   = errors.New("recipient address does not resolve to an active account")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrNotFound         = errors.New("error notfound")
)

type AccountRepository interface {
	Create(ctx context.Context, a *model.Account) (*model.Account, error)
	Get(ctx context.Context, id int64) (*model.Account, error)
	GetByInboundAddress(ctx context.Context, address string) (*model.Account, error)
	List(ctx context.Context, companyID *int64) ([]*model.Account, error)
}

type DeliveryRepository interface {
	CreateIfAbsent(ctx context.Context, d *model.Delivery) (*model.Delivery, bool, error)
	Get(ctx context.Context, id int64) (*model.Delivery, error)
	AssignAccount(ctx context.Context, id, accountID int64) error
	UpdateResult(ctx context.Context, id int64, status model.DeliveryStatus, errMsg string, processed, matched int) error
	List(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error)
}

type TransactionRepository interface {
	CreateIfAbsent(ctx context.Context, t *model.Transaction) (*model.Transaction, bool, error)
	Get(ctx context.Context, id int64) (*model.Transaction, error)
	UpdateStatus(ctx context.Context, id int64, status model.MatchStatus) error
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	CountByStatus(ctx context.Context) (map[model.MatchStatus]int64, error)
}

// InvoiceDirectory is the invoice collaborator. The engine reads open
// invoices from it and tells it about applied and released amounts; it
// never touches invoice rows directly.
type InvoiceDirectory interface {
	Get(ctx context.Context, id int64) (*model.OpenInvoice, error)
	OpenInvoices(ctx context.Context, companyID int64) ([]model.OpenInvoice, error)
	ApplyPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal) error
	ReleasePayment(ctx context.Context, invoiceID int64, amount decimal.Decimal) error
}

type MatchRepository interface {
	Create(ctx context.Context, m *model.Match) (*model.Match, error)
	Get(ctx context.Context, id int64) (*model.Match, error)
	Delete(ctx context.Context, id int64) error
	DeleteSuggestionsForTransaction(ctx context.Context, transactionID int64) error
	SumAppliedForTransaction(ctx context.Context, transactionID int64) (decimal.Decimal, error)
	SumAppliedForInvoice(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	ListForTransaction(ctx context.Context, transactionID int64) ([]*model.Match, error)
	List(ctx context.Context, f model.MatchFilter) ([]*model.Match, int64, error)
	Stats(ctx context.Context) (repository.LedgerStats, error)
}

// Transactor runs a function inside one database transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// maxSuggestions caps how many review candidates one transaction records.
const maxSuggestions = 3

type IngestService struct {
	accountRepo   AccountRepository
	deliveryRepo  DeliveryRepository
	txnRepo       TransactionRepository
	invoices      InvoiceDirectory
	matchRepo     MatchRepository
	tx            Transactor
	extractor     extractor.Extractor
	engine        *matching.Engine
	extractorKind string
}

func NewIngestService(
	accountRepo AccountRepository,
	deliveryRepo DeliveryRepository,
	txnRepo TransactionRepository,
	invoices InvoiceDirectory,
	matchRepo MatchRepository,
	tx Transactor,
	ext extractor.Extractor,
	engine *matching.Engine,
	extractorKind string,
) *IngestService {
	return &IngestService{
		accountRepo:   accountRepo,
		deliveryRepo:  deliveryRepo,
		txnRepo:       txnRepo,
		invoices:      invoices,
		matchRepo:     matchRepo,
		tx:            tx,
		extractor:     ext,
		engine:        engine,
		extractorKind: extractorKind,
	}
}

// Ingest handles one webhook delivery end to end: resolve the account,
// record the delivery exactly once, extract, dedup-store transactions and
// run the matcher on each new one. Replays with a known fingerprint return
// the stored outcome without reprocessing.
func (s *IngestService) Ingest(ctx context.Context, req model.DeliveryRequest) (*model.IngestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}

	account, err := s.resolveAccount(ctx, req.To)
	if err != nil {
		// Keep an audit row for unattributable deliveries, then reject.
		if errors.Is(err, ErrUnknownAccount) {
			s.recordRejected(ctx, req)
		}
		return nil, err
	}

	delivery := &model.Delivery{
		AccountID:   &account.ID,
		From:        req.From,
		To:          strings.ToLower(strings.TrimSpace(req.To)),
		Subject:     req.Subject,
		Body:        req.Body,
		ProviderID:  req.ProviderID,
		Fingerprint: req.ComputeFingerprint(),
		Status:      model.DeliveryStatusReceived,
		ReceivedAt:  req.ReceivedAt,
	}

	stored, isNew, err := s.deliveryRepo.CreateIfAbsent(ctx, delivery)
	if err != nil {
		return nil, fmt.Errorf("record delivery: %w", err)
	}
	if !isNew {
		logger.Info("duplicate delivery", "delivery_id", stored.ID, "fingerprint", stored.Fingerprint)
		return &model.IngestResult{
			Success:    stored.Status != model.DeliveryStatusFailed,
			Processed:  stored.Processed,
			Matched:    stored.Matched,
			Duplicate:  true,
			DeliveryID: stored.ID,
		}, nil
	}

	return s.process(ctx, account, stored, req.Body)
}

// ProcessEmail runs the pipeline for a raw email body against an explicit
// account, bypassing recipient resolution. Meant for operator-triggered
// re-processing and testing; the delivery fingerprint still dedups replays.
func (s *IngestService) ProcessEmail(ctx context.Context, accountID int64, req model.DeliveryRequest) (*model.IngestResult, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, errors.New("body is required")
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}

	account, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, err
	}
	if !account.Active {
		return nil, ErrUnknownAccount
	}

	to := strings.ToLower(strings.TrimSpace(req.To))
	if to == "" {
		to = account.InboundAddress
		req.To = to
	}

	delivery := &model.Delivery{
		AccountID:   &account.ID,
		From:        req.From,
		To:          to,
		Subject:     req.Subject,
		Body:        req.Body,
		ProviderID:  req.ProviderID,
		Fingerprint: req.ComputeFingerprint(),
		Status:      model.DeliveryStatusReceived,
		ReceivedAt:  req.ReceivedAt,
	}

	// Unlike Ingest, a known fingerprint does not short-circuit here: the
	// operator asked for a re-run, and stored transactions dedup away.
	stored, _, err := s.deliveryRepo.CreateIfAbsent(ctx, delivery)
	if err != nil {
		return nil, fmt.Errorf("record delivery: %w", err)
	}
	return s.process(ctx, account, stored, req.Body)
}

// Reprocess re-runs extraction and matching for a stored delivery. Useful
// after an extractor outage, or for a rejected delivery whose account has
// since been provisioned; already-stored transactions are deduplicated
// away, so reprocessing is safe to repeat.
func (s *IngestService) Reprocess(ctx context.Context, deliveryID int64) (*model.IngestResult, error) {
	delivery, err := s.deliveryRepo.Get(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, repository.ErrDeliveryNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if delivery.AccountID == nil {
		// A delivery rejected before its account existed can become
		// attributable later; re-resolve from the stored recipient.
		account, err := s.resolveAccount(ctx, delivery.To)
		if err != nil {
			return nil, err
		}
		if err := s.deliveryRepo.AssignAccount(ctx, delivery.ID, account.ID); err != nil {
			return nil, fmt.Errorf("assign account: %w", err)
		}
		delivery.AccountID = &account.ID
		return s.process(ctx, account, delivery, delivery.Body)
	}
	account, err := s.accountRepo.Get(ctx, *delivery.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, err
	}
	return s.process(ctx, account, delivery, delivery.Body)
}

func (s *IngestService) resolveAccount(ctx context.Context, to string) (*model.Account, error) {
	address := strings.ToLower(strings.TrimSpace(to))
	account, err := s.accountRepo.GetByInboundAddress(ctx, address)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, err
	}
	if !account.Active {
		return nil, ErrUnknownAccount
	}
	return account, nil
}

func (s *IngestService) recordRejected(ctx context.Context, req model.DeliveryRequest) {
	_, _, err := s.deliveryRepo.CreateIfAbsent(ctx, &model.Delivery{
		From:        req.From,
		To:          strings.ToLower(strings.TrimSpace(req.To)),
		Subject:     req.Subject,
		Body:        req.Body,
		ProviderID:  req.ProviderID,
		Fingerprint: req.ComputeFingerprint(),
		Status:      model.DeliveryStatusRejected,
		Error:       ErrUnknownAccount.Error(),
		ReceivedAt:  req.ReceivedAt,
	})
	if err != nil {
		logger.Error("record rejected delivery", "error", err)
	}
	prom.IncCounter(prom.SystemIngest, prom.MetricDeliveriesTotal, string(model.DeliveryStatusRejected))
}

func (s *IngestService) process(ctx context.Context, account *model.Account, delivery *model.Delivery, body string) (*model.IngestResult, error) {
	hint := extractor.AccountHint{
		AccountID:     account.ID,
		MatchOutgoing: account.MatchOutgoing,
		ReceivedAt:    delivery.ReceivedAt,
	}

	start := time.Now()
	raw, err := s.extractor.Extract(ctx, body, hint)
	prom.Observe(prom.SystemIngest, prom.MetricExtractionDurationSec, time.Since(start).Seconds(), s.extractorKind)
	if err != nil {
		logger.Error("extraction failed", "delivery_id", delivery.ID, "error", err)
		if uerr := s.deliveryRepo.UpdateResult(ctx, delivery.ID, model.DeliveryStatusFailed, err.Error(), 0, 0); uerr != nil {
			logger.Error("update delivery result", "delivery_id", delivery.ID, "error", uerr)
		}
		prom.IncCounter(prom.SystemIngest, prom.MetricDeliveriesTotal, string(model.DeliveryStatusFailed))
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	candidates := extractor.Sanitize(raw, hint)
	if len(candidates) == 0 {
		if err := s.deliveryRepo.UpdateResult(ctx, delivery.ID, model.DeliveryStatusEmpty, "", 0, 0); err != nil {
			return nil, err
		}
		prom.IncCounter(prom.SystemIngest, prom.MetricDeliveriesTotal, string(model.DeliveryStatusEmpty))
		return &model.IngestResult{Success: true, DeliveryID: delivery.ID}, nil
	}

	processed := 0
	matched := 0
	for _, c := range candidates {
		txn := &model.Transaction{
			AccountID:           account.ID,
			DeliveryID:          &delivery.ID,
			Fingerprint:         model.TransactionFingerprint(account.ID, c),
			Amount:              c.Amount,
			Currency:            c.Currency,
			CounterpartyName:    c.CounterpartyName,
			CounterpartyAccount: c.CounterpartyAccount,
			Reference:           c.Reference,
			VariableSymbol:      c.VariableSymbol,
			ConstantSymbol:      c.ConstantSymbol,
			SpecificSymbol:      c.SpecificSymbol,
			ValueDate:           c.ValueDate,
			Status:              model.MatchStatusUnmatched,
		}

		stored, isNew, err := s.txnRepo.CreateIfAbsent(ctx, txn)
		if err != nil {
			logger.Error("store transaction", "delivery_id", delivery.ID, "error", err)
			continue
		}
		if !isNew {
			prom.IncCounter(prom.SystemIngest, prom.MetricTransactionsTotal, "duplicate")
			continue
		}
		prom.IncCounter(prom.SystemIngest, prom.MetricTransactionsTotal, "new")
		processed++

		accepted, err := s.matchTransaction(ctx, account, stored)
		if err != nil {
			logger.Error("match transaction", "transaction_id", stored.ID, "error", err)
			continue
		}
		if accepted {
			matched++
		}
	}

	if err := s.deliveryRepo.UpdateResult(ctx, delivery.ID, model.DeliveryStatusProcessed, "", processed, matched); err != nil {
		return nil, err
	}
	prom.IncCounter(prom.SystemIngest, prom.MetricDeliveriesTotal, string(model.DeliveryStatusProcessed))

	return &model.IngestResult{
		Success:    true,
		Processed:  processed,
		Matched:    matched,
		DeliveryID: delivery.ID,
	}, nil
}

// matchTransaction runs the cascade for one new transaction and persists
// the decision. Accepts are applied atomically: the outstanding reduction,
// the ledger row and the transaction status change commit together.
func (s *IngestService) matchTransaction(ctx context.Context, account *model.Account, txn *model.Transaction) (bool, error) {
	invoices, err := s.invoices.OpenInvoices(ctx, account.CompanyID)
	if err != nil {
		return false, fmt.Errorf("load open invoices: %w", err)
	}

	decision := s.engine.Evaluate(txn, invoices)
	prom.IncCounter(prom.SystemMatch, prom.MetricMatchDecisionsTotal, string(decision.Outcome))
	if len(decision.Candidates) > 0 {
		top := decision.Candidates[0]
		prom.Observe(prom.SystemMatch, prom.MetricMatchConfidenceHistogram, top.Confidence, string(top.Rule))
	}

	switch decision.Outcome {
	case matching.OutcomeAccept:
		top := decision.Candidates[0]
		err := s.applyCandidate(ctx, txn, top)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, repository.ErrInsufficientOutstanding) {
			// Outstanding moved underneath us; surface the candidates for
			// review instead of failing the ingest.
			logger.Warn("auto-accept raced with outstanding change", "transaction_id", txn.ID, "invoice_id", top.Invoice.ID)
			return false, s.recordSuggestions(ctx, txn, decision)
		}
		return false, err
	case matching.OutcomeReview:
		return false, s.recordSuggestions(ctx, txn, decision)
	default:
		return false, nil
	}
}

func (s *IngestService) applyCandidate(ctx context.Context, txn *model.Transaction, c matching.Candidate) error {
	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.invoices.ApplyPayment(ctx, c.Invoice.ID, c.Applied); err != nil {
			return err
		}

		details, _ := json.Marshal(map[string]any{
			"rule":           string(c.Rule),
			"invoice_number": c.Invoice.InvoiceNumber,
		})
		if _, err := s.matchRepo.Create(ctx, &model.Match{
			TransactionID: txn.ID,
			InvoiceID:     c.Invoice.ID,
			Applied:       c.Applied,
			Confidence:    c.Confidence,
			Source:        model.DecisionAuto,
			Details:       details,
		}); err != nil {
			return fmt.Errorf("create match: %w", err)
		}

		status := model.MatchStatusMatched
		if c.Applied.LessThan(txn.Amount) {
			status = model.MatchStatusPartial
		}
		return s.txnRepo.UpdateStatus(ctx, txn.ID, status)
	})
}

func (s *IngestService) recordSuggestions(ctx context.Context, txn *model.Transaction, decision matching.Decision) error {
	n := len(decision.Candidates)
	if n > maxSuggestions {
		n = maxSuggestions
	}
	for _, c := range decision.Candidates[:n] {
		details, _ := json.Marshal(map[string]any{
			"rule":           string(c.Rule),
			"invoice_number": c.Invoice.InvoiceNumber,
			"ambiguous":      decision.Ambiguous,
		})
		if _, err := s.matchRepo.Create(ctx, &model.Match{
			TransactionID: txn.ID,
			InvoiceID:     c.Invoice.ID,
			Applied:       c.Applied,
			Confidence:    c.Confidence,
			Source:        model.DecisionAuto,
			Suggestion:    true,
			Details:       details,
		}); err != nil {
			return fmt.Errorf("create suggestion: %w", err)
		}
	}
	return nil
}

func (s *IngestService) ListDeliveries(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error) {
	return s.deliveryRepo.List(ctx, f)
}

func (s *IngestService) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	return s.txnRepo.List(ctx, f)
}
