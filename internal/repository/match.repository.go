package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/pkg/pg"
)

var (
	// ErrMatchNotFound is returned when a match does not exist.
	ErrMatchNotFound = errors.New("match not found")
)

type MatchRepository struct {
	*pg.DB
}

func NewMatchRepository(db *pg.DB) *MatchRepository {
	return &MatchRepository{
		db,
	}
}

func (r *MatchRepository) Create(ctx context.Context, m *model.Match) (*model.Match, error) {
	entity := toMatchEntity(m)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMatchModel(entity), nil
}

func (r *MatchRepository) Get(ctx context.Context, id int64) (*model.Match, error) {
	var entity MatchEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return toMatchModel(&entity), nil
}

// Delete removes a match row. Deleting an id that is already gone reports
// ErrMatchNotFound so callers can treat retried unmatch as a no-op.
func (r *MatchRepository) Delete(ctx context.Context, id int64) error {
	res := r.Write(ctx).WithContext(ctx).Where("id = ?", id).Delete(&MatchEntity{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMatchNotFound
	}
	return nil
}

// DeleteSuggestionsForTransaction clears stale review candidates before a
// transaction is applied for real.
func (r *MatchRepository) DeleteSuggestionsForTransaction(ctx context.Context, transactionID int64) error {
	return r.Write(ctx).WithContext(ctx).
		Where("transaction_id = ? AND suggestion = ?", transactionID, true).
		Delete(&MatchEntity{}).Error
}

// SumAppliedForTransaction is the conservation sum on the transaction side.
// Suggestions do not count.
func (r *MatchRepository) SumAppliedForTransaction(ctx context.Context, transactionID int64) (decimal.Decimal, error) {
	return r.sumApplied(ctx, "transaction_id = ?", transactionID)
}

// SumAppliedForInvoice is the conservation sum on the invoice side.
func (r *MatchRepository) SumAppliedForInvoice(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	return r.sumApplied(ctx, "invoice_id = ?", invoiceID)
}

func (r *MatchRepository) sumApplied(ctx context.Context, cond string, id int64) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.Write(ctx).WithContext(ctx).
		Model(&MatchEntity{}).
		Where(cond, id).
		Where("suggestion = ?", false).
		Select("SUM(applied)").
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *MatchRepository) ListForTransaction(ctx context.Context, transactionID int64) ([]*model.Match, error) {
	var entities []*MatchEntity
	err := r.Write(ctx).WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toMatchModels(entities), nil
}

func (r *MatchRepository) List(ctx context.Context, f model.MatchFilter) ([]*model.Match, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&MatchEntity{})

	if f.TransactionID != nil {
		q = q.Where("transaction_id = ?", *f.TransactionID)
	}
	if f.InvoiceID != nil {
		q = q.Where("invoice_id = ?", *f.InvoiceID)
	}
	if f.Source != nil {
		q = q.Where("source = ?", string(*f.Source))
	}
	if f.Suggestion != nil {
		q = q.Where("suggestion = ?", *f.Suggestion)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*MatchEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toMatchModels(entities), total, nil
}

// LedgerStats aggregates the match side of the stats endpoint.
type LedgerStats struct {
	AutoMatches   int64
	ManualMatches int64
	Suggestions   int64
	AppliedTotal  decimal.Decimal
}

func (r *MatchRepository) Stats(ctx context.Context) (LedgerStats, error) {
	var stats LedgerStats

	type row struct {
		Source     string
		Suggestion bool
		Count      int64
		Sum        decimal.NullDecimal
	}
	var rows []row

	err := r.Read(ctx).WithContext(ctx).
		Model(&MatchEntity{}).
		Select("source, suggestion, COUNT(*) as count, SUM(applied) as sum").
		Group("source").
		Group("suggestion").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}

	stats.AppliedTotal = decimal.Zero
	for _, rw := range rows {
		if rw.Suggestion {
			stats.Suggestions += rw.Count
			continue
		}
		switch model.DecisionSource(rw.Source) {
		case model.DecisionAuto:
			stats.AutoMatches += rw.Count
		case model.DecisionManual:
			stats.ManualMatches += rw.Count
		}
		if rw.Sum.Valid {
			stats.AppliedTotal = stats.AppliedTotal.Add(rw.Sum.Decimal)
		}
	}

	return stats, nil
}
