package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/pkg/pg"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrInsufficientOutstanding - applying the amount would over-pay the invoice.
	ErrInsufficientOutstanding = errors.New("insufficient outstanding amount")
	// ErrReleaseExceedsTotal - releasing the amount would push outstanding past the invoice total.
	ErrReleaseExceedsTotal = errors.New("release exceeds invoice total")
	ErrConcurrentUpdate    = errors.New("concurrent update detected")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
)

// InvoiceRepository is the reference implementation of the invoice
// collaborator. Outstanding-amount bookkeeping is serialized per invoice
// with SELECT FOR UPDATE so two concurrent payments cannot both read a
// stale outstanding snapshot and jointly over-apply.
type InvoiceRepository struct {
	*pg.DB
}

func NewInvoiceRepository(db *pg.DB) *InvoiceRepository {
	return &InvoiceRepository{
		db,
	}
}

func (r *InvoiceRepository) Create(ctx context.Context, inv *model.OpenInvoice) (*model.OpenInvoice, error) {
	entity := &InvoiceEntity{
		ID:             inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		CompanyID:      inv.CompanyID,
		VariableSymbol: inv.VariableSymbol,
		Total:          inv.Total,
		Outstanding:    inv.Outstanding,
		Currency:       inv.Currency,
		CustomerName:   inv.CustomerName,
		IssueDate:      inv.IssueDate,
		DueDate:        inv.DueDate,
	}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toInvoiceModel(entity), nil
}

func (r *InvoiceRepository) Get(ctx context.Context, id int64) (*model.OpenInvoice, error) {
	var entity InvoiceEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return toInvoiceModel(&entity), nil
}

// OpenInvoices returns every invoice of the company with outstanding > 0,
// ordered by id for deterministic matching runs.
func (r *InvoiceRepository) OpenInvoices(ctx context.Context, companyID int64) ([]model.OpenInvoice, error) {
	var entities []*InvoiceEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("company_id = ? AND outstanding > 0", companyID).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toInvoiceModels(entities), nil
}

// ApplyPayment reduces the invoice's outstanding amount with automatic retry
// on transient failures. Over-application is a permanent error.
func (r *InvoiceRepository) ApplyPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal) error {
	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := r.applyPaymentAttempt(ctx, invoiceID, amount)

		if err == nil {
			return nil
		}

		if errors.Is(err, ErrInvoiceNotFound) ||
			errors.Is(err, ErrInsufficientOutstanding) {
			return err
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}
	}

	return fmt.Errorf("%w: failed after %d attempts", ErrMaxRetriesExceeded, maxRetries+1)
}

func (r *InvoiceRepository) applyPaymentAttempt(ctx context.Context, invoiceID int64, amount decimal.Decimal) error {
	var entity InvoiceEntity

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", invoiceID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvoiceNotFound
		}
		return err
	}

	if entity.Outstanding.LessThan(amount) {
		return ErrInsufficientOutstanding
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&InvoiceEntity{}).
		Where("id = ?", invoiceID).
		Update("outstanding", entity.Outstanding.Sub(amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	return nil
}

// ReleasePayment re-opens outstanding on unmatch. Outstanding never grows
// past the invoice total.
func (r *InvoiceRepository) ReleasePayment(ctx context.Context, invoiceID int64, amount decimal.Decimal) error {
	var entity InvoiceEntity

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", invoiceID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvoiceNotFound
		}
		return err
	}

	restored := entity.Outstanding.Add(amount)
	if restored.GreaterThan(entity.Total) {
		return ErrReleaseExceedsTotal
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&InvoiceEntity{}).
		Where("id = ?", invoiceID).
		Update("outstanding", restored)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	return nil
}
