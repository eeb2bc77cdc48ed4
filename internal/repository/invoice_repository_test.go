package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturo/payment-engine/internal/model"
)

func seedInvoice(t *testing.T, repo *InvoiceRepository, inv *model.OpenInvoice) *model.OpenInvoice {
	t.Helper()
	created, err := repo.Create(context.Background(), inv)
	require.NoError(t, err)
	return created
}

func TestInvoiceRepository_ApplyPayment(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	t.Run("successful application", func(t *testing.T) {
		inv := seedInvoice(t, repo, &model.OpenInvoice{
			InvoiceNumber:  "2025001",
			CompanyID:      1,
			VariableSymbol: "2025001",
			Total:          decimal.RequireFromString("1000.00"),
			Outstanding:    decimal.RequireFromString("1000.00"),
			Currency:       "CZK",
			DueDate:        time.Now().AddDate(0, 0, 14),
		})

		err := repo.ApplyPayment(ctx, inv.ID, decimal.RequireFromString("300.00"))
		assert.NoError(t, err)

		stored, err := repo.Get(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, stored.Outstanding.Equal(decimal.RequireFromString("700.00")),
			"outstanding = %s", stored.Outstanding)
	})

	t.Run("exact settlement reaches zero", func(t *testing.T) {
		inv := seedInvoice(t, repo, &model.OpenInvoice{
			InvoiceNumber: "2025002",
			CompanyID:     1,
			Total:         decimal.RequireFromString("250.00"),
			Outstanding:   decimal.RequireFromString("250.00"),
			Currency:      "CZK",
		})

		err := repo.ApplyPayment(ctx, inv.ID, decimal.RequireFromString("250.00"))
		assert.NoError(t, err)

		stored, err := repo.Get(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, stored.Outstanding.IsZero())
	})

	t.Run("over-application is rejected", func(t *testing.T) {
		inv := seedInvoice(t, repo, &model.OpenInvoice{
			InvoiceNumber: "2025003",
			CompanyID:     1,
			Total:         decimal.RequireFromString("100.00"),
			Outstanding:   decimal.RequireFromString("100.00"),
			Currency:      "CZK",
		})

		err := repo.ApplyPayment(ctx, inv.ID, decimal.RequireFromString("100.01"))
		assert.ErrorIs(t, err, ErrInsufficientOutstanding)

		stored, err := repo.Get(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, stored.Outstanding.Equal(decimal.RequireFromString("100.00")))
	})

	t.Run("invoice not found", func(t *testing.T) {
		err := repo.ApplyPayment(ctx, 9999, decimal.RequireFromString("10.00"))
		assert.ErrorIs(t, err, ErrInvoiceNotFound)
	})
}

func TestInvoiceRepository_ReleasePayment(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	t.Run("release restores outstanding", func(t *testing.T) {
		inv := seedInvoice(t, repo, &model.OpenInvoice{
			InvoiceNumber: "2025010",
			CompanyID:     2,
			Total:         decimal.RequireFromString("1000.00"),
			Outstanding:   decimal.RequireFromString("400.00"),
			Currency:      "CZK",
		})

		err := repo.ReleasePayment(ctx, inv.ID, decimal.RequireFromString("600.00"))
		assert.NoError(t, err)

		stored, err := repo.Get(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, stored.Outstanding.Equal(decimal.RequireFromString("1000.00")))
	})

	t.Run("release never exceeds total", func(t *testing.T) {
		inv := seedInvoice(t, repo, &model.OpenInvoice{
			InvoiceNumber: "2025011",
			CompanyID:     2,
			Total:         decimal.RequireFromString("500.00"),
			Outstanding:   decimal.RequireFromString("450.00"),
			Currency:      "CZK",
		})

		err := repo.ReleasePayment(ctx, inv.ID, decimal.RequireFromString("100.00"))
		assert.ErrorIs(t, err, ErrReleaseExceedsTotal)

		stored, err := repo.Get(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, stored.Outstanding.Equal(decimal.RequireFromString("450.00")))
	})

	t.Run("invoice not found", func(t *testing.T) {
		err := repo.ReleasePayment(ctx, 9999, decimal.RequireFromString("10.00"))
		assert.ErrorIs(t, err, ErrInvoiceNotFound)
	})
}

func TestInvoiceRepository_OpenInvoices(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	open1 := seedInvoice(t, repo, &model.OpenInvoice{
		InvoiceNumber: "A-1",
		CompanyID:     7,
		Total:         decimal.RequireFromString("100.00"),
		Outstanding:   decimal.RequireFromString("100.00"),
		Currency:      "CZK",
	})
	open2 := seedInvoice(t, repo, &model.OpenInvoice{
		InvoiceNumber: "A-2",
		CompanyID:     7,
		Total:         decimal.RequireFromString("200.00"),
		Outstanding:   decimal.RequireFromString("50.00"),
		Currency:      "CZK",
	})
	// settled, must not come back
	seedInvoice(t, repo, &model.OpenInvoice{
		InvoiceNumber: "A-3",
		CompanyID:     7,
		Total:         decimal.RequireFromString("300.00"),
		Outstanding:   decimal.Zero,
		Currency:      "CZK",
	})
	// other company
	seedInvoice(t, repo, &model.OpenInvoice{
		InvoiceNumber: "B-1",
		CompanyID:     8,
		Total:         decimal.RequireFromString("100.00"),
		Outstanding:   decimal.RequireFromString("100.00"),
		Currency:      "CZK",
	})

	invoices, err := repo.OpenInvoices(ctx, 7)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, open1.ID, invoices[0].ID)
	assert.Equal(t, open2.ID, invoices[1].ID)
}
