package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/model"
)

type InvoiceEntity struct {
	ID             int64           `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	InvoiceNumber  string          `db:"invoice_number"  gorm:"column:invoice_number;not null;index"`
	CompanyID      int64           `db:"company_id"      gorm:"column:company_id;not null;index"`
	VariableSymbol string          `db:"variable_symbol" gorm:"column:variable_symbol;index"`
	Total          decimal.Decimal `db:"total"           gorm:"column:total;type:numeric(14,2);not null"`
	Outstanding    decimal.Decimal `db:"outstanding"     gorm:"column:outstanding;type:numeric(14,2);not null"`
	Currency       string          `db:"currency"        gorm:"column:currency;not null"`
	CustomerName   string          `db:"customer_name"   gorm:"column:customer_name"`
	IssueDate      time.Time       `db:"issue_date"      gorm:"column:issue_date"`
	DueDate        time.Time       `db:"due_date"        gorm:"column:due_date"`
	CreatedAt      time.Time       `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (InvoiceEntity) TableName() string {
	return "invoices"
}

func toInvoiceModel(e *InvoiceEntity) *model.OpenInvoice {
	if e == nil {
		return nil
	}
	return &model.OpenInvoice{
		ID:             e.ID,
		InvoiceNumber:  e.InvoiceNumber,
		CompanyID:      e.CompanyID,
		VariableSymbol: e.VariableSymbol,
		Total:          e.Total,
		Outstanding:    e.Outstanding,
		Currency:       e.Currency,
		CustomerName:   e.CustomerName,
		IssueDate:      e.IssueDate,
		DueDate:        e.DueDate,
	}
}

func toInvoiceModels(entities []*InvoiceEntity) []model.OpenInvoice {
	models := make([]model.OpenInvoice, len(entities))
	for i, e := range entities {
		models[i] = *toInvoiceModel(e)
	}
	return models
}
