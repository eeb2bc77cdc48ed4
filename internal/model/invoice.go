package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpenInvoice is the projection the engine needs from the invoice
// collaborator. The engine never mutates invoices directly; it records
// matches and notifies the collaborator of applied amounts.
type OpenInvoice struct {
	ID             int64           `json:"id"`
	InvoiceNumber  string          `json:"invoice_number"`
	CompanyID      int64           `json:"company_id"`
	VariableSymbol string          `json:"variable_symbol"`
	Total          decimal.Decimal `json:"total"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	Currency       string          `json:"currency"`
	CustomerName   string          `json:"customer_name"`
	IssueDate      time.Time       `json:"issue_date"`
	DueDate        time.Time       `json:"due_date"`
}
