package model

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus is the reconciliation state of a stored transaction.
type MatchStatus string

const (
	MatchStatusUnmatched MatchStatus = "unmatched"
	MatchStatusPartial   MatchStatus = "partially_matched"
	MatchStatusMatched   MatchStatus = "matched"
)

// CandidateTransaction is one payment line extracted from an email body.
// It is not durable; a validated candidate becomes a Transaction.
type CandidateTransaction struct {
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Outgoing            bool            `json:"outgoing"`
	CounterpartyName    string          `json:"counterparty_name"`
	CounterpartyAccount string          `json:"counterparty_account"`
	Reference           string          `json:"reference"`
	VariableSymbol      string          `json:"variable_symbol"`
	ConstantSymbol      string          `json:"constant_symbol"`
	SpecificSymbol      string          `json:"specific_symbol"`
	ValueDate           time.Time       `json:"value_date"`
}

var (
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrMissingCurrency = errors.New("currency is required")
)

func (c *CandidateTransaction) Validate() error {
	if c.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	if c.Currency == "" {
		return ErrMissingCurrency
	}
	return nil
}

// Normalize trims free-text fields and upper-cases the currency so the dedup
// fingerprint is stable across provider retries.
func (c *CandidateTransaction) Normalize() {
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	c.CounterpartyName = strings.TrimSpace(c.CounterpartyName)
	c.CounterpartyAccount = strings.TrimSpace(c.CounterpartyAccount)
	c.Reference = strings.TrimSpace(c.Reference)
	c.VariableSymbol = strings.TrimLeft(strings.TrimSpace(c.VariableSymbol), "0")
	c.ConstantSymbol = strings.TrimSpace(c.ConstantSymbol)
	c.SpecificSymbol = strings.TrimSpace(c.SpecificSymbol)
}

// Transaction is a durable, deduplicated payment. The fingerprint over
// (account, amount, counterparty account, value date, reference) is unique;
// re-extracting the same payment must not create a second row.
type Transaction struct {
	ID                  int64           `json:"id"`
	AccountID           int64           `json:"account_id"`
	DeliveryID          *int64          `json:"delivery_id,omitempty"`
	Fingerprint         string          `json:"-"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	CounterpartyName    string          `json:"counterparty_name"`
	CounterpartyAccount string          `json:"counterparty_account"`
	Reference           string          `json:"reference"`
	VariableSymbol      string          `json:"variable_symbol"`
	ConstantSymbol      string          `json:"constant_symbol"`
	SpecificSymbol      string          `json:"specific_symbol"`
	ValueDate           time.Time       `json:"value_date"`
	Status              MatchStatus     `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
}

// TransactionFingerprint derives the dedup identity of a candidate for one
// account.
func TransactionFingerprint(accountID int64, c CandidateTransaction) string {
	return fingerprint(
		"txn",
		decimal.NewFromInt(accountID).String(),
		c.Amount.String(),
		c.Currency,
		c.CounterpartyAccount,
		c.ValueDate.UTC().Format("2006-01-02"),
		c.Reference,
	)
}

// TransactionFilter controls List queries.
type TransactionFilter struct {
	AccountID *int64
	Statuses  []MatchStatus
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
	Desc      bool
}
