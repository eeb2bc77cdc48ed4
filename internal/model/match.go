package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// DecisionSource distinguishes engine decisions from operator decisions in
// the ledger so match-rate statistics can split auto vs manual.
type DecisionSource string

const (
	DecisionAuto   DecisionSource = "auto"
	DecisionManual DecisionSource = "manual"
)

// Match links one transaction to one invoice with an applied amount.
// Suggestion rows are review candidates below the auto-accept threshold;
// they carry no applied amount toward either conservation sum.
type Match struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	InvoiceID     int64           `json:"invoice_id"`
	Applied       decimal.Decimal `json:"applied"`
	Confidence    float64         `json:"confidence"`
	Source        DecisionSource  `json:"source"`
	Suggestion    bool            `json:"suggestion"`
	CreatedBy     string          `json:"created_by,omitempty"`
	Details       datatypes.JSON  `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ManualMatchRequest is the operator override input. Amount is optional;
// when omitted the service applies as much as both sides allow.
type ManualMatchRequest struct {
	TransactionID int64            `json:"transaction_id"`
	InvoiceID     int64            `json:"invoice_id"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	CreatedBy     string           `json:"created_by,omitempty"`
}

func (r ManualMatchRequest) Validate() error {
	if r.TransactionID == 0 {
		return errors.New("transaction_id is required")
	}
	if r.InvoiceID == 0 {
		return errors.New("invoice_id is required")
	}
	if r.Amount != nil && !r.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

// MatchFilter controls ledger listing.
type MatchFilter struct {
	TransactionID *int64
	InvoiceID     *int64
	Source        *DecisionSource
	Suggestion    *bool
	Limit         int
	Offset        int
	Desc          bool
}

// Stats is the read-only reconciliation summary.
type Stats struct {
	Transactions     int64           `json:"transactions"`
	Matched          int64           `json:"matched"`
	PartiallyMatched int64           `json:"partially_matched"`
	Unmatched        int64           `json:"unmatched"`
	AutoMatches      int64           `json:"auto_matches"`
	ManualMatches    int64           `json:"manual_matches"`
	Suggestions      int64           `json:"suggestions"`
	AppliedTotal     decimal.Decimal `json:"applied_total"`
	MatchRate        float64         `json:"match_rate"`
}
