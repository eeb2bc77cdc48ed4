// Package matching computes ranked invoice candidates for a transaction and
// applies the decision policy. Evaluation is pure: same transaction, same
// open-invoice set, same decision.
package matching

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/model"
)

// Rule identifies which cascade rule produced a candidate.
type Rule string

const (
	// RuleExactReference - structured reference code equals the invoice's code.
	RuleExactReference Rule = "exact_reference"
	// RuleFuzzyReference - free-text note contains a token matching the invoice number.
	RuleFuzzyReference Rule = "fuzzy_reference"
	// RuleAmountName - outstanding amount matches and counterparty name is similar.
	RuleAmountName Rule = "amount_counterparty"
	// RuleAmountOnly - outstanding amount matches and nothing else distinguishes.
	RuleAmountOnly Rule = "amount_only"
)

var ruleConfidence = map[Rule]float64{
	RuleExactReference: 1.0,
	RuleFuzzyReference: 0.85,
	RuleAmountName:     0.7,
	RuleAmountOnly:     0.5,
}

// Outcome is the decision for one transaction.
type Outcome string

const (
	// OutcomeAccept - create the match automatically.
	OutcomeAccept Outcome = "accept"
	// OutcomeReview - record the top candidates as suggestions for a human.
	OutcomeReview Outcome = "review"
	// OutcomeNone - no candidate worth surfacing.
	OutcomeNone Outcome = "none"
)

type Config struct {
	// AmountTolerance is the absolute difference still considered an amount
	// match. Zero means exact.
	AmountTolerance         decimal.Decimal
	AutoThreshold           float64
	ReviewThreshold         float64
	NameSimilarityThreshold float64
}

func DefaultConfig() Config {
	return Config{
		AmountTolerance:         decimal.Zero,
		AutoThreshold:           0.8,
		ReviewThreshold:         0.5,
		NameSimilarityThreshold: 0.8,
	}
}

// Candidate is one invoice the cascade considers payable by the transaction.
type Candidate struct {
	Invoice    model.OpenInvoice
	Rule       Rule
	Confidence float64
	// Applied is the amount that would be booked: the lesser of the
	// transaction amount and the invoice's outstanding amount.
	Applied decimal.Decimal
}

type Decision struct {
	Outcome Outcome
	// Ambiguous is set when more than one invoice ties at the top
	// confidence; ambiguity never auto-resolves.
	Ambiguous  bool
	Candidates []Candidate
}

type Engine struct {
	cfg Config
}

// NewEngine builds an engine. Unset thresholds fall back to DefaultConfig
// field by field; a zero AmountTolerance stays exact.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.AutoThreshold == 0 {
		cfg.AutoThreshold = def.AutoThreshold
	}
	if cfg.ReviewThreshold == 0 {
		cfg.ReviewThreshold = def.ReviewThreshold
	}
	if cfg.NameSimilarityThreshold == 0 {
		cfg.NameSimilarityThreshold = def.NameSimilarityThreshold
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate runs the rule cascade over the open invoices. Every invoice gets
// the highest rule it satisfies; candidates are ranked by confidence, then
// due-date proximity to the value date, then lowest invoice id.
func (e *Engine) Evaluate(txn *model.Transaction, invoices []model.OpenInvoice) Decision {
	var candidates []Candidate

	for _, inv := range invoices {
		if inv.Currency != txn.Currency {
			continue
		}
		if !inv.Outstanding.IsPositive() {
			continue
		}

		rule, ok := e.bestRule(txn, inv)
		if !ok {
			continue
		}

		candidates = append(candidates, Candidate{
			Invoice:    inv,
			Rule:       rule,
			Confidence: ruleConfidence[rule],
			Applied:    decimal.Min(txn.Amount, inv.Outstanding),
		})
	}

	if len(candidates) == 0 {
		return Decision{Outcome: OutcomeNone}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		da := dueDateDistance(a.Invoice, txn)
		db := dueDateDistance(b.Invoice, txn)
		if da != db {
			return da < db
		}
		return a.Invoice.ID < b.Invoice.ID
	})

	top := candidates[0]
	ambiguous := len(candidates) > 1 && candidates[1].Confidence == top.Confidence

	switch {
	case top.Confidence < e.cfg.ReviewThreshold:
		return Decision{Outcome: OutcomeNone, Candidates: candidates}
	case top.Confidence >= e.cfg.AutoThreshold && !ambiguous:
		return Decision{Outcome: OutcomeAccept, Candidates: candidates}
	default:
		return Decision{Outcome: OutcomeReview, Ambiguous: ambiguous, Candidates: candidates}
	}
}

func (e *Engine) bestRule(txn *model.Transaction, inv model.OpenInvoice) (Rule, bool) {
	amountMatches := e.amountWithinTolerance(txn.Amount, inv.Outstanding)

	if txn.VariableSymbol != "" && txn.VariableSymbol == invoiceReference(inv) {
		return RuleExactReference, true
	}
	if referenceTokenMatch(txn.Reference, inv) {
		return RuleFuzzyReference, true
	}
	if amountMatches && Similarity(txn.CounterpartyName, inv.CustomerName) >= e.cfg.NameSimilarityThreshold {
		return RuleAmountName, true
	}
	if amountMatches {
		return RuleAmountOnly, true
	}
	return "", false
}

func (e *Engine) amountWithinTolerance(amount, outstanding decimal.Decimal) bool {
	return amount.Sub(outstanding).Abs().LessThanOrEqual(e.cfg.AmountTolerance)
}

// invoiceReference is the structured code payments are expected to carry:
// the invoice's variable symbol, or the digits of its number when no symbol
// was assigned.
func invoiceReference(inv model.OpenInvoice) string {
	if inv.VariableSymbol != "" {
		return strings.TrimLeft(inv.VariableSymbol, "0")
	}
	return strings.TrimLeft(digitsOf(inv.InvoiceNumber), "0")
}

var referenceTokenRe = regexp.MustCompile(`\d{4,}`)

// referenceTokenMatch looks for a digit run in the free-text note that
// matches the invoice's numbering.
func referenceTokenMatch(reference string, inv model.OpenInvoice) bool {
	ref := invoiceReference(inv)
	if ref == "" {
		return false
	}
	for _, token := range referenceTokenRe.FindAllString(reference, -1) {
		if strings.TrimLeft(token, "0") == ref {
			return true
		}
	}
	return false
}

func digitsOf(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func dueDateDistance(inv model.OpenInvoice, txn *model.Transaction) int64 {
	d := inv.DueDate.Sub(txn.ValueDate)
	if d < 0 {
		d = -d
	}
	return int64(d)
}
