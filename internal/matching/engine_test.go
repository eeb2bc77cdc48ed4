package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturo/payment-engine/internal/model"
)

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testTxn(amount, currency, vs, reference, name string) *model.Transaction {
	return &model.Transaction{
		ID:               1,
		Amount:           money(amount),
		Currency:         currency,
		VariableSymbol:   vs,
		Reference:        reference,
		CounterpartyName: name,
		ValueDate:        day("2025-03-10"),
	}
}

func testInvoice(id int64, number, vs, outstanding, currency, customer string, due time.Time) model.OpenInvoice {
	out := money(outstanding)
	return model.OpenInvoice{
		ID:             id,
		InvoiceNumber:  number,
		CompanyID:      1,
		VariableSymbol: vs,
		Total:          out,
		Outstanding:    out,
		Currency:       currency,
		CustomerName:   customer,
		DueDate:        due,
	}
}

func TestNewEngine_PartialConfigKeepsCallerSettings(t *testing.T) {
	e := NewEngine(Config{
		AmountTolerance:         money("0.50"),
		NameSimilarityThreshold: 0.9,
	})

	cfg := e.Config()
	assert.True(t, cfg.AmountTolerance.Equal(money("0.50")))
	assert.Equal(t, 0.9, cfg.NameSimilarityThreshold)
	// unset thresholds fall back individually
	assert.Equal(t, DefaultConfig().AutoThreshold, cfg.AutoThreshold)
	assert.Equal(t, DefaultConfig().ReviewThreshold, cfg.ReviewThreshold)
}

func TestNewEngine_ZeroConfigUsesDefaults(t *testing.T) {
	cfg := NewEngine(Config{}).Config()
	assert.Equal(t, DefaultConfig().AutoThreshold, cfg.AutoThreshold)
	assert.Equal(t, DefaultConfig().ReviewThreshold, cfg.ReviewThreshold)
	assert.Equal(t, DefaultConfig().NameSimilarityThreshold, cfg.NameSimilarityThreshold)
	assert.True(t, cfg.AmountTolerance.IsZero())
}

func TestEngine_Evaluate_ExactReference(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("1500.00", "CZK", "2025001", "", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-2025001", "2025001", "1500.00", "CZK", "Novak s.r.o.", day("2025-03-15")),
		testInvoice(2, "FV-2025002", "2025002", "1500.00", "CZK", "Other a.s.", day("2025-03-20")),
	}

	d := e.Evaluate(txn, invoices)
	require.Equal(t, OutcomeAccept, d.Outcome)
	require.NotEmpty(t, d.Candidates)
	assert.Equal(t, RuleExactReference, d.Candidates[0].Rule)
	assert.Equal(t, 1.0, d.Candidates[0].Confidence)
	assert.Equal(t, int64(1), d.Candidates[0].Invoice.ID)
	assert.True(t, d.Candidates[0].Applied.Equal(money("1500.00")))
}

func TestEngine_Evaluate_ExactReference_LeadingZeros(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Banks commonly left-pad the variable symbol with zeros; normalization
	// strips them before comparison.
	txn := testTxn("900.00", "CZK", "2025007", "", "")
	inv := testInvoice(1, "FV-2025007", "0002025007", "900.00", "CZK", "", day("2025-03-15"))

	d := e.Evaluate(txn, []model.OpenInvoice{inv})
	require.Equal(t, OutcomeAccept, d.Outcome)
	assert.Equal(t, RuleExactReference, d.Candidates[0].Rule)
}

func TestEngine_Evaluate_FuzzyReference(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("800.00", "CZK", "", "platba za fakturu 2025042, dekujeme", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-2025042", "", "1000.00", "CZK", "", day("2025-03-15")),
	}

	d := e.Evaluate(txn, invoices)
	require.Equal(t, OutcomeAccept, d.Outcome)
	assert.Equal(t, RuleFuzzyReference, d.Candidates[0].Rule)
	assert.Equal(t, 0.85, d.Candidates[0].Confidence)
	// Partial payment: applied capped at the transaction amount.
	assert.True(t, d.Candidates[0].Applied.Equal(money("800.00")))
}

func TestEngine_Evaluate_AmountAndName(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("2420.00", "CZK", "", "", "NOVÁK JAN")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-2025010", "", "2420.00", "CZK", "Jan Novak", day("2025-03-15")),
	}

	d := e.Evaluate(txn, invoices)
	require.Equal(t, OutcomeReview, d.Outcome)
	assert.Equal(t, RuleAmountName, d.Candidates[0].Rule)
	assert.Equal(t, 0.7, d.Candidates[0].Confidence)
}

func TestEngine_Evaluate_AmountOnly_SingleCandidate(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("1234.56", "CZK", "", "", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-2025011", "", "1234.56", "CZK", "Firma A", day("2025-03-15")),
		testInvoice(2, "FV-2025012", "", "9999.00", "CZK", "Firma B", day("2025-03-20")),
	}

	d := e.Evaluate(txn, invoices)
	require.Equal(t, OutcomeReview, d.Outcome)
	assert.False(t, d.Ambiguous)
	assert.Equal(t, RuleAmountOnly, d.Candidates[0].Rule)
	assert.Len(t, d.Candidates, 1)
}

func TestEngine_Evaluate_AmountOnly_Ambiguous(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Two open invoices for the same amount: nothing distinguishes them, so
	// both become review candidates and the decision is flagged ambiguous.
	txn := testTxn("500.00", "CZK", "", "", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-2025020", "", "500.00", "CZK", "Firma A", day("2025-03-15")),
		testInvoice(2, "FV-2025021", "", "500.00", "CZK", "Firma B", day("2025-03-20")),
	}

	d := e.Evaluate(txn, invoices)
	require.Equal(t, OutcomeReview, d.Outcome)
	assert.True(t, d.Ambiguous)
	assert.Len(t, d.Candidates, 2)
}

func TestEngine_Evaluate_AmbiguousTopNeverAutoAccepts(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Both invoices carry the same variable symbol (duplicate data entry).
	// Exact-reference confidence alone would auto-accept, but the tie makes
	// the decision ambiguous and routes it to review.
	txn := testTxn("100.00", "CZK", "42420001", "", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-A", "42420001", "100.00", "CZK", "", day("2025-03-15")),
		testInvoice(2, "FV-B", "42420001", "100.00", "CZK", "", day("2025-03-20")),
	}

	d := e.Evaluate(txn, invoices)
	assert.Equal(t, OutcomeReview, d.Outcome)
	assert.True(t, d.Ambiguous)
}

func TestEngine_Evaluate_CurrencyMustMatch(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("1500.00", "EUR", "2025001", "", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-2025001", "2025001", "1500.00", "CZK", "", day("2025-03-15")),
	}

	d := e.Evaluate(txn, invoices)
	assert.Equal(t, OutcomeNone, d.Outcome)
	assert.Empty(t, d.Candidates)
}

func TestEngine_Evaluate_NoOpenInvoices(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("1500.00", "CZK", "2025001", "", "")
	d := e.Evaluate(txn, nil)
	assert.Equal(t, OutcomeNone, d.Outcome)
}

func TestEngine_Evaluate_TieBreakByDueDate(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Same confidence on both; the invoice whose due date sits closer to
	// the payment's value date ranks first.
	txn := testTxn("300.00", "CZK", "", "", "")
	invoices := []model.OpenInvoice{
		testInvoice(5, "FV-1", "", "300.00", "CZK", "", day("2025-06-01")),
		testInvoice(6, "FV-2", "", "300.00", "CZK", "", day("2025-03-11")),
	}

	d := e.Evaluate(txn, invoices)
	require.Len(t, d.Candidates, 2)
	assert.Equal(t, int64(6), d.Candidates[0].Invoice.ID)
}

func TestEngine_Evaluate_TieBreakByInvoiceID(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("300.00", "CZK", "", "", "")
	due := day("2025-03-15")
	invoices := []model.OpenInvoice{
		testInvoice(9, "FV-1", "", "300.00", "CZK", "", due),
		testInvoice(3, "FV-2", "", "300.00", "CZK", "", due),
	}

	d := e.Evaluate(txn, invoices)
	require.Len(t, d.Candidates, 2)
	assert.Equal(t, int64(3), d.Candidates[0].Invoice.ID)
}

func TestEngine_Evaluate_Deterministic(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("500.00", "CZK", "", "", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-1", "", "500.00", "CZK", "A", day("2025-03-15")),
		testInvoice(2, "FV-2", "", "500.00", "CZK", "B", day("2025-03-20")),
		testInvoice(3, "FV-3", "", "500.00", "CZK", "C", day("2025-03-25")),
	}

	first := e.Evaluate(txn, invoices)
	for i := 0; i < 10; i++ {
		again := e.Evaluate(txn, invoices)
		require.Equal(t, first.Outcome, again.Outcome)
		require.Equal(t, len(first.Candidates), len(again.Candidates))
		for j := range first.Candidates {
			assert.Equal(t, first.Candidates[j].Invoice.ID, again.Candidates[j].Invoice.ID)
		}
	}
}

func TestEngine_Evaluate_AmountTolerance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AmountTolerance = money("0.50")
	e := NewEngine(cfg)

	txn := testTxn("1000.30", "CZK", "", "", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-1", "", "1000.00", "CZK", "", day("2025-03-15")),
	}

	d := e.Evaluate(txn, invoices)
	require.Equal(t, OutcomeReview, d.Outcome)
	assert.Equal(t, RuleAmountOnly, d.Candidates[0].Rule)
}

func TestEngine_Evaluate_ZeroToleranceRejectsNearMiss(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("1000.30", "CZK", "", "", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-1", "", "1000.00", "CZK", "", day("2025-03-15")),
	}

	d := e.Evaluate(txn, invoices)
	assert.Equal(t, OutcomeNone, d.Outcome)
}

func TestEngine_Evaluate_ExactReferenceBeatsAmountRules(t *testing.T) {
	e := NewEngine(DefaultConfig())

	txn := testTxn("750.00", "CZK", "2025099", "", "Firma B")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-2025098", "", "750.00", "CZK", "Firma B", day("2025-03-15")),
		testInvoice(2, "FV-2025099", "2025099", "900.00", "CZK", "Firma C", day("2025-03-20")),
	}

	d := e.Evaluate(txn, invoices)
	require.Equal(t, OutcomeAccept, d.Outcome)
	assert.Equal(t, int64(2), d.Candidates[0].Invoice.ID)
	assert.Equal(t, RuleExactReference, d.Candidates[0].Rule)
}

func TestEngine_Evaluate_SkipsSettledInvoices(t *testing.T) {
	e := NewEngine(DefaultConfig())

	settled := testInvoice(1, "FV-1", "2025001", "100.00", "CZK", "", day("2025-03-15"))
	settled.Outstanding = decimal.Zero

	txn := testTxn("100.00", "CZK", "2025001", "", "")
	d := e.Evaluate(txn, []model.OpenInvoice{settled})
	assert.Equal(t, OutcomeNone, d.Outcome)
}

func TestEngine_Evaluate_FuzzyIgnoresShortDigitRuns(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// "42" alone must not match invoice 42; only runs of four or more
	// digits count as reference tokens.
	txn := testTxn("10.00", "CZK", "", "objednavka 42", "")
	invoices := []model.OpenInvoice{
		testInvoice(1, "FV-42", "42", "999.00", "CZK", "", day("2025-03-15")),
	}

	d := e.Evaluate(txn, invoices)
	assert.Equal(t, OutcomeNone, d.Outcome)
}
