package extractor

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturo/payment-engine/internal/model"
)

// RegexExtractor parses Czech bank notification emails with fixed patterns.
// It is the offline fallback for the model-based extractor and the default
// in tests and development.
type RegexExtractor struct{}

func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

var (
	amountRe  = regexp.MustCompile(`(?i)([+-]?\d[\d \x{00a0}.,]*)\s*(CZK|EUR|USD|Kč)`)
	vsRe      = regexp.MustCompile(`(?i)\bVS[.:\s]*(\d{1,10})\b`)
	ksRe      = regexp.MustCompile(`(?i)\bKS[.:\s]*(\d{1,10})\b`)
	ssRe      = regexp.MustCompile(`(?i)\bSS[.:\s]*(\d{1,10})\b`)
	acctRe    = regexp.MustCompile(`\b(\d{0,6}-?\d{2,10}/\d{4})\b`)
	czDateRe  = regexp.MustCompile(`\b(\d{1,2})\.\s?(\d{1,2})\.\s?(\d{4})\b`)
	isoDateRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	fromRe    = regexp.MustCompile(`(?i)(?:from|od|odesílatel|protiúčet název)[:\s]+([^,;\n]+)`)
)

// Extract splits the body into blank-line separated blocks and turns each
// block carrying an amount into one candidate, so statement digests with
// several payment lines yield several candidates.
func (e *RegexExtractor) Extract(_ context.Context, body string, hint AccountHint) ([]model.CandidateTransaction, error) {
	var candidates []model.CandidateTransaction

	for _, block := range splitBlocks(body) {
		c, ok := parseBlock(block)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}

	return Sanitize(candidates, hint), nil
}

func splitBlocks(body string) []string {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	blocks := regexp.MustCompile(`\n\s*\n`).Split(normalized, -1)
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return out
}

func parseBlock(block string) (model.CandidateTransaction, bool) {
	var c model.CandidateTransaction

	am := amountRe.FindStringSubmatch(block)
	if am == nil {
		return c, false
	}

	raw := strings.TrimSpace(am[1])
	amount, ok := parseAmount(raw)
	if !ok {
		return c, false
	}
	if amount.IsNegative() {
		c.Outgoing = true
		amount = amount.Neg()
	}
	c.Amount = amount

	currency := strings.ToUpper(am[2])
	if currency == "KČ" {
		currency = "CZK"
	}
	c.Currency = currency

	if m := vsRe.FindStringSubmatch(block); m != nil {
		c.VariableSymbol = m[1]
	}
	if m := ksRe.FindStringSubmatch(block); m != nil {
		c.ConstantSymbol = m[1]
	}
	if m := ssRe.FindStringSubmatch(block); m != nil {
		c.SpecificSymbol = m[1]
	}
	if m := acctRe.FindStringSubmatch(block); m != nil {
		c.CounterpartyAccount = m[1]
	}
	if m := fromRe.FindStringSubmatch(block); m != nil {
		c.CounterpartyName = strings.TrimSpace(m[1])
	}
	if d, ok := parseDate(block); ok {
		c.ValueDate = d
	}

	c.Reference = strings.TrimSpace(block)
	return c, true
}

// parseAmount handles Czech formats: non-breaking and regular spaces as
// thousand separators, comma as the decimal separator, dot tolerated as
// either depending on position.
func parseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, raw)

	if strings.Contains(s, ",") {
		// comma is the decimal separator, dots are grouping
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else if i := strings.LastIndex(s, "."); i >= 0 && len(s)-i-1 == 3 && strings.Count(s, ".") >= 1 && len(s) > 4 {
		// trailing 3-digit group: dots are thousands separators
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseDate(block string) (time.Time, bool) {
	if m := isoDateRe.FindStringSubmatch(block); m != nil {
		if t, err := time.Parse("2006-01-02", m[0]); err == nil {
			return t, true
		}
	}
	if m := czDateRe.FindStringSubmatch(block); m != nil {
		if t, err := time.Parse("2.1.2006", m[1]+"."+m[2]+"."+m[3]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
