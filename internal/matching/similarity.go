package matching

import (
	"strings"

	"github.com/gosimple/slug"
)

// NormalizeName folds case, diacritics and punctuation so that
// "Firma ABC, s.r.o." and "FIRMA ABC sro" compare well.
func NormalizeName(s string) string {
	return strings.ReplaceAll(slug.Make(s), "-", " ")
}

// Similarity scores two counterparty names in [0,1]. Containment of the
// shorter normalized name in the longer one is a full match; otherwise each
// token of the invoice name is scored against its closest transaction token
// by levenshtein ratio and the scores are averaged.
func Similarity(bankName, invoiceName string) float64 {
	a := NormalizeName(bankName)
	b := NormalizeName(invoiceName)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		return 1
	}

	aTokens := strings.Fields(a)
	bTokens := strings.Fields(b)
	if len(bTokens) == 0 {
		return 0
	}

	total := 0.0
	for _, bt := range bTokens {
		best := 0.0
		for _, at := range aTokens {
			dist := levenshtein(bt, at)
			maxLen := len(bt)
			if len(at) > maxLen {
				maxLen = len(at)
			}
			sim := 1 - float64(dist)/float64(maxLen)
			if sim > best {
				best = sim
			}
		}
		total += best
	}

	return total / float64(len(bTokens))
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		dp[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		dp[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			dp[i][j] = min3(
				dp[i-1][j]+1,
				dp[i][j-1]+1,
				dp[i-1][j-1]+cost,
			)
		}
	}
	return dp[len(a)][len(b)]
}

func min3(a, b, c int) int {
	if a < b && a < c {
		return a
	}
	if b < c {
		return b
	}
	return c
}
