// Package extractor turns raw payment-notification email bodies into
// normalized candidate transactions. The engine owns only the contract;
// the extraction technique (model-based or pattern-based) is pluggable.
package extractor

import (
	"context"
	"errors"
	"time"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/pkg/logger"
)

var (
	// ErrUnavailable - the extraction collaborator could not be reached or
	// returned unparseable output.
	ErrUnavailable = errors.New("extractor unavailable")
)

// AccountHint carries per-account context an extractor may use.
type AccountHint struct {
	AccountID     int64
	MatchOutgoing bool
	ReceivedAt    time.Time
}

// Extractor is the extraction collaborator contract. Implementations return
// zero or more candidates; malformed input yields an empty slice, not an
// error. Errors are reserved for the collaborator itself being unusable.
type Extractor interface {
	Extract(ctx context.Context, body string, hint AccountHint) ([]model.CandidateTransaction, error)
}

// Sanitize validates and normalizes raw candidates. Invalid lines are
// dropped, outgoing lines are dropped unless the account opts in, and
// missing value dates fall back to the delivery timestamp.
func Sanitize(candidates []model.CandidateTransaction, hint AccountHint) []model.CandidateTransaction {
	out := make([]model.CandidateTransaction, 0, len(candidates))
	for _, c := range candidates {
		c.Normalize()
		if err := c.Validate(); err != nil {
			logger.Debug("dropping candidate", "reason", err)
			continue
		}
		if c.Outgoing && !hint.MatchOutgoing {
			continue
		}
		if c.ValueDate.IsZero() {
			c.ValueDate = hint.ReceivedAt
		}
		out = append(out, c)
	}
	return out
}

type bounded struct {
	inner   Extractor
	sem     chan struct{}
	timeout time.Duration
}

// NewBounded wraps an extractor with a concurrency cap and a per-call
// timeout so a slow collaborator cannot pile up goroutines or block the
// gateway indefinitely.
func NewBounded(inner Extractor, concurrency int, timeout time.Duration) Extractor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &bounded{
		inner:   inner,
		sem:     make(chan struct{}, concurrency),
		timeout: timeout,
	}
}

func (b *bounded) Extract(ctx context.Context, body string, hint AccountHint) ([]model.CandidateTransaction, error) {
	select {
	case b.sem <- struct{}{}:
		defer func() { <-b.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	return b.inner.Extract(ctx, body, hint)
}
