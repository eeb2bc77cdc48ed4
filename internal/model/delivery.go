package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DeliveryStatus is the terminal state of one webhook delivery.
type DeliveryStatus string

const (
	// DeliveryStatusReceived - recorded, processing not finished yet.
	DeliveryStatusReceived DeliveryStatus = "received"
	// DeliveryStatusProcessed - extraction ran and stored zero or more transactions.
	DeliveryStatusProcessed DeliveryStatus = "processed"
	// DeliveryStatusEmpty - extraction ran but the mail carried no payment lines.
	DeliveryStatusEmpty DeliveryStatus = "empty"
	// DeliveryStatusFailed - extractor unreachable or returned garbage; kept for reprocessing.
	DeliveryStatusFailed DeliveryStatus = "failed"
	// DeliveryStatusRejected - recipient did not resolve to an active account.
	DeliveryStatusRejected DeliveryStatus = "rejected"
)

// Delivery is one inbound webhook delivery, kept immutably for audit and
// idempotency checks. A replayed delivery with the same fingerprint is a no-op.
type Delivery struct {
	ID          int64          `json:"id"`
	AccountID   *int64         `json:"account_id,omitempty"`
	From        string         `json:"from"`
	To          string         `json:"to"`
	Subject     string         `json:"subject"`
	Body        string         `json:"-"`
	ProviderID  string         `json:"provider_id,omitempty"`
	Fingerprint string         `json:"fingerprint"`
	Status      DeliveryStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	Processed   int            `json:"processed"`
	Matched     int            `json:"matched"`
	ReceivedAt  time.Time      `json:"received_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// DeliveryRequest is the wire payload of the inbound email webhook.
type DeliveryRequest struct {
	From       string
	To         string
	Subject    string
	Body       string
	ProviderID string
	ReceivedAt time.Time
}

func (r DeliveryRequest) Validate() error {
	if strings.TrimSpace(r.To) == "" {
		return errors.New("to is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("body is required")
	}
	return nil
}

// ComputeFingerprint derives the delivery identity used for idempotency.
// A provider-supplied delivery id wins; otherwise sender, recipient, subject
// and the received timestamp are hashed together.
func (r DeliveryRequest) ComputeFingerprint() string {
	if r.ProviderID != "" {
		return fingerprint("provider", r.ProviderID)
	}
	return fingerprint(r.From, r.To, r.Subject, r.ReceivedAt.UTC().Format(time.RFC3339))
}

func fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IngestResult is what the webhook caller gets back.
type IngestResult struct {
	Success    bool  `json:"success"`
	Processed  int   `json:"processed"`
	Matched    int   `json:"matched"`
	Duplicate  bool  `json:"duplicate,omitempty"`
	DeliveryID int64 `json:"delivery_id,omitempty"`
}

// DeliveryFilter controls delivery listing.
type DeliveryFilter struct {
	AccountID *int64
	Statuses  []DeliveryStatus
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
	Desc      bool
}
