package processor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fakturo/payment-engine/internal/model"
	"github.com/fakturo/payment-engine/internal/queue"
	"github.com/fakturo/payment-engine/internal/services"
	"github.com/fakturo/payment-engine/pkg/logger"
)

// Ingester is the ingest pipeline contract the processor drives.
type Ingester interface {
	Ingest(ctx context.Context, req model.DeliveryRequest) (*model.IngestResult, error)
}

// DeliveryProcessor replays queued webhook payloads through the ingest
// pipeline with redis-level idempotency on the delivery fingerprint.
type DeliveryProcessor struct {
	ingest      Ingester
	idempotency *IdempotencyService
}

func NewDeliveryProcessor(ingest Ingester, idempotency *IdempotencyService) *DeliveryProcessor {
	return &DeliveryProcessor{
		ingest:      ingest,
		idempotency: idempotency,
	}
}

func (p *DeliveryProcessor) GetType() string {
	return "delivery"
}

func (p *DeliveryProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var req model.DeliveryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		logger.Error("unmarshal queued delivery", "message_id", msg.ID, "error", err)
		// Malformed payloads never succeed on retry.
		return err
	}

	fingerprint := req.ComputeFingerprint()

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			return nil
		case errors.Is(err, ErrMaxRetriesExceeded):
			logger.Error("delivery exhausted retries", "fingerprint", fingerprint)
			return nil
		case errors.Is(err, ErrLockAcquireFailed):
			// Another consumer holds it; leave the message pending.
			return errors.New("lock held by another consumer")
		default:
			return err
		}
	}
	defer p.idempotency.ReleaseLock(ctx, procCtx)

	result, err := p.ingest.Ingest(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownAccount):
			// Rejected deliveries are recorded; retrying cannot change the
			// recipient address.
			_ = p.idempotency.MarkSuccess(ctx, procCtx)
			return nil
		case errors.Is(err, services.ErrExtractionFailed):
			_ = p.idempotency.MarkFailure(ctx, procCtx, err)
			return err
		default:
			_ = p.idempotency.MarkFailure(ctx, procCtx, err)
			return err
		}
	}

	logger.Info("queued delivery processed",
		"delivery_id", result.DeliveryID,
		"processed", result.Processed,
		"matched", result.Matched,
		"duplicate", result.Duplicate,
		"retry_count", procCtx.RetryCount)

	return p.idempotency.MarkSuccess(ctx, procCtx)
}
