package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fakturo/payment-engine/pkg/logger"
	"github.com/fakturo/payment-engine/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("delivery already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire processing lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// IdempotencyConfig tunes the redis-side dedup around delivery processing.
// The lock serializes consumers racing on one fingerprint; the processed
// marker short-circuits replays without a database round trip.
type IdempotencyConfig struct {
	LockTTL            time.Duration
	ProcessedTTL       time.Duration
	MaxRetries         int
	RetryKeyPrefix     string
	LockKeyPrefix      string
	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "delivery:retry:",
		LockKeyPrefix:      "delivery:lock:",
		ProcessedKeyPrefix: "delivery:done:",
	}
}

type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(adapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  adapter,
		config: config,
	}
}

// ProcessingContext tracks one acquired lock until the caller marks the
// outcome.
type ProcessingContext struct {
	Fingerprint  string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
}

// AcquireProcessingLock claims a delivery fingerprint for this consumer.
// Already-processed fingerprints and fingerprints past the retry budget
// are reported as distinct errors so the caller can ack instead of retry.
func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, fingerprint string) (*ProcessingContext, error) {
	exists, err := s.redis.Exist(s.config.ProcessedKeyPrefix + fingerprint)
	if err != nil {
		// Better to risk a duplicate attempt than to block processing; the
		// database fingerprint constraint still holds the line.
		logger.Warn("processed-marker check failed", "fingerprint", fingerprint, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	retryCount := 0
	if raw, err := s.redis.Get(s.config.RetryKeyPrefix + fingerprint); err == nil && len(raw) > 0 {
		retryCount, _ = strconv.Atoi(string(raw))
	}
	if retryCount >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: fingerprint=%s retries=%d", ErrMaxRetriesExceeded, fingerprint, retryCount)
	}

	lockValue := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	acquired, err := s.redis.SetNX(s.config.LockKeyPrefix+fingerprint, lockValue, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("processing lock acquired", "fingerprint", fingerprint, "retry_count", retryCount)

	return &ProcessingContext{
		Fingerprint:  fingerprint,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
	}, nil
}

// MarkSuccess sets the long-term processed marker and clears the lock and
// retry counter.
func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	if err := s.redis.Set(s.config.ProcessedKeyPrefix+pc.Fingerprint, []byte("1"), s.config.ProcessedTTL); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	s.cleanup(pc)
	return nil
}

// MarkFailure bumps the retry counter and releases the lock so another
// attempt can run after the queue reclaims the message.
func (s *IdempotencyService) MarkFailure(ctx context.Context, pc *ProcessingContext, reason error) error {
	newCount := pc.RetryCount + 1
	if err := s.redis.Set(s.config.RetryKeyPrefix+pc.Fingerprint, []byte(strconv.Itoa(newCount)), s.config.ProcessedTTL); err != nil {
		logger.Error("increment retry counter", "fingerprint", pc.Fingerprint, "error", err)
	}

	if err := s.redis.Del(s.config.LockKeyPrefix + pc.Fingerprint); err != nil {
		logger.Warn("remove lock", "fingerprint", pc.Fingerprint, "error", err)
	}
	pc.lockAcquired = false

	logger.Warn("delivery processing failed, will retry",
		"fingerprint", pc.Fingerprint,
		"retry_count", newCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)
	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}
	if err := s.redis.Del(s.config.LockKeyPrefix + pc.Fingerprint); err != nil {
		logger.Warn("release lock", "fingerprint", pc.Fingerprint, "error", err)
		return err
	}
	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, fingerprint string) (bool, error) {
	exists, err := s.redis.Exist(s.config.ProcessedKeyPrefix + fingerprint)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, fingerprint string) (int, error) {
	raw, err := s.redis.Get(s.config.RetryKeyPrefix + fingerprint)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}
	n, _ := strconv.Atoi(string(raw))
	return n, nil
}

func (s *IdempotencyService) cleanup(pc *ProcessingContext) {
	if err := s.redis.Del(s.config.LockKeyPrefix + pc.Fingerprint); err != nil {
		logger.Warn("cleanup lock", "fingerprint", pc.Fingerprint, "error", err)
	}
	if err := s.redis.Del(s.config.RetryKeyPrefix + pc.Fingerprint); err != nil {
		logger.Warn("cleanup retry counter", "fingerprint", pc.Fingerprint, "error", err)
	}
	pc.lockAcquired = false
}
