// Package queue is a small at-least-once delivery queue on redis streams.
// The webhook handler publishes raw deliveries here in async mode and the
// processor consumes them; consumer groups give retry and a dead-letter
// stream for poison messages.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fakturo/payment-engine/pkg/logger"
	"github.com/fakturo/payment-engine/pkg/redis"
)

// Message is one queued entry. Attempts counts reclaims; a message past
// MaxRetries goes to the dead-letter stream instead of the handler.
type Message struct {
	ID        string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	Attempts  int
}

// Handler processes one message. A nil return acks the message; an error
// leaves it pending so the visibility timeout reclaims it.
type Handler func(ctx context.Context, msg *Message) error

type Config struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

type Queue struct {
	adapter redis.RedisAdapter
	config  Config
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Stats struct {
	TotalMessages   int64
	PendingMessages int64
}

func New(adapter redis.RedisAdapter, config Config) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	// BUSYGROUP from a previous run is fine.
	_ = q.adapter.XGroupCreateMkStream(q.config.Name, q.config.ConsumerGroup, "0")

	return q, nil
}

func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"attempts":  0,
	}
	for k, v := range metadata {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	if q.config.MaxLen > 0 {
		_ = q.adapter.XTrimApprox(q.config.Name, q.config.MaxLen)
	}

	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return q.Publish(ctx, jsonData, metadata)
}

// Consume starts the consumer loop in the background. Messages are acked
// when the handler returns nil and retried otherwise.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	q.handler = handler
	q.wg.Add(1)
	go q.consumeLoop()

	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		q.readNew()
		q.claimStuck()
	}
}

func (q *Queue) readNew() {
	messages, err := q.adapter.XReadGroup(
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.Name,
		">",
		q.config.BatchSize,
		q.config.PollInterval,
	)
	if err != nil {
		if err != redis.NilError {
			logger.Warn("queue read", "queue", q.config.Name, "error", err)
		}
		return
	}

	for _, sm := range messages {
		q.handleMessage(q.decode(sm))
	}
}

// claimStuck reclaims messages another consumer read but never acked.
// Every reclaim bumps the attempt counter.
func (q *Queue) claimStuck() {
	pending, err := q.adapter.XPendingExt(q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pending) == 0 {
		return
	}

	var ids []string
	attempts := make(map[string]int, len(pending))
	for _, p := range pending {
		if p.Idle >= q.config.VisibilityTimeout {
			ids = append(ids, p.ID)
			attempts[p.ID] = int(p.RetryCount)
		}
	}
	if len(ids) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		return
	}

	for _, sm := range messages {
		msg := q.decode(sm)
		if n, ok := attempts[msg.ID]; ok && n > msg.Attempts {
			msg.Attempts = n
		}
		q.handleMessage(msg)
	}
}

func (q *Queue) handleMessage(msg *Message) {
	if msg.Attempts >= q.config.MaxRetries {
		q.moveToDeadLetter(msg)
		_ = q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, msg); err != nil {
		logger.Warn("queue handler failed", "queue", q.config.Name, "message_id", msg.ID, "attempts", msg.Attempts, "error", err)
		return
	}

	_ = q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, msg.ID)
}

func (q *Queue) moveToDeadLetter(msg *Message) {
	if !q.config.EnableDLQ {
		return
	}

	values := map[string]interface{}{
		"data":           string(msg.Data),
		"original_id":    msg.ID,
		"attempts":       msg.Attempts,
		"failed_at":      time.Now().Unix(),
		"original_queue": q.config.Name,
	}
	for k, v := range msg.Metadata {
		values["meta_"+k] = v
	}

	if _, err := q.adapter.XAdd(q.config.Name+":dlq", values); err != nil {
		logger.Error("dead-letter publish", "queue", q.config.Name, "message_id", msg.ID, "error", err)
	}
}

func (q *Queue) decode(sm redis.StreamMessage) *Message {
	msg := &Message{
		ID:       sm.ID,
		Metadata: make(map[string]string),
	}

	for k, v := range sm.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "data":
			msg.Data = []byte(s)
		case "timestamp":
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				msg.Timestamp = ts
			}
		case "attempts":
			if n, err := strconv.Atoi(s); err == nil {
				msg.Attempts = n
			}
		default:
			if len(k) > 5 && k[:5] == "meta_" {
				msg.Metadata[k[5:]] = s
			}
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	return msg
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}

func (q *Queue) GetStats() (*Stats, error) {
	total, err := q.adapter.XLen(q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalMessages: total}
	if pending, err := q.adapter.XPendingExt(q.config.Name, q.config.ConsumerGroup, "-", "+", 1000); err == nil {
		stats.PendingMessages = int64(len(pending))
	}

	return stats, nil
}
