package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturo/payment-engine/pkg/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func testConfig(name string) Config {
	return Config{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
}

func TestQueue_PublishAndConsume(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:deliveries"))
	require.NoError(t, err)

	ctx := context.Background()
	payload := map[string]string{"to": "pay.6789.tok@inbound.fakturo.cz"}

	_, err = q.PublishJSON(ctx, payload, map[string]string{"type": "delivery"})
	require.NoError(t, err)

	received := make(chan *Message, 1)
	handler := func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	}

	err = q.Consume(handler)
	require.NoError(t, err)

	select {
	case msg := <-received:
		var data map[string]string
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "pay.6789.tok@inbound.fakturo.cz", data["to"])
		assert.Equal(t, "delivery", msg.Metadata["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	q.Stop(time.Second)
}

func TestQueue_PublishJSON(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:json"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	payload := struct {
		From string `json:"from"`
		To   string `json:"to"`
	}{
		From: "noreply@banka.cz",
		To:   "pay.6789.tok@inbound.fakturo.cz",
	}

	id, err := q.PublishJSON(context.Background(), payload, map[string]string{"source": "webhook"})
	assert.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestQueue_GetStats(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:stats"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := q.PublishJSON(ctx, map[string]int{"count": i}, nil)
		require.NoError(t, err)
	}

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(5))
}

func TestQueue_ConfigDefaults(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, Config{Name: "test:defaults"})
	require.NoError(t, err)
	defer q.Stop(time.Second)

	assert.Equal(t, "default-group", q.config.ConsumerGroup)
	assert.NotEmpty(t, q.config.ConsumerName)
	assert.Equal(t, 3, q.config.MaxRetries)
	assert.Equal(t, 30*time.Second, q.config.VisibilityTimeout)
}

func TestQueue_MissingName(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	_, err := New(adapter, Config{})
	assert.Error(t, err)
}

func TestQueue_ConcurrentPublish(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:concurrent"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	numGoroutines := 10
	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			_, err := q.PublishJSON(ctx, map[string]int{"id": id}, nil)
			assert.NoError(t, err)
			done <- true
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(numGoroutines))
}

func TestQueue_Stop(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, testConfig("test:stop"))
	require.NoError(t, err)

	handler := func(ctx context.Context, msg *Message) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}

	err = q.Consume(handler)
	require.NoError(t, err)

	err = q.Stop(2 * time.Second)
	assert.NoError(t, err)
}
