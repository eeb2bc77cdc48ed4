package redis

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var NilError = goredis.Nil

type Options = goredis.UniversalOptions

// StreamMessage is one entry read from a redis stream.
type StreamMessage struct {
	ID     string
	Values map[string]interface{}
}

type RedisAdapter interface {
	Set(key string, value []byte, ttl time.Duration) error
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	Get(key string) ([]byte, error)
	Del(key string) error
	Exist(key string) (int64, error)
	Client() goredis.UniversalClient

	XAdd(key string, values map[string]interface{}) (string, error)
	XReadGroup(group, consumer, key, id string, count int64, block time.Duration) ([]StreamMessage, error)
	XAck(key, group string, ids ...string) error
	XGroupCreateMkStream(key, group, start string) error
	XLen(key string) (int64, error)
	XDel(key string, ids ...string) error
	XTrimApprox(key string, maxLen int64) error
	XPendingExt(key, group, start, end string, count int64) ([]goredis.XPendingExt, error)
	XClaim(key, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error)
}

type redisAdapter struct {
	prefix   string
	conn     goredis.UniversalClient
	connName string
}

var (
	adapterLock = &sync.RWMutex{}
	adapters    map[string]RedisAdapter
)

func NewRedisAdapter(connName string, keysPrefix string, opts *goredis.UniversalOptions) (RedisAdapter, error) {
	adapterLock.RLock()
	if adapters != nil {
		if a, ok := adapters[connName]; ok {
			adapterLock.RUnlock()
			return a, nil
		}
	}
	adapterLock.RUnlock()

	adapterLock.Lock()
	defer adapterLock.Unlock()

	if adapters == nil {
		adapters = make(map[string]RedisAdapter)
	}
	if a, ok := adapters[connName]; ok {
		return a, nil
	}

	client := goredis.NewUniversalClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	a := &redisAdapter{
		prefix:   keysPrefix,
		conn:     client,
		connName: connName,
	}
	adapters[connName] = a
	return a, nil
}

func (r *redisAdapter) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *redisAdapter) Client() goredis.UniversalClient {
	return r.conn
}

func (r *redisAdapter) Set(key string, value []byte, ttl time.Duration) error {
	return r.conn.Set(context.Background(), r.key(key), value, ttl).Err()
}

func (r *redisAdapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	return r.conn.SetNX(context.Background(), r.key(key), value, ttl).Result()
}

func (r *redisAdapter) Get(key string) ([]byte, error) {
	return r.conn.Get(context.Background(), r.key(key)).Bytes()
}

func (r *redisAdapter) Del(key string) error {
	return r.conn.Del(context.Background(), r.key(key)).Err()
}

func (r *redisAdapter) Exist(key string) (int64, error) {
	return r.conn.Exists(context.Background(), r.key(key)).Result()
}

func (r *redisAdapter) XAdd(key string, values map[string]interface{}) (string, error) {
	return r.conn.XAdd(context.Background(), &goredis.XAddArgs{
		Stream: r.key(key),
		Values: values,
	}).Result()
}

func (r *redisAdapter) XReadGroup(group, consumer, key, id string, count int64, block time.Duration) ([]StreamMessage, error) {
	res, err := r.conn.XReadGroup(context.Background(), &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.key(key), id},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		return nil, err
	}
	var out []StreamMessage
	for _, stream := range res {
		for _, m := range stream.Messages {
			out = append(out, StreamMessage{ID: m.ID, Values: m.Values})
		}
	}
	return out, nil
}

func (r *redisAdapter) XAck(key, group string, ids ...string) error {
	return r.conn.XAck(context.Background(), r.key(key), group, ids...).Err()
}

func (r *redisAdapter) XGroupCreateMkStream(key, group, start string) error {
	return r.conn.XGroupCreateMkStream(context.Background(), r.key(key), group, start).Err()
}

func (r *redisAdapter) XLen(key string) (int64, error) {
	return r.conn.XLen(context.Background(), r.key(key)).Result()
}

func (r *redisAdapter) XDel(key string, ids ...string) error {
	return r.conn.XDel(context.Background(), r.key(key), ids...).Err()
}

func (r *redisAdapter) XTrimApprox(key string, maxLen int64) error {
	return r.conn.XTrimMaxLenApprox(context.Background(), r.key(key), maxLen, 0).Err()
}

func (r *redisAdapter) XPendingExt(key, group, start, end string, count int64) ([]goredis.XPendingExt, error) {
	return r.conn.XPendingExt(context.Background(), &goredis.XPendingExtArgs{
		Stream: r.key(key),
		Group:  group,
		Start:  start,
		End:    end,
		Count:  count,
	}).Result()
}

func (r *redisAdapter) XClaim(key, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error) {
	res, err := r.conn.XClaim(context.Background(), &goredis.XClaimArgs{
		Stream:   r.key(key),
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}
	var out []StreamMessage
	for _, m := range res {
		out = append(out, StreamMessage{ID: m.ID, Values: m.Values})
	}
	return out, nil
}
