// Package cache keeps the latest timer checkpoint of every match in Redis
// so a restarted server can resume a countdown that Postgres only saw
// every few ticks.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KV is the slice of Redis the cache uses.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Del(ctx context.Context, key string) error
}

// Checkpoint is the stored value.
type Checkpoint struct {
	Remaining int       `json:"remaining"`
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TimerCache implements match.Checkpoints.
type TimerCache struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

// NewTimerCache creates a cache. A zero ttl keeps checkpoints for 6 hours.
func NewTimerCache(kv KV, ttl time.Duration) *TimerCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &TimerCache{kv: kv, ttl: ttl, now: time.Now}
}

func timerKey(matchID uuid.UUID) string {
	return "match:" + matchID.String() + ":timer"
}

func (c *TimerCache) Save(ctx context.Context, matchID uuid.UUID, remaining int, running bool) error {
	data, err := json.Marshal(Checkpoint{Remaining: remaining, Running: running, UpdatedAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := c.kv.Set(ctx, timerKey(matchID), data, c.ttl); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the last saved remaining time, if any.
func (c *TimerCache) Load(ctx context.Context, matchID uuid.UUID) (int, bool, error) {
	cp, ok, err := c.Get(ctx, matchID)
	if err != nil || !ok {
		return 0, false, err
	}
	return cp.Remaining, true, nil
}

// Get returns the full checkpoint.
func (c *TimerCache) Get(ctx context.Context, matchID uuid.UUID) (*Checkpoint, bool, error) {
	data, ok, err := c.kv.Get(ctx, timerKey(matchID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, false, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, true, nil
}

func (c *TimerCache) Clear(ctx context.Context, matchID uuid.UUID) error {
	if err := c.kv.Del(ctx, timerKey(matchID)); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	client redis.UniversalClient
}

func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Connect opens a client to addr and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}
