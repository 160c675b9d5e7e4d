package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidCheckpoint indicates a stored value could not be decoded.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// RedisStore keeps checkpoints in Redis as JSON values.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a store on redisClient. Saved checkpoints expire
// after ttl; zero keeps them until deleted.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient, ttl: ttl}
}

// Load retrieves the checkpoint of key.
func (s *RedisStore) Load(ctx context.Context, key Key) (*Checkpoint, error) {
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			checkpointOps.WithLabelValues("load", "miss").Inc()
			return nil, ErrNotFound
		}
		checkpointOps.WithLabelValues("load", "error").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		checkpointOps.WithLabelValues("load", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}

	checkpointOps.WithLabelValues("load", "hit").Inc()
	return &cp, nil
}

// Save stores cp under key, replacing any previous checkpoint.
func (s *RedisStore) Save(ctx context.Context, key Key, cp *Checkpoint) error {
	if cp == nil {
		return errNilCheckpoint
	}

	data, err := json.Marshal(cp)
	if err != nil {
		checkpointOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.redis.Set(ctx, key.String(), data, s.ttl).Err(); err != nil {
		checkpointOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	checkpointOps.WithLabelValues("save", "ok").Inc()
	return nil
}

// Delete removes the checkpoint of key.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		checkpointOps.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	checkpointOps.WithLabelValues("delete", "ok").Inc()
	return nil
}
