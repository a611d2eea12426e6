package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/presenceio/presenced/internal/pipeline"
)

const keyPrefix = "result:"

// RedisStore keeps outcomes in Redis with a retention TTL. SET NX gives the
// create-only semantics without a round trip to check first.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, outcome *pipeline.Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+outcome.TaskID, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store outcome for task %s: %w", outcome.TaskID, err)
	}
	if !ok {
		return ErrAlreadyWritten
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (*pipeline.Outcome, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load outcome for task %s: %w", taskID, err)
	}

	var outcome pipeline.Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal outcome for task %s: %w", taskID, err)
	}
	return &outcome, true, nil
}

// Ping verifies the Redis connection, used by the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
