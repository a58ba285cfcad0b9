package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/railzway-connect/internal/reconnect"
)

const promptPrefix = "connect:prompt:"

// RedisPromptStore persists reconnection prompt state per owner and provider.
type RedisPromptStore struct {
	client redis.UniversalClient
}

var _ reconnect.Store = (*RedisPromptStore)(nil)

func NewRedisPromptStore(client redis.UniversalClient) *RedisPromptStore {
	return &RedisPromptStore{client: client}
}

func promptKey(key reconnect.Key) string {
	return promptPrefix + strconv.FormatInt(key.Owner.TenantID, 10) + ":" + key.Owner.UserID + ":" + key.Provider.String()
}

func (s *RedisPromptStore) LoadPrompt(ctx context.Context, key reconnect.Key) (*reconnect.State, error) {
	bytes, err := s.client.Get(ctx, promptKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load prompt: %w", err)
	}
	var state reconnect.State
	if err := json.Unmarshal(bytes, &state); err != nil {
		return nil, fmt.Errorf("decode prompt: %w", err)
	}
	return &state, nil
}

func (s *RedisPromptStore) SavePrompt(ctx context.Context, key reconnect.Key, state reconnect.State, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	if err := s.client.Set(ctx, promptKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist prompt: %w", err)
	}
	return nil
}

func (s *RedisPromptStore) DeletePrompt(ctx context.Context, key reconnect.Key) error {
	if err := s.client.Del(ctx, promptKey(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete prompt: %w", err)
	}
	return nil
}
