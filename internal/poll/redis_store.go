package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pollvote:"

// RedisStore keeps vote records in Redis under pollvote:{voter}:{pollId}.
type RedisStore struct {
	client *redis.Client
	voter  string
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// ForVoter returns a store for one voter sharing the same connection.
func (s *RedisStore) ForVoter(voter string) *RedisStore {
	return &RedisStore{client: s.client, voter: voter}
}

func (s *RedisStore) key(pollID string) string {
	return keyPrefix + s.voter + ":" + pollID
}

func (s *RedisStore) Load(ctx context.Context, pollID string) (VoteRecord, bool, error) {
	raw, err := s.client.Get(ctx, s.key(pollID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return VoteRecord{}, false, nil
	}
	if err != nil {
		return VoteRecord{}, false, fmt.Errorf("load vote record: %w", err)
	}
	var rec VoteRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return VoteRecord{}, false, fmt.Errorf("decode vote record: %w", err)
	}
	return rec, true, nil
}

func (s *RedisStore) Save(ctx context.Context, rec VoteRecord) (bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode vote record: %w", err)
	}
	stored, err := s.client.SetNX(ctx, s.key(rec.PollID), raw, 0).Result()
	if err != nil {
		return false, fmt.Errorf("save vote record: %w", err)
	}
	return stored, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
