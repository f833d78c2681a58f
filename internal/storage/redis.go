package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding all sessions
const DefaultRedisKey = "chat_sessions"

// RedisKV stores sessions as fields of a single Redis hash
type RedisKV struct {
	client *redis.Client
	key    string
}

// NewRedisKV connects to redisURL and verifies the connection.
func NewRedisKV(ctx context.Context, redisURL, key string) (*RedisKV, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisKV{client: client, key: key}, nil
}

func (r *RedisKV) All(ctx context.Context) (map[string][]byte, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	out := make(map[string][]byte, len(fields))
	for id, data := range fields {
		out[id] = []byte(data)
	}
	return out, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.HSet(ctx, r.key, key, value).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}
