package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

const keyPrefix = "lattice:session:"

// RedisStore shares session records between replicas. Records expire after
// ttl; zero keeps them forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb, ttl: ttl}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Save(ctx context.Context, rec contracts.SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", rec.SessionID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+rec.SessionID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis history error: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (contracts.SessionRecord, error) {
	raw, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return contracts.SessionRecord{}, contracts.ErrSessionNotFound
	}
	if err != nil {
		return contracts.SessionRecord{}, fmt.Errorf("redis history error: %w", err)
	}

	var rec contracts.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return contracts.SessionRecord{}, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return rec, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }
