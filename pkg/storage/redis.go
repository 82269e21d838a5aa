package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ngoyal88/costrelay/pkg/cache"
	"github.com/ngoyal88/costrelay/pkg/cost"
)

// KeyPrefix namespaces summary entries in Redis.
const KeyPrefix = "costsummary:"

// RedisStore implements Store on a shared Redis so that several instances
// reuse each other's upstream calls.
type RedisStore struct {
	rdb *cache.Client
	ttl time.Duration // zero keeps entries until purged
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(rdb *cache.Client, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

func redisKey(q cost.Query) string {
	sum := sha256.Sum256([]byte(q.Key()))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Lookup returns the stored summary. Undecodable entries are reported as errors.
func (s *RedisStore) Lookup(ctx context.Context, q cost.Query) (cost.Summary, bool, error) {
	data, err := s.rdb.Get(ctx, redisKey(q))
	if errors.Is(err, cache.ErrNotFound) {
		return cost.Summary{}, false, nil
	}
	if err != nil {
		return cost.Summary{}, false, fmt.Errorf("redis get: %w", err)
	}

	var summary cost.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return cost.Summary{}, false, fmt.Errorf("decode cached summary: %w", err)
	}
	return summary.Clone(), true, nil
}

func (s *RedisStore) Save(ctx context.Context, q cost.Query, summary cost.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKey(q), data, s.ttl); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Purge(ctx context.Context) (int, error) {
	return s.rdb.DeletePrefix(ctx, KeyPrefix)
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	n, err := s.rdb.CountPrefix(ctx, KeyPrefix)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Backend:    "redis",
		Entries:    n,
		TTLSeconds: s.ttl.Seconds(),
	}, nil
}

// Ping checks Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx)
}
