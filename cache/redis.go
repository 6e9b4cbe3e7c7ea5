package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = time.Hour

// RedisStore shares named caches between service instances. Each named cache
// has a counter key holding its generation and one hash per generation
// holding the entries. Invalidation increments the counters inside one
// MULTI/EXEC, so all instances switch to empty hashes at the same instant;
// abandoned hashes expire on their own.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fishquiz:cache"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) genKey(name string) string {
	return fmt.Sprintf("%s:%s:gen", s.prefix, name)
}

func (s *RedisStore) entriesKey(name string, gen uint64) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, name, gen)
}

func (s *RedisStore) Generation(ctx context.Context, name string) (uint64, error) {
	raw, err := s.client.Get(ctx, s.genKey(name)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read generation of %s: %w", name, err)
	}
	gen, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt generation %q for %s: %w", raw, name, err)
	}
	return gen, nil
}

func (s *RedisStore) Get(ctx context.Context, name string, gen uint64, key string) ([]byte, bool, error) {
	data, err := s.client.HGet(ctx, s.entriesKey(name, gen), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s from Redis: %w", name, key, err)
	}
	return data, true, nil
}

func (s *RedisStore) Put(ctx context.Context, name string, gen uint64, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	hash := s.entriesKey(name, gen)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hash, key, value)
		pipe.Expire(ctx, hash, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store %s/%s in Redis: %w", name, key, err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range names {
			pipe.Incr(ctx, s.genKey(name))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate %v: %w", names, err)
	}
	return nil
}
