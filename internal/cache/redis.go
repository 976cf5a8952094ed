package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the connection settings for the shared cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// RedisStore implements Store on top of Redis
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedisStore wraps an existing client. Every operation is bounded by timeout.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration, logger zerolog.Logger) *RedisStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisStore{
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "redis_store").Logger(),
	}
}

// DialRedis connects to Redis and verifies the connection with a PING.
// Client-side retries are disabled; retry policy belongs to the caller.
func DialRedis(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	})

	store := NewRedisStore(client, timeout, logger)
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	store.logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Dur("timeout", timeout).
		Msg("redis presence store initialized")

	return store, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("del", key, err)
	}
	return nil
}

func (s *RedisStore) AddToSet(ctx context.Context, set, member string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.SAdd(ctx, set, member).Err(); err != nil {
		return unavailable("sadd", set, err)
	}
	return nil
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, set, member string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.SRem(ctx, set, member).Err(); err != nil {
		return unavailable("srem", set, err)
	}
	return nil
}

func (s *RedisStore) Members(ctx context.Context, set string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	members, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, unavailable("smembers", set, err)
	}
	return members, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
