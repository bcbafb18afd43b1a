package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTokenKey = "medivault:session:token"

// RedisTokenStore keeps the token in Redis so that several hosts running the
// client under one profile share a login.
type RedisTokenStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisTokenStore builds a Redis-backed token store. A zero ttl keeps the
// token until it is cleared.
func NewRedisTokenStore(addr, password, key string, ttl time.Duration) (*RedisTokenStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis token store requires an address")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisTokenKey
	}
	return &RedisTokenStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		key: key,
		ttl: ttl,
	}, nil
}

func (s *RedisTokenStore) Load(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, s.key, token, s.ttl).Err()
}

func (s *RedisTokenStore) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, s.key).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}
